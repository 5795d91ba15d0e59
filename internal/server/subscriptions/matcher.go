package subscriptions

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// QueryRunner runs a read-only graph query and returns its rows.
type QueryRunner interface {
	QueryRows(ctx context.Context, query string) ([]map[string]interface{}, error)
}

// Matcher evaluates events against subscription patterns
type Matcher struct {
	runner QueryRunner
	logger *slog.Logger
}

// NewMatcher creates a new pattern matcher
func NewMatcher(runner QueryRunner, logger *slog.Logger) *Matcher {
	return &Matcher{runner: runner, logger: logger}
}

// Match evaluates if an event matches a subscription pattern.
// Returns (matched, queryResults).
func (m *Matcher) Match(ctx context.Context, event Event, pattern SubscriptionPattern) (bool, []map[string]interface{}) {
	if !matchSimple(event, pattern) {
		return false, nil
	}
	if pattern.Query == "" {
		return true, nil
	}
	if m.runner == nil {
		return false, nil
	}

	rows, err := m.runner.QueryRows(ctx, pattern.Query)
	if err != nil {
		m.logger.Warn("subscription query failed", "query", pattern.Query, "error", err)
		return false, nil
	}
	if len(rows) == 0 || isZeroCount(rows) {
		return false, nil
	}
	return true, rows
}

// matchSimple evaluates the event-only criteria.
func matchSimple(event Event, pattern SubscriptionPattern) bool {
	if len(pattern.EventTypes) > 0 && !contains(pattern.EventTypes, event.Type) {
		return false
	}
	if len(pattern.LinkTypes) > 0 && event.LinkType != "" && !contains(pattern.LinkTypes, event.LinkType) {
		return false
	}
	if len(pattern.Indexes) > 0 && event.Index != "" && !contains(pattern.Indexes, event.Index) {
		return false
	}

	if len(pattern.MetaMatch) > 0 {
		if event.Meta == nil {
			return false
		}
		for key, expected := range pattern.MetaMatch {
			actual, exists := event.Meta[key]
			if !exists || !matchValue(expected, actual) {
				return false
			}
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// isZeroCount reports whether rows is a single aggregate row holding 0.
func isZeroCount(rows []map[string]interface{}) bool {
	if len(rows) != 1 || len(rows[0]) != 1 {
		return false
	}
	for _, v := range rows[0] {
		if n, ok := toFloat64(v); ok {
			return n == 0
		}
	}
	return false
}

// matchValue compares expected and actual values with type flexibility
func matchValue(expected, actual interface{}) bool {
	if expected == actual {
		return true
	}

	expectedStr, ok1 := expected.(string)
	actualStr, ok2 := actual.(string)
	if ok1 && ok2 {
		return strings.EqualFold(expectedStr, actualStr)
	}

	expectedNum, ok1 := toFloat64(expected)
	actualNum, ok2 := toFloat64(actual)
	if ok1 && ok2 {
		return expectedNum == actualNum
	}
	return false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
