package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is a property value. Stored values are always one of string,
// int64, float64 or bool.
type Value = any

// Value kinds used when a value has to be written as text.
const (
	KindString = "string"
	KindInt    = "int"
	KindFloat  = "float"
	KindBool   = "bool"
)

// NormalizeValue converts v to one of the stored value types.
func NormalizeValue(v any) (Value, error) {
	switch n := v.(type) {
	case string, int64, float64, bool:
		return n, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float32:
		return float64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedValue, n.String())
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// ValuesEqual reports whether two stored values are equal. Numbers compare
// by numeric value regardless of int/float representation; two ints are
// compared exactly.
func ValuesEqual(a, b Value) bool {
	if a == b {
		return true
	}
	switch x := a.(type) {
	case int64:
		if f, ok := b.(float64); ok {
			i, integral := floatToInt(f)
			return integral && i == x
		}
	case float64:
		switch y := b.(type) {
		case int64:
			i, integral := floatToInt(x)
			return integral && i == y
		case float64:
			return x == y
		}
	}
	return false
}

// floatToInt converts f to int64 when it is integral and in range.
func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

// EncodeValue renders a stored value as a (kind, text) pair.
func EncodeValue(v Value) (kind string, text string) {
	switch n := v.(type) {
	case string:
		return KindString, n
	case int64:
		return KindInt, strconv.FormatInt(n, 10)
	case float64:
		return KindFloat, strconv.FormatFloat(n, 'g', -1, 64)
	case bool:
		return KindBool, strconv.FormatBool(n)
	default:
		return KindString, fmt.Sprint(n)
	}
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(kind, text string) (Value, error) {
	switch kind {
	case KindString:
		return text, nil
	case KindInt:
		return strconv.ParseInt(text, 10, 64)
	case KindFloat:
		return strconv.ParseFloat(text, 64)
	case KindBool:
		return strconv.ParseBool(text)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedValue, kind)
	}
}

// indexValueKey is the map key a value is filed under. Integral floats
// share a key with the equal int so lookups agree with ValuesEqual.
func indexValueKey(v Value) string {
	if f, ok := v.(float64); ok {
		if i, integral := floatToInt(f); integral {
			v = i
		}
	}
	kind, text := EncodeValue(v)
	if kind == KindFloat || kind == KindInt {
		kind = "num"
	}
	return kind + ":" + text
}
