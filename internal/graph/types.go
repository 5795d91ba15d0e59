// Package graph is an in-memory property graph with single-writer
// transactions, property indexes and a small pattern-match query executor.
//
// All mutation happens through a *Tx obtained from DB.Begin or DB.Update.
// Readers work on the last committed state and never observe a
// transaction that has not committed.
package graph

import (
	"errors"
	"fmt"
	"sort"
)

// NodeID identifies a node. Identities are never reused.
type NodeID uint64

// RelID identifies a relationship. Identities are never reused.
type RelID uint64

var (
	// ErrNotFound is returned when an operation references a node or
	// relationship that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoActiveTransaction is returned when a mutation is attempted on a
	// transaction that has already committed or rolled back.
	ErrNoActiveTransaction = errors.New("no active transaction")

	// ErrUnsupportedValue is returned for property values that are not
	// text, numbers or booleans.
	ErrUnsupportedValue = errors.New("unsupported property value")

	// ErrEmptyRelationshipType is returned when a relationship is created
	// without a type.
	ErrEmptyRelationshipType = errors.New("relationship type is required")
)

// Node is a read-only copy of a node as seen by a snapshot or transaction.
type Node struct {
	ID         NodeID           `json:"id"`
	Properties map[string]Value `json:"properties"`
}

// Property returns the value stored under key.
func (n Node) Property(key string) (Value, bool) {
	v, ok := n.Properties[key]
	return v, ok
}

// Relationship is a typed, directed edge between two nodes.
type Relationship struct {
	ID   RelID  `json:"id"`
	Type string `json:"type"`
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// Direction selects which relationships of a node a hop follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

func (d Direction) String() string {
	switch d {
	case Incoming:
		return "incoming"
	case Both:
		return "both"
	default:
		return "outgoing"
	}
}

func sortNodeIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortRelIDs(ids []RelID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func nodeNotFound(id NodeID) error {
	return fmt.Errorf("node %d: %w", id, ErrNotFound)
}

func relNotFound(id RelID) error {
	return fmt.Errorf("relationship %d: %w", id, ErrNotFound)
}
