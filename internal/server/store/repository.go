// Package store persists graph snapshots and subscriptions outside the
// process: SQLite for local durability, Neo4j as an export target.
package store

import (
	"context"

	"github.com/systemshift/graphcore/internal/graph"
)

// Sink receives full graph snapshots.
type Sink interface {
	Save(ctx context.Context, d graph.Dump) error
	Close(ctx context.Context) error
}

// Source provides a previously saved snapshot. ok is false when nothing
// has been saved yet.
type Source interface {
	Load(ctx context.Context) (d graph.Dump, ok bool, err error)
}

// Ensure implementations satisfy the interfaces.
var (
	_ Sink   = (*SQLiteRepository)(nil)
	_ Source = (*SQLiteRepository)(nil)
	_ Sink   = (*Neo4jRepository)(nil)
)

// Restore loads the snapshot from src into db. It reports whether a
// snapshot was found.
func Restore(ctx context.Context, src Source, db *graph.DB) (bool, error) {
	d, ok, err := src.Load(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := db.Restore(ctx, d); err != nil {
		return false, err
	}
	return true, nil
}
