package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/systemshift/graphcore/internal/graph"
	"github.com/systemshift/graphcore/internal/server/subscriptions"
)

const (
	metaNextNode = "next_node_id"
	metaNextRel  = "next_rel_id"
	metaSavedAt  = "saved_at"
)

// SQLiteRepository stores graph snapshots and subscriptions in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the SQLite connection
func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

// Save replaces the stored graph with d in a single SQL transaction.
func (r *SQLiteRepository) Save(ctx context.Context, d graph.Dump) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"index_entries", "properties", "relationships", "nodes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx, `INSERT INTO nodes (id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("preparing node insert: %w", err)
	}
	defer nodeStmt.Close()

	propStmt, err := tx.PrepareContext(ctx, `INSERT INTO properties (node_id, key, kind, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing property insert: %w", err)
	}
	defer propStmt.Close()

	for _, n := range d.Nodes {
		if _, err := nodeStmt.ExecContext(ctx, int64(n.ID)); err != nil {
			return fmt.Errorf("inserting node %d: %w", n.ID, err)
		}
		for key, v := range n.Properties {
			kind, text := graph.EncodeValue(v)
			if _, err := propStmt.ExecContext(ctx, int64(n.ID), key, kind, text); err != nil {
				return fmt.Errorf("inserting property %q of node %d: %w", key, n.ID, err)
			}
		}
	}

	relStmt, err := tx.PrepareContext(ctx, `INSERT INTO relationships (id, type, source_id, target_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing relationship insert: %w", err)
	}
	defer relStmt.Close()

	for _, rel := range d.Relationships {
		if _, err := relStmt.ExecContext(ctx, int64(rel.ID), rel.Type, int64(rel.From), int64(rel.To)); err != nil {
			return fmt.Errorf("inserting relationship %d: %w", rel.ID, err)
		}
	}

	entryStmt, err := tx.PrepareContext(ctx, `INSERT INTO index_entries (index_name, key, kind, value, node_id) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing index insert: %w", err)
	}
	defer entryStmt.Close()

	for _, e := range d.IndexEntries {
		kind, text := graph.EncodeValue(e.Value)
		if _, err := entryStmt.ExecContext(ctx, e.Index, e.Key, kind, text, int64(e.Node)); err != nil {
			return fmt.Errorf("inserting index entry %s/%s: %w", e.Index, e.Key, err)
		}
	}

	meta := map[string]string{
		metaNextNode: strconv.FormatUint(uint64(d.NextNodeID), 10),
		metaNextRel:  strconv.FormatUint(uint64(d.NextRelID), 10),
		metaSavedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("writing meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Load reads the stored graph. ok is false if Save has never run.
func (r *SQLiteRepository) Load(ctx context.Context) (graph.Dump, bool, error) {
	var d graph.Dump

	meta, err := r.loadMeta(ctx)
	if err != nil {
		return d, false, err
	}
	if _, saved := meta[metaSavedAt]; !saved {
		return d, false, nil
	}
	if v, err := strconv.ParseUint(meta[metaNextNode], 10, 64); err == nil {
		d.NextNodeID = graph.NodeID(v)
	}
	if v, err := strconv.ParseUint(meta[metaNextRel], 10, 64); err == nil {
		d.NextRelID = graph.RelID(v)
	}

	if d.Nodes, err = r.loadNodes(ctx); err != nil {
		return d, false, err
	}
	if d.Relationships, err = r.loadRelationships(ctx); err != nil {
		return d, false, err
	}
	if d.IndexEntries, err = r.loadIndexEntries(ctx); err != nil {
		return d, false, err
	}
	return d, true, nil
}

func (r *SQLiteRepository) loadMeta(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("querying meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func (r *SQLiteRepository) loadNodes(ctx context.Context) ([]graph.Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT n.id, p.key, p.kind, p.value
		FROM nodes n
		LEFT JOIN properties p ON p.node_id = n.id
		ORDER BY n.id, p.key
	`)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []graph.Node
	for rows.Next() {
		var (
			id               int64
			key, kind, value sql.NullString
		)
		if err := rows.Scan(&id, &key, &kind, &value); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		if len(nodes) == 0 || nodes[len(nodes)-1].ID != graph.NodeID(id) {
			nodes = append(nodes, graph.Node{ID: graph.NodeID(id), Properties: make(map[string]graph.Value)})
		}
		if !key.Valid {
			continue
		}
		v, err := graph.DecodeValue(kind.String, value.String)
		if err != nil {
			return nil, fmt.Errorf("node %d property %q: %w", id, key.String, err)
		}
		nodes[len(nodes)-1].Properties[key.String] = v
	}
	return nodes, rows.Err()
}

func (r *SQLiteRepository) loadRelationships(ctx context.Context) ([]graph.Relationship, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, type, source_id, target_id FROM relationships ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()

	var rels []graph.Relationship
	for rows.Next() {
		var (
			id, from, to int64
			relType      string
		)
		if err := rows.Scan(&id, &relType, &from, &to); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		rels = append(rels, graph.Relationship{
			ID:   graph.RelID(id),
			Type: relType,
			From: graph.NodeID(from),
			To:   graph.NodeID(to),
		})
	}
	return rels, rows.Err()
}

func (r *SQLiteRepository) loadIndexEntries(ctx context.Context) ([]graph.IndexEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT index_name, key, kind, value, node_id
		FROM index_entries
		ORDER BY index_name, key, value, node_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying index entries: %w", err)
	}
	defer rows.Close()

	var entries []graph.IndexEntry
	for rows.Next() {
		var (
			index, key, kind, text string
			node                   int64
		)
		if err := rows.Scan(&index, &key, &kind, &text, &node); err != nil {
			return nil, fmt.Errorf("scanning index entry: %w", err)
		}
		v, err := graph.DecodeValue(kind, text)
		if err != nil {
			return nil, fmt.Errorf("index %s entry: %w", index, err)
		}
		entries = append(entries, graph.IndexEntry{Index: index, Key: key, Value: v, Node: graph.NodeID(node)})
	}
	return entries, rows.Err()
}

// SaveSubscription inserts or replaces a subscription.
func (r *SQLiteRepository) SaveSubscription(ctx context.Context, sub *subscriptions.Subscription) error {
	patternJSON, err := json.Marshal(sub.Pattern)
	if err != nil {
		return fmt.Errorf("marshaling pattern: %w", err)
	}

	var lastFired interface{}
	if sub.LastFired != nil {
		lastFired = sub.LastFired.UTC().Format(time.RFC3339Nano)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, name, description, pattern, webhook, enabled, fire_count, last_fired, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			pattern = excluded.pattern,
			webhook = excluded.webhook,
			enabled = excluded.enabled,
			fire_count = excluded.fire_count,
			last_fired = excluded.last_fired,
			modified_at = excluded.modified_at
	`,
		sub.ID,
		sub.Name,
		sub.Description,
		string(patternJSON),
		sub.Webhook,
		boolToInt(sub.Enabled),
		sub.FireCount,
		lastFired,
		sub.Created.UTC().Format(time.RFC3339Nano),
		sub.Modified.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (r *SQLiteRepository) DeleteSubscription(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", subscriptions.ErrNotFound, id)
	}
	return nil
}

// LoadSubscriptions returns every stored subscription.
func (r *SQLiteRepository) LoadSubscriptions(ctx context.Context) ([]*subscriptions.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, pattern, webhook, enabled, fire_count, last_fired, created_at, modified_at
		FROM subscriptions
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*subscriptions.Subscription
	for rows.Next() {
		var (
			sub                 subscriptions.Subscription
			description         sql.NullString
			pattern             string
			enabled             int
			lastFired           sql.NullString
			createdAt, modified string
		)
		if err := rows.Scan(&sub.ID, &sub.Name, &description, &pattern, &sub.Webhook,
			&enabled, &sub.FireCount, &lastFired, &createdAt, &modified); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		sub.Description = description.String
		sub.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(pattern), &sub.Pattern); err != nil {
			return nil, fmt.Errorf("subscription %s pattern: %w", sub.ID, err)
		}
		sub.Created = parseTime(createdAt)
		sub.Modified = parseTime(modified)
		if lastFired.Valid {
			t := parseTime(lastFired.String)
			sub.LastFired = &t
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// SavedAt reports when the last snapshot was written.
func (r *SQLiteRepository) SavedAt(ctx context.Context) (time.Time, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaSavedAt).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying saved_at: %w", err)
	}
	return parseTime(v), nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
