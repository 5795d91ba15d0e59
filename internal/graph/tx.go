package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/systemshift/graphcore/internal/server/subscriptions"
)

// DB owns the graph. Writers are serialized through a single writer slot;
// readers load the last committed state without locking.
type DB struct {
	committed atomic.Pointer[state]
	writer    chan struct{}
	logger    *slog.Logger

	mu           sync.RWMutex
	eventEmitter func(subscriptions.Event)
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for transaction lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) {
		db.logger = l
	}
}

// New creates an empty graph.
func New(opts ...Option) *DB {
	db := &DB{
		writer: make(chan struct{}, 1),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.committed.Store(newState())
	return db
}

// SetEventEmitter sets the callback that receives one event per committed
// mutation, in commit order. It runs while the writer slot is still held,
// so it must not block or begin a transaction.
func (db *DB) SetEventEmitter(emitter func(subscriptions.Event)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.eventEmitter = emitter
}

// Snapshot returns the last committed state.
func (db *DB) Snapshot() *Snapshot {
	return &Snapshot{st: db.committed.Load()}
}

// Begin opens a write transaction. It blocks while another write
// transaction is open, and returns ctx.Err() if ctx ends first.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	select {
	case db.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for write transaction: %w", ctx.Err())
	}

	tx := &Tx{
		db:         db,
		id:         uuid.New().String(),
		w:          db.committed.Load().clone(),
		ownNodes:   make(map[NodeID]struct{}),
		ownEntries: make(map[entryKey]struct{}),
	}
	db.logger.Debug("transaction started", "tx", tx.id)
	return tx, nil
}

// Update runs fn inside a write transaction. The transaction commits when
// fn returns nil and rolls back when fn returns an error or panics; a panic
// is re-raised after the rollback. fn must not commit or roll back tx.
func (db *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Restore replaces the whole graph with the contents of d in one commit.
// No events are emitted.
func (db *DB) Restore(ctx context.Context, d Dump) error {
	st, err := d.build()
	if err != nil {
		return fmt.Errorf("restoring graph: %w", err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	tx.mu.Lock()
	tx.w = st
	tx.mu.Unlock()
	return tx.Commit()
}

type txStatus int

const (
	txOpen txStatus = iota
	txCommitted
	txRolledBack
)

func (s txStatus) String() string {
	switch s {
	case txCommitted:
		return "committed"
	case txRolledBack:
		return "rolled back"
	default:
		return "open"
	}
}

// Tx is a write transaction. Its changes are visible through its own read
// methods and become visible to everyone else only after Commit.
//
// Any failed mutation rolls the transaction back; later calls return
// ErrNoActiveTransaction.
type Tx struct {
	db *DB
	id string

	mu         sync.Mutex
	status     txStatus
	w          *state
	ownNodes   map[NodeID]struct{}
	ownEntries map[entryKey]struct{}
	log        []change
}

// ID returns the transaction id carried on its commit events.
func (tx *Tx) ID() string {
	return tx.id
}

// Commit publishes the transaction's changes atomically.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	if err := tx.checkOpen(); err != nil {
		tx.mu.Unlock()
		return err
	}
	tx.db.committed.Store(tx.w)
	tx.status = txCommitted
	changes := tx.log
	tx.discard()
	tx.mu.Unlock()

	// Events go out before the writer slot is freed so the next
	// transaction's events cannot interleave with these.
	tx.db.logger.Debug("transaction committed", "tx", tx.id, "changes", len(changes))
	tx.db.emitChanges(tx.id, changes)
	<-tx.db.writer
	return nil
}

// Rollback discards the transaction's changes.
func (tx *Tx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.abort()
	return nil
}

func (tx *Tx) checkOpen() error {
	if tx.status != txOpen {
		return fmt.Errorf("transaction %s is %s: %w", tx.id, tx.status, ErrNoActiveTransaction)
	}
	return nil
}

// abort rolls back an open transaction. Callers hold tx.mu.
func (tx *Tx) abort() {
	tx.status = txRolledBack
	tx.release()
	tx.db.logger.Debug("transaction rolled back", "tx", tx.id)
}

// fail aborts the transaction and returns err.
func (tx *Tx) fail(err error) error {
	tx.abort()
	return err
}

func (tx *Tx) release() {
	tx.discard()
	<-tx.db.writer
}

func (tx *Tx) discard() {
	tx.w = nil
	tx.ownNodes = nil
	tx.ownEntries = nil
	tx.log = nil
}

// mutableNode returns a record of node id owned by the transaction.
func (tx *Tx) mutableNode(id NodeID) (*nodeRecord, error) {
	rec, ok := tx.w.nodes[id]
	if !ok {
		return nil, nodeNotFound(id)
	}
	if _, owned := tx.ownNodes[id]; !owned {
		rec = rec.clone()
		tx.w.nodes[id] = rec
		tx.ownNodes[id] = struct{}{}
	}
	return rec, nil
}

// CreateNode allocates a new node without properties.
func (tx *Tx) CreateNode() (NodeID, error) {
	return tx.CreateNodeWithProperties(nil)
}

// CreateNodeWithProperties allocates a new node carrying props.
func (tx *Tx) CreateNodeWithProperties(props map[string]any) (NodeID, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return 0, err
	}

	rec := newNodeRecord()
	for k, raw := range props {
		v, err := NormalizeValue(raw)
		if err != nil {
			return 0, tx.fail(fmt.Errorf("property %q: %w", k, err))
		}
		rec.props[k] = v
	}

	id := tx.w.nextNode
	tx.w.nextNode++
	tx.w.nodes[id] = rec
	tx.ownNodes[id] = struct{}{}

	tx.record(change{op: opNodeCreated, node: id})
	for _, k := range sortedKeys(rec.props) {
		tx.record(change{op: opPropertySet, node: id, key: k, value: rec.props[k]})
	}
	return id, nil
}

// SetProperty sets key on node id, replacing any previous value.
func (tx *Tx) SetProperty(id NodeID, key string, value any) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return err
	}
	v, err := NormalizeValue(value)
	if err != nil {
		return tx.fail(fmt.Errorf("property %q: %w", key, err))
	}
	rec, err := tx.mutableNode(id)
	if err != nil {
		return tx.fail(err)
	}
	rec.props[key] = v

	tx.record(change{op: opPropertySet, node: id, key: key, value: v})
	return nil
}

// RemoveProperty deletes key from node id. Removing an absent key is a
// no-op.
func (tx *Tx) RemoveProperty(id NodeID, key string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return err
	}
	cur, ok := tx.w.nodes[id]
	if !ok {
		return tx.fail(nodeNotFound(id))
	}
	if _, has := cur.props[key]; !has {
		return nil
	}
	rec, _ := tx.mutableNode(id)
	delete(rec.props, key)

	tx.record(change{op: opPropertyRemoved, node: id, key: key})
	return nil
}

// CreateRelationship adds a relationship of relType from one node to
// another. Both nodes must exist and relType must not be empty.
func (tx *Tx) CreateRelationship(from, to NodeID, relType string) (RelID, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	if relType == "" {
		return 0, tx.fail(ErrEmptyRelationshipType)
	}
	if _, ok := tx.w.nodes[from]; !ok {
		return 0, tx.fail(nodeNotFound(from))
	}
	if _, ok := tx.w.nodes[to]; !ok {
		return 0, tx.fail(nodeNotFound(to))
	}

	id := tx.w.nextRel
	tx.w.nextRel++
	tx.w.rels[id] = &Relationship{ID: id, Type: relType, From: from, To: to}

	src, _ := tx.mutableNode(from)
	src.out[id] = struct{}{}
	dst, _ := tx.mutableNode(to)
	dst.in[id] = struct{}{}

	tx.record(change{op: opLinkCreated, rel: id, from: from, to: to, relType: relType})
	return id, nil
}

// DeleteRelationship removes relationship id.
func (tx *Tx) DeleteRelationship(id RelID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return err
	}
	if _, ok := tx.w.rels[id]; !ok {
		return tx.fail(relNotFound(id))
	}
	tx.deleteRel(id)
	return nil
}

func (tx *Tx) deleteRel(id RelID) {
	rel := tx.w.rels[id]
	if src, err := tx.mutableNode(rel.From); err == nil {
		delete(src.out, id)
	}
	if dst, err := tx.mutableNode(rel.To); err == nil {
		delete(dst.in, id)
	}
	delete(tx.w.rels, id)

	tx.record(change{op: opLinkDeleted, rel: id, from: rel.From, to: rel.To, relType: rel.Type})
}

// DeleteNode removes node id together with every relationship that starts
// or ends at it and every index entry it is filed under. Deleting a node
// that does not exist fails with ErrNotFound.
func (tx *Tx) DeleteNode(id NodeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return err
	}
	rec, err := tx.mutableNode(id)
	if err != nil {
		return tx.fail(err)
	}

	rels := make([]RelID, 0, len(rec.out)+len(rec.in))
	for rid := range rec.out {
		rels = append(rels, rid)
	}
	for rid := range rec.in {
		if _, loop := rec.out[rid]; !loop {
			rels = append(rels, rid)
		}
	}
	sortRelIDs(rels)
	for _, rid := range rels {
		tx.deleteRel(rid)
	}

	for k := range rec.entries {
		tx.unfile(k, id)
	}

	delete(tx.w.nodes, id)
	delete(tx.ownNodes, id)
	tx.record(change{op: opNodeDeleted, node: id})
	return nil
}

// Node returns the node as seen by the transaction.
func (tx *Tx) Node(id NodeID) (Node, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return Node{}, err
	}
	n, ok := tx.w.node(id)
	if !ok {
		return Node{}, nodeNotFound(id)
	}
	return n, nil
}

// Property returns the value of key on node id as seen by the transaction.
func (tx *Tx) Property(id NodeID, key string) (Value, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.w == nil {
		return nil, false
	}
	return tx.w.property(id, key)
}

// Relationships returns the relationships of node id as seen by the
// transaction.
func (tx *Tx) Relationships(id NodeID, dir Direction, relType string) []Relationship {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.w == nil {
		return nil
	}
	return tx.w.relationshipsOf(id, dir, relType)
}
