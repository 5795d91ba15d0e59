package graph

import (
	"context"
	"errors"
	"fmt"
)

// Projection selects what a query returns.
type Projection int

const (
	// ReturnStart returns the start nodes, restricted to those with at
	// least one matching relationship when the query has a hop.
	ReturnStart Projection = iota
	// ReturnTarget returns the nodes reached by the hop.
	ReturnTarget
	// ReturnCount returns the number of matching relationships, or the
	// number of start nodes when the query has no hop.
	ReturnCount
)

func (p Projection) String() string {
	switch p {
	case ReturnTarget:
		return "target"
	case ReturnCount:
		return "count"
	default:
		return "start"
	}
}

// Predicate is an exact-match property filter.
type Predicate struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Hop follows relationships of one type (any type if Type is empty) from
// each start node.
type Hop struct {
	Type      string    `json:"type,omitempty"`
	Direction Direction `json:"direction"`
}

// Query is a pattern match: an indexed start set, optional property
// filters, an optional single hop and a projection.
type Query struct {
	Index  string      `json:"index"`
	Key    string      `json:"key"`
	Value  Value       `json:"value"`
	Where  []Predicate `json:"where,omitempty"`
	Hop    *Hop        `json:"hop,omitempty"`
	Return Projection  `json:"return"`
	Column string      `json:"column,omitempty"`
}

// ErrInvalidQuery is returned for query descriptors that cannot be
// evaluated at all. References that resolve to nothing are not errors.
var ErrInvalidQuery = errors.New("invalid query")

// Validate checks the shape of the query.
func (q Query) Validate() error {
	if q.Return < ReturnStart || q.Return > ReturnCount {
		return fmt.Errorf("%w: unknown projection %d", ErrInvalidQuery, q.Return)
	}
	if q.Return == ReturnTarget && q.Hop == nil {
		return fmt.Errorf("%w: returning targets requires a relationship hop", ErrInvalidQuery)
	}
	if q.Hop != nil && (q.Hop.Direction < Outgoing || q.Hop.Direction > Both) {
		return fmt.Errorf("%w: unknown direction %d", ErrInvalidQuery, q.Hop.Direction)
	}
	if _, err := NormalizeValue(q.Value); err != nil {
		return fmt.Errorf("%w: start value: %v", ErrInvalidQuery, err)
	}
	for _, p := range q.Where {
		if _, err := NormalizeValue(p.Value); err != nil {
			return fmt.Errorf("%w: filter on %q: %v", ErrInvalidQuery, p.Key, err)
		}
	}
	return nil
}

func (q Query) column() string {
	if q.Column != "" {
		return q.Column
	}
	if q.Return == ReturnCount {
		return "count"
	}
	return "n"
}

// ResultSet is the result of a query: either a node set or a count, under
// a single named column.
type ResultSet struct {
	column    string
	nodes     []Node
	count     int64
	aggregate bool
}

// Columns returns the column names.
func (r *ResultSet) Columns() []string {
	return []string{r.column}
}

// Nodes returns the returned nodes in identity order. It is empty for
// count results.
func (r *ResultSet) Nodes() []Node {
	return r.nodes
}

// Count returns the aggregate value and whether the result is an
// aggregate.
func (r *ResultSet) Count() (int64, bool) {
	return r.count, r.aggregate
}

// Len returns the number of rows.
func (r *ResultSet) Len() int {
	if r.aggregate {
		return 1
	}
	return len(r.nodes)
}

// Column returns the values of the named column: Node values for node
// results, a single int64 for counts.
func (r *ResultSet) Column(name string) ([]any, bool) {
	if name != r.column {
		return nil, false
	}
	if r.aggregate {
		return []any{r.count}, true
	}
	out := make([]any, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n
	}
	return out, true
}

// Rows renders the result as one map per row, keyed by column.
func (r *ResultSet) Rows() []map[string]interface{} {
	if r.aggregate {
		return []map[string]interface{}{{r.column: r.count}}
	}
	rows := make([]map[string]interface{}, 0, len(r.nodes))
	for _, n := range r.nodes {
		rows = append(rows, map[string]interface{}{
			r.column: map[string]interface{}{"id": n.ID, "properties": n.Properties},
		})
	}
	return rows
}

// Execute runs q against the last committed state.
func (db *DB) Execute(ctx context.Context, q Query) (*ResultSet, error) {
	return db.Snapshot().Execute(ctx, q)
}

// ExecuteText parses a query in the supported text form and runs it
// against the last committed state.
func (db *DB) ExecuteText(ctx context.Context, text string) (*ResultSet, error) {
	q, err := ParseQuery(text)
	if err != nil {
		return nil, err
	}
	return db.Execute(ctx, q)
}

// QueryRows runs a text query and returns its rows.
func (db *DB) QueryRows(ctx context.Context, text string) ([]map[string]interface{}, error) {
	rs, err := db.ExecuteText(ctx, text)
	if err != nil {
		return nil, err
	}
	return rs.Rows(), nil
}

// Execute runs q against the snapshot.
func (s *Snapshot) Execute(ctx context.Context, q Query) (*ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return execute(s.st, q), nil
}

// Execute runs q against the transaction's view, including its own
// uncommitted changes.
func (tx *Tx) Execute(ctx context.Context, q Query) (*ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	return execute(tx.w, q), nil
}

// execute evaluates a validated query: start set through the index, then
// filters, then the hop, then the projection.
func execute(st *state, q Query) *ResultSet {
	rs := &ResultSet{column: q.column(), nodes: []Node{}, aggregate: q.Return == ReturnCount}

	var start []NodeID
	for _, id := range st.lookup(q.Index, q.Key, q.Value) {
		rec, ok := st.nodes[id]
		if !ok {
			panic(fmt.Sprintf("graph: index %q refers to deleted node %d", q.Index, id))
		}
		if matches(rec, q.Where) {
			start = append(start, id)
		}
	}

	if q.Hop == nil {
		if rs.aggregate {
			rs.count = int64(len(start))
			return rs
		}
		for _, id := range start {
			n, _ := st.node(id)
			rs.nodes = append(rs.nodes, n)
		}
		return rs
	}

	seen := make(map[NodeID]struct{})
	var picked []NodeID
	pick := func(id NodeID) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		picked = append(picked, id)
	}

	for _, id := range start {
		rels := st.relationshipsOf(id, q.Hop.Direction, q.Hop.Type)
		switch q.Return {
		case ReturnCount:
			rs.count += int64(len(rels))
		case ReturnStart:
			if len(rels) > 0 {
				pick(id)
			}
		case ReturnTarget:
			for _, rel := range rels {
				pick(otherEnd(rel, id))
			}
		}
	}

	if rs.aggregate {
		return rs
	}
	sortNodeIDs(picked)
	for _, id := range picked {
		n, _ := st.node(id)
		rs.nodes = append(rs.nodes, n)
	}
	return rs
}

func matches(rec *nodeRecord, where []Predicate) bool {
	for _, p := range where {
		v, ok := rec.props[p.Key]
		if !ok {
			return false
		}
		want, _ := NormalizeValue(p.Value)
		if !ValuesEqual(v, want) {
			return false
		}
	}
	return true
}

func otherEnd(rel Relationship, from NodeID) NodeID {
	if rel.From == from {
		return rel.To
	}
	return rel.From
}
