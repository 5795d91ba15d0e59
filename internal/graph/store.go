package graph

// nodeRecord is the stored form of a node. Records reachable from a
// committed state are never modified; a transaction clones a record before
// its first write to it.
type nodeRecord struct {
	props   map[string]Value
	out     map[RelID]struct{}
	in      map[RelID]struct{}
	entries map[entryKey]struct{}
}

func newNodeRecord() *nodeRecord {
	return &nodeRecord{
		props:   make(map[string]Value),
		out:     make(map[RelID]struct{}),
		in:      make(map[RelID]struct{}),
		entries: make(map[entryKey]struct{}),
	}
}

func (r *nodeRecord) clone() *nodeRecord {
	c := &nodeRecord{
		props:   make(map[string]Value, len(r.props)),
		out:     make(map[RelID]struct{}, len(r.out)),
		in:      make(map[RelID]struct{}, len(r.in)),
		entries: make(map[entryKey]struct{}, len(r.entries)),
	}
	for k, v := range r.props {
		c.props[k] = v
	}
	for id := range r.out {
		c.out[id] = struct{}{}
	}
	for id := range r.in {
		c.in[id] = struct{}{}
	}
	for k := range r.entries {
		c.entries[k] = struct{}{}
	}
	return c
}

// state is one version of the whole graph: nodes, relationships and
// index entries.
type state struct {
	nodes    map[NodeID]*nodeRecord
	rels     map[RelID]*Relationship
	index    map[entryKey]*indexEntry
	nextNode NodeID
	nextRel  RelID
}

func newState() *state {
	return &state{
		nodes:    make(map[NodeID]*nodeRecord),
		rels:     make(map[RelID]*Relationship),
		index:    make(map[entryKey]*indexEntry),
		nextNode: 1,
		nextRel:  1,
	}
}

// clone copies the top-level maps only; records are shared until written.
func (s *state) clone() *state {
	c := &state{
		nodes:    make(map[NodeID]*nodeRecord, len(s.nodes)),
		rels:     make(map[RelID]*Relationship, len(s.rels)),
		index:    make(map[entryKey]*indexEntry, len(s.index)),
		nextNode: s.nextNode,
		nextRel:  s.nextRel,
	}
	for id, rec := range s.nodes {
		c.nodes[id] = rec
	}
	for id, rel := range s.rels {
		c.rels[id] = rel
	}
	for k, e := range s.index {
		c.index[k] = e
	}
	return c
}

func (s *state) node(id NodeID) (Node, bool) {
	rec, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	props := make(map[string]Value, len(rec.props))
	for k, v := range rec.props {
		props[k] = v
	}
	return Node{ID: id, Properties: props}, true
}

func (s *state) property(id NodeID, key string) (Value, bool) {
	rec, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	v, ok := rec.props[key]
	return v, ok
}

// relationshipsOf returns the relationships of id in the given direction,
// restricted to relType unless it is empty, ordered by id.
func (s *state) relationshipsOf(id NodeID, dir Direction, relType string) []Relationship {
	rec, ok := s.nodes[id]
	if !ok {
		return nil
	}
	var ids []RelID
	if dir == Outgoing || dir == Both {
		for rid := range rec.out {
			ids = append(ids, rid)
		}
	}
	if dir == Incoming || dir == Both {
		for rid := range rec.in {
			// a self loop is already listed as outgoing
			if _, dup := rec.out[rid]; dup && dir == Both {
				continue
			}
			ids = append(ids, rid)
		}
	}
	sortRelIDs(ids)

	rels := make([]Relationship, 0, len(ids))
	for _, rid := range ids {
		rel := s.rels[rid]
		if relType != "" && rel.Type != relType {
			continue
		}
		rels = append(rels, *rel)
	}
	return rels
}

// Snapshot is an immutable view of the graph as of one commit.
type Snapshot struct {
	st *state
}

// Node returns a copy of the node with the given id.
func (s *Snapshot) Node(id NodeID) (Node, error) {
	n, ok := s.st.node(id)
	if !ok {
		return Node{}, nodeNotFound(id)
	}
	return n, nil
}

// Property returns the value of key on node id.
func (s *Snapshot) Property(id NodeID, key string) (Value, bool) {
	return s.st.property(id, key)
}

// Relationship returns the relationship with the given id.
func (s *Snapshot) Relationship(id RelID) (Relationship, error) {
	rel, ok := s.st.rels[id]
	if !ok {
		return Relationship{}, relNotFound(id)
	}
	return *rel, nil
}

// Relationships returns the relationships of node id. An empty relType
// matches every type.
func (s *Snapshot) Relationships(id NodeID, dir Direction, relType string) []Relationship {
	return s.st.relationshipsOf(id, dir, relType)
}

// Lookup returns the nodes filed under (index, key, value).
func (s *Snapshot) Lookup(index, key string, value Value) []NodeID {
	return s.st.lookup(index, key, value)
}

// NodeCount returns the number of nodes.
func (s *Snapshot) NodeCount() int {
	return len(s.st.nodes)
}

// RelationshipCount returns the number of relationships.
func (s *Snapshot) RelationshipCount() int {
	return len(s.st.rels)
}
