package graph

import (
	"fmt"
	"sort"
)

// IndexEntry is one node filed under an (index, key, value) triple.
type IndexEntry struct {
	Index string `json:"index"`
	Key   string `json:"key"`
	Value Value  `json:"value"`
	Node  NodeID `json:"node"`
}

// Dump is a full copy of a committed graph, ordered by identity.
type Dump struct {
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
	IndexEntries  []IndexEntry   `json:"index_entries"`
	NextNodeID    NodeID         `json:"next_node_id"`
	NextRelID     RelID          `json:"next_rel_id"`
}

// Dump copies the snapshot.
func (s *Snapshot) Dump() Dump {
	d := Dump{
		Nodes:         make([]Node, 0, len(s.st.nodes)),
		Relationships: make([]Relationship, 0, len(s.st.rels)),
		NextNodeID:    s.st.nextNode,
		NextRelID:     s.st.nextRel,
	}

	ids := make([]NodeID, 0, len(s.st.nodes))
	for id := range s.st.nodes {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)
	for _, id := range ids {
		n, _ := s.st.node(id)
		d.Nodes = append(d.Nodes, n)
	}

	rids := make([]RelID, 0, len(s.st.rels))
	for id := range s.st.rels {
		rids = append(rids, id)
	}
	sortRelIDs(rids)
	for _, id := range rids {
		d.Relationships = append(d.Relationships, *s.st.rels[id])
	}

	for k, e := range s.st.index {
		for id := range e.nodes {
			d.IndexEntries = append(d.IndexEntries, IndexEntry{Index: k.index, Key: k.key, Value: e.value, Node: id})
		}
	}
	sort.Slice(d.IndexEntries, func(i, j int) bool {
		a, b := d.IndexEntries[i], d.IndexEntries[j]
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if av, bv := indexValueKey(a.Value), indexValueKey(b.Value); av != bv {
			return av < bv
		}
		return a.Node < b.Node
	})
	return d
}

// build turns a dump into a fresh state, checking that every relationship
// and index entry refers to a node in the dump.
func (d Dump) build() (*state, error) {
	st := newState()

	for _, n := range d.Nodes {
		if _, dup := st.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node %d", n.ID)
		}
		rec := newNodeRecord()
		for k, raw := range n.Properties {
			v, err := NormalizeValue(raw)
			if err != nil {
				return nil, fmt.Errorf("node %d property %q: %w", n.ID, k, err)
			}
			rec.props[k] = v
		}
		st.nodes[n.ID] = rec
		if n.ID >= st.nextNode {
			st.nextNode = n.ID + 1
		}
	}

	for _, r := range d.Relationships {
		if r.Type == "" {
			return nil, fmt.Errorf("relationship %d: %w", r.ID, ErrEmptyRelationshipType)
		}
		src, ok := st.nodes[r.From]
		if !ok {
			return nil, fmt.Errorf("relationship %d source: %w", r.ID, nodeNotFound(r.From))
		}
		dst, ok := st.nodes[r.To]
		if !ok {
			return nil, fmt.Errorf("relationship %d target: %w", r.ID, nodeNotFound(r.To))
		}
		rel := r
		st.rels[r.ID] = &rel
		src.out[r.ID] = struct{}{}
		dst.in[r.ID] = struct{}{}
		if r.ID >= st.nextRel {
			st.nextRel = r.ID + 1
		}
	}

	for _, e := range d.IndexEntries {
		rec, ok := st.nodes[e.Node]
		if !ok {
			return nil, fmt.Errorf("index %s entry: %w", e.Index, nodeNotFound(e.Node))
		}
		v, err := NormalizeValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("index %s entry: %w", e.Index, err)
		}
		k := makeEntryKey(e.Index, e.Key, v)
		entry, ok := st.index[k]
		if !ok {
			entry = &indexEntry{value: v, nodes: make(map[NodeID]struct{})}
			st.index[k] = entry
		}
		entry.nodes[e.Node] = struct{}{}
		rec.entries[k] = struct{}{}
	}

	if d.NextNodeID > st.nextNode {
		st.nextNode = d.NextNodeID
	}
	if d.NextRelID > st.nextRel {
		st.nextRel = d.NextRelID
	}
	return st, nil
}
