package graph

import "sort"

// entryKey addresses one index entry. value is the indexValueKey form of
// the filed value.
type entryKey struct {
	index string
	key   string
	value string
}

// indexEntry is the set of nodes filed under one (index, key, value)
// triple. Entries reachable from a committed state are never modified.
type indexEntry struct {
	value Value
	nodes map[NodeID]struct{}
}

func (e *indexEntry) clone() *indexEntry {
	c := &indexEntry{value: e.value, nodes: make(map[NodeID]struct{}, len(e.nodes))}
	for id := range e.nodes {
		c.nodes[id] = struct{}{}
	}
	return c
}

func makeEntryKey(index, key string, value Value) entryKey {
	return entryKey{index: index, key: key, value: indexValueKey(value)}
}

func (s *state) lookup(index, key string, value Value) []NodeID {
	v, err := NormalizeValue(value)
	if err != nil {
		return []NodeID{}
	}
	e, ok := s.index[makeEntryKey(index, key, v)]
	if !ok {
		return []NodeID{}
	}
	ids := make([]NodeID, 0, len(e.nodes))
	for id := range e.nodes {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)
	return ids
}

// mutableEntry returns an entry owned by the transaction, creating it
// when create is set. It returns nil if the entry does not exist and
// create is false.
func (tx *Tx) mutableEntry(k entryKey, value Value, create bool) *indexEntry {
	e, ok := tx.w.index[k]
	if !ok {
		if !create {
			return nil
		}
		e = &indexEntry{value: value, nodes: make(map[NodeID]struct{})}
		tx.w.index[k] = e
		tx.ownEntries[k] = struct{}{}
		return e
	}
	if _, owned := tx.ownEntries[k]; !owned {
		e = e.clone()
		tx.w.index[k] = e
		tx.ownEntries[k] = struct{}{}
	}
	return e
}

// unfile removes id from the entry under k, dropping the entry once empty.
func (tx *Tx) unfile(k entryKey, id NodeID) bool {
	cur, ok := tx.w.index[k]
	if !ok {
		return false
	}
	if _, filed := cur.nodes[id]; !filed {
		return false
	}
	e := tx.mutableEntry(k, nil, false)
	delete(e.nodes, id)
	if len(e.nodes) == 0 {
		delete(tx.w.index, k)
		delete(tx.ownEntries, k)
	}
	return true
}

// IndexAdd files node id under (index, key, value). Adding the same triple
// twice is a no-op. The node must exist.
func (tx *Tx) IndexAdd(index, key string, value any, id NodeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return err
	}
	v, err := NormalizeValue(value)
	if err != nil {
		return tx.fail(err)
	}
	if _, ok := tx.w.nodes[id]; !ok {
		return tx.fail(nodeNotFound(id))
	}

	k := makeEntryKey(index, key, v)
	if cur, ok := tx.w.index[k]; ok {
		if _, filed := cur.nodes[id]; filed {
			return nil
		}
	}
	e := tx.mutableEntry(k, v, true)
	e.nodes[id] = struct{}{}
	rec, _ := tx.mutableNode(id)
	rec.entries[k] = struct{}{}

	tx.record(change{op: opIndexAdded, node: id, index: index, key: key, value: v})
	return nil
}

// IndexRemove unfiles node id from (index, key, value). It is a no-op when
// the node is not filed there.
func (tx *Tx) IndexRemove(index, key string, value any, id NodeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return err
	}
	v, err := NormalizeValue(value)
	if err != nil {
		return tx.fail(err)
	}

	k := makeEntryKey(index, key, v)
	if !tx.unfile(k, id) {
		return nil
	}
	if rec, err := tx.mutableNode(id); err == nil {
		delete(rec.entries, k)
	}
	tx.record(change{op: opIndexRemoved, node: id, index: index, key: key, value: v})
	return nil
}

// IndexRemoveNode unfiles node id from every entry of index under key, or
// under any key when key is empty.
func (tx *Tx) IndexRemoveNode(index, key string, id NodeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkOpen(); err != nil {
		return err
	}
	rec, ok := tx.w.nodes[id]
	if !ok {
		return nil
	}

	var keys []entryKey
	for k := range rec.entries {
		if k.index == index && (key == "" || k.key == key) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].key != keys[j].key {
			return keys[i].key < keys[j].key
		}
		return keys[i].value < keys[j].value
	})

	mrec, _ := tx.mutableNode(id)
	for _, k := range keys {
		value := tx.w.index[k].value
		tx.unfile(k, id)
		delete(mrec.entries, k)
		tx.record(change{op: opIndexRemoved, node: id, index: k.index, key: k.key, value: value})
	}
	return nil
}

// Lookup returns the nodes filed under (index, key, value) as seen by the
// transaction, including its own uncommitted changes.
func (tx *Tx) Lookup(index, key string, value any) []NodeID {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.w == nil {
		return []NodeID{}
	}
	return tx.w.lookup(index, key, value)
}
