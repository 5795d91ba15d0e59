package graph

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/systemshift/graphcore/internal/server/subscriptions"
)

const (
	opNodeCreated     = subscriptions.EventNodeCreated
	opNodeDeleted     = subscriptions.EventNodeDeleted
	opPropertySet     = subscriptions.EventPropertySet
	opPropertyRemoved = subscriptions.EventPropertyRemoved
	opLinkCreated     = subscriptions.EventLinkCreated
	opLinkDeleted     = subscriptions.EventLinkDeleted
	opIndexAdded      = subscriptions.EventIndexAdded
	opIndexRemoved    = subscriptions.EventIndexRemoved
)

// change is one applied mutation in a transaction's log.
type change struct {
	op      string
	node    NodeID
	rel     RelID
	from    NodeID
	to      NodeID
	relType string
	index   string
	key     string
	value   Value
}

func (tx *Tx) record(c change) {
	tx.log = append(tx.log, c)
}

func (db *DB) emitChanges(txID string, changes []change) {
	db.mu.RLock()
	emitter := db.eventEmitter
	db.mu.RUnlock()

	if emitter == nil {
		return
	}
	now := time.Now()
	for _, c := range changes {
		emitter(c.event(txID, now))
	}
}

func (c change) event(txID string, at time.Time) subscriptions.Event {
	ev := subscriptions.Event{
		ID:        uuid.New().String(),
		Type:      c.op,
		Timestamp: at,
		TxID:      txID,
		Index:     c.index,
	}
	switch c.op {
	case opLinkCreated, opLinkDeleted:
		ev.LinkID = formatID(uint64(c.rel))
		ev.LinkSource = formatID(uint64(c.from))
		ev.LinkTarget = formatID(uint64(c.to))
		ev.LinkType = c.relType
	default:
		ev.NodeID = formatID(uint64(c.node))
	}
	if c.key != "" {
		ev.Meta = map[string]interface{}{c.key: c.value}
	}
	return ev
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
