package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAddIsIdempotent(t *testing.T) {
	db := New()
	var id NodeID
	require.NoError(t, db.Update(context.Background(), func(tx *Tx) error {
		var err error
		if id, err = tx.CreateNode(); err != nil {
			return err
		}
		if err := tx.IndexAdd(typesIndex, "type", "user", id); err != nil {
			return err
		}
		return tx.IndexAdd(typesIndex, "type", "user", id)
	}))

	assert.Equal(t, []NodeID{id}, db.Snapshot().Lookup(typesIndex, "type", "user"))
}

func TestIndexRemove(t *testing.T) {
	ctx := context.Background()
	db := New()
	f := loadFamily(t, db)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		if err := tx.IndexRemove(typesIndex, "type", "user", f.lisa); err != nil {
			return err
		}
		// absent entries are ignored
		if err := tx.IndexRemove(typesIndex, "type", "admin", f.lisa); err != nil {
			return err
		}
		return tx.IndexRemove("nope", "type", "user", 12345)
	}))

	got := db.Snapshot().Lookup(typesIndex, "type", "user")
	assert.NotContains(t, got, f.lisa)
	assert.Len(t, got, 4)
}

func TestIndexLookupUnknown(t *testing.T) {
	db := New()
	loadFamily(t, db)
	snap := db.Snapshot()

	assert.Empty(t, snap.Lookup("missing", "type", "user"))
	assert.Empty(t, snap.Lookup(typesIndex, "kind", "user"))
	assert.Empty(t, snap.Lookup(typesIndex, "type", "admin"))
	assert.Empty(t, snap.Lookup(typesIndex, "type", []int{1}))
}

func TestIndexNumericValuesMatchAcrossKinds(t *testing.T) {
	db := New()
	var id NodeID
	require.NoError(t, db.Update(context.Background(), func(tx *Tx) error {
		var err error
		if id, err = tx.CreateNode(); err != nil {
			return err
		}
		return tx.IndexAdd("ages", "age", 10, id)
	}))

	snap := db.Snapshot()
	assert.Equal(t, []NodeID{id}, snap.Lookup("ages", "age", int64(10)))
	assert.Equal(t, []NodeID{id}, snap.Lookup("ages", "age", 10.0))
	assert.Empty(t, snap.Lookup("ages", "age", "10"))
}

func TestLargeIntegersCompareExactly(t *testing.T) {
	ctx := context.Background()
	db := New()
	const serial = int64(1) << 53
	var id NodeID
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		var err error
		if id, err = tx.CreateNodeWithProperties(map[string]any{"serial": serial}); err != nil {
			return err
		}
		if err := tx.IndexAdd("parts", "serial", serial, id); err != nil {
			return err
		}
		return tx.IndexAdd("parts", "kind", "bolt", id)
	}))

	snap := db.Snapshot()
	assert.Equal(t, []NodeID{id}, snap.Lookup("parts", "serial", serial))
	assert.Empty(t, snap.Lookup("parts", "serial", serial+1))

	rs, err := db.ExecuteText(ctx, "START n=node:parts(kind='bolt') WHERE n.serial = 9007199254740993 RETURN n")
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())

	rs, err = db.ExecuteText(ctx, "START n=node:parts(kind='bolt') WHERE n.serial = 9007199254740992 RETURN n")
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())

	assert.True(t, ValuesEqual(serial, float64(serial)))
	assert.False(t, ValuesEqual(serial+1, float64(serial)))
	assert.True(t, ValuesEqual(int64(10), 10.0))
	assert.False(t, ValuesEqual(int64(10), 10.5))
	assert.False(t, ValuesEqual(int64(10), "10"))
}

func TestIndexRemoveNodeAllKeys(t *testing.T) {
	ctx := context.Background()
	db := New()
	var id NodeID
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		var err error
		if id, err = tx.CreateNode(); err != nil {
			return err
		}
		for _, kv := range [][2]string{{"type", "user"}, {"role", "admin"}} {
			if err := tx.IndexAdd("people", kv[0], kv[1], id); err != nil {
				return err
			}
		}
		return tx.IndexAdd("other", "type", "user", id)
	}))

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.IndexRemoveNode("people", "", id)
	}))

	snap := db.Snapshot()
	assert.Empty(t, snap.Lookup("people", "type", "user"))
	assert.Empty(t, snap.Lookup("people", "role", "admin"))
	assert.Equal(t, []NodeID{id}, snap.Lookup("other", "type", "user"))
}

func TestIndexChangesInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	db := New()
	f := loadFamily(t, db)

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.IndexRemove(typesIndex, "type", "user", f.homer))

	assert.NotContains(t, tx.Lookup(typesIndex, "type", "user"), f.homer)
	assert.Contains(t, db.Snapshot().Lookup(typesIndex, "type", "user"), f.homer)

	require.NoError(t, tx.Rollback())
	assert.Empty(t, tx.Lookup(typesIndex, "type", "user"))
}
