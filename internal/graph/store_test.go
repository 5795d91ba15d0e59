package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPropertyOverwrites(t *testing.T) {
	db := New()
	var id NodeID
	require.NoError(t, db.Update(context.Background(), func(tx *Tx) error {
		var err error
		if id, err = tx.CreateNode(); err != nil {
			return err
		}
		if err := tx.SetProperty(id, "age", 38); err != nil {
			return err
		}
		v, ok := tx.Property(id, "age")
		assert.True(t, ok)
		assert.Equal(t, int64(38), v)
		return tx.SetProperty(id, "age", 39.5)
	}))

	v, ok := db.Snapshot().Property(id, "age")
	require.True(t, ok)
	assert.Equal(t, 39.5, v)

	_, ok = db.Snapshot().Property(id, "missing")
	assert.False(t, ok)
}

func TestMutationsOnMissingNodes(t *testing.T) {
	tests := []struct {
		name string
		fn   func(tx *Tx) error
	}{
		{"set property", func(tx *Tx) error { return tx.SetProperty(7, "k", "v") }},
		{"remove property", func(tx *Tx) error { return tx.RemoveProperty(7, "k") }},
		{"create relationship", func(tx *Tx) error { _, err := tx.CreateRelationship(7, 8, "X"); return err }},
		{"delete node", func(tx *Tx) error { return tx.DeleteNode(7) }},
		{"delete relationship", func(tx *Tx) error { return tx.DeleteRelationship(7) }},
		{"index add", func(tx *Tx) error { return tx.IndexAdd("i", "k", "v", 7) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Update(context.Background(), tt.fn)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUnsupportedPropertyValue(t *testing.T) {
	db := New()
	err := db.Update(context.Background(), func(tx *Tx) error {
		id, err := tx.CreateNode()
		if err != nil {
			return err
		}
		return tx.SetProperty(id, "tags", []string{"a"})
	})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	assert.Equal(t, 0, db.Snapshot().NodeCount())
}

func TestDeleteNodeCascades(t *testing.T) {
	ctx := context.Background()
	db := New()
	f := loadFamily(t, db)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.DeleteNode(f.homer)
	}))

	snap := db.Snapshot()
	assert.Equal(t, 0, snap.RelationshipCount())
	for _, child := range []NodeID{f.bart, f.lisa, f.maggie} {
		assert.Empty(t, snap.Relationships(child, Both, ""))
	}
	assert.NotContains(t, snap.Lookup(typesIndex, "type", "user"), f.homer)
	assert.Len(t, snap.Lookup(typesIndex, "type", "user"), 4)
}

func TestDeleteNodeTwiceFails(t *testing.T) {
	ctx := context.Background()
	db := New()
	f := loadFamily(t, db)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.DeleteNode(f.burns)
	}))
	err := db.Update(ctx, func(tx *Tx) error {
		return tx.DeleteNode(f.burns)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRelationship(t *testing.T) {
	ctx := context.Background()
	db := New()
	f := loadFamily(t, db)

	rels := db.Snapshot().Relationships(f.homer, Outgoing, isFatherOf)
	require.Len(t, rels, 3)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.DeleteRelationship(rels[0].ID)
	}))

	snap := db.Snapshot()
	assert.Len(t, snap.Relationships(f.homer, Outgoing, isFatherOf), 2)
	assert.Empty(t, snap.Relationships(rels[0].To, Incoming, isFatherOf))
	_, err := snap.Relationship(rels[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSelfLoop(t *testing.T) {
	ctx := context.Background()
	db := New()

	var id NodeID
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		var err error
		if id, err = tx.CreateNode(); err != nil {
			return err
		}
		_, err = tx.CreateRelationship(id, id, "LIKES")
		return err
	}))
	assert.Len(t, db.Snapshot().Relationships(id, Both, ""), 1)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.DeleteNode(id)
	}))
	assert.Equal(t, 0, db.Snapshot().RelationshipCount())
}

func TestRemoveProperty(t *testing.T) {
	ctx := context.Background()
	db := New()
	f := loadFamily(t, db)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		if err := tx.RemoveProperty(f.bart, "job"); err != nil {
			return err
		}
		return tx.RemoveProperty(f.bart, "never-set")
	}))
	_, ok := db.Snapshot().Property(f.bart, "job")
	assert.False(t, ok)
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		in      any
		want    Value
		wantErr bool
	}{
		{"x", "x", false},
		{3, int64(3), false},
		{int32(3), int64(3), false},
		{float32(1.5), float64(1.5), false},
		{true, true, false},
		{nil, nil, true},
		{struct{}{}, nil, true},
	}
	for _, tt := range tests {
		got, err := NormalizeValue(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedValue, "%v", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestEncodeDecodeValue(t *testing.T) {
	for _, v := range []Value{"pupil", int64(-4), 2.25, false} {
		kind, text := EncodeValue(v)
		got, err := DecodeValue(kind, text)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := DecodeValue("blob", "x")
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}
