package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	typesIndex = "__types__"
	isFatherOf = "IS_FATHER_OF"
	isChildOf  = "IS_CHILD_OF"
)

type family struct {
	homer, bart, lisa, maggie, burns NodeID
}

// loadFamily creates the Simpsons fixture and files every node in the
// type index under type=user.
func loadFamily(t *testing.T, db *DB) family {
	t.Helper()

	var f family
	err := db.Update(context.Background(), func(tx *Tx) error {
		people := []struct {
			id               *NodeID
			first, last, job string
		}{
			{&f.homer, "Homer", "Simpson", "safety supervisor"},
			{&f.bart, "Bart", "Simpson", "pupil"},
			{&f.lisa, "Lisa", "Simpson", "pupil"},
			{&f.maggie, "Maggie", "Simpson", "pupil"},
			{&f.burns, "Charles Montgomery", "Burns", "Boss"},
		}
		for _, p := range people {
			id, err := tx.CreateNodeWithProperties(map[string]any{
				"firstname": p.first,
				"lastname":  p.last,
				"job":       p.job,
			})
			if err != nil {
				return err
			}
			*p.id = id
		}

		for _, child := range []NodeID{f.bart, f.lisa, f.maggie} {
			if _, err := tx.CreateRelationship(f.homer, child, isFatherOf); err != nil {
				return err
			}
			if _, err := tx.CreateRelationship(child, f.homer, isChildOf); err != nil {
				return err
			}
		}

		for _, p := range people {
			if err := tx.SetProperty(*p.id, "type", "user"); err != nil {
				return err
			}
			if err := tx.IndexAdd(typesIndex, "type", "user", *p.id); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func nodeIDs(rs *ResultSet) []NodeID {
	ids := make([]NodeID, 0, rs.Len())
	for _, n := range rs.Nodes() {
		ids = append(ids, n.ID)
	}
	return ids
}
