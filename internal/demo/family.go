// Package demo builds the Simpsons family graph and renders query results
// for the command line.
package demo

import (
	"context"

	"github.com/systemshift/graphcore/internal/graph"
)

// Names used by the fixture.
const (
	TypesIndex = "__types__"
	IsFatherOf = "IS_FATHER_OF"
	IsChildOf  = "IS_CHILD_OF"
)

// Family holds the identities of the fixture's people.
type Family struct {
	Homer, Bart, Lisa, Maggie, Burns graph.NodeID
}

// Example is a named query against the family graph.
type Example struct {
	Title string
	Query string
}

// Examples are the reference queries run by the demo command.
var Examples = []Example{
	{"Who is Homer?", "START n=node:__types__(type='user') WHERE n.firstname = 'Homer' RETURN n"},
	{"How many father relationships?", "START n=node:__types__(type='user') MATCH n-[c:IS_FATHER_OF]->() RETURN COUNT(c)"},
	{"Who is someone's child?", "START n=node:__types__(type='user') MATCH n-[:IS_CHILD_OF]->() RETURN n"},
	{"Who is Homer the father of?", "START n=node:__types__(type='user') WHERE n.firstname = 'Homer' MATCH n-[:IS_FATHER_OF]->(kid) RETURN kid"},
	{"Anyone called Burns?", "START n=node:__types__(type='user') WHERE n.lastname = 'Burns' RETURN n"},
}

// LoadFamily creates the Simpsons in one transaction. Every person is
// filed in the type index under type=user.
func LoadFamily(ctx context.Context, db *graph.DB) (Family, error) {
	var f Family
	err := db.Update(ctx, func(tx *graph.Tx) error {
		people := []struct {
			id               *graph.NodeID
			first, last, job string
		}{
			{&f.Homer, "Homer", "Simpson", "safety supervisor"},
			{&f.Bart, "Bart", "Simpson", "pupil"},
			{&f.Lisa, "Lisa", "Simpson", "pupil"},
			{&f.Maggie, "Maggie", "Simpson", "pupil"},
			{&f.Burns, "Charles Montgomery", "Burns", "Boss"},
		}
		for _, p := range people {
			id, err := tx.CreateNodeWithProperties(map[string]any{
				"type":      "user",
				"firstname": p.first,
				"lastname":  p.last,
				"job":       p.job,
			})
			if err != nil {
				return err
			}
			if err := tx.IndexAdd(TypesIndex, "type", "user", id); err != nil {
				return err
			}
			*p.id = id
		}

		for _, child := range []graph.NodeID{f.Bart, f.Lisa, f.Maggie} {
			if _, err := tx.CreateRelationship(f.Homer, child, IsFatherOf); err != nil {
				return err
			}
			if _, err := tx.CreateRelationship(child, f.Homer, IsChildOf); err != nil {
				return err
			}
		}
		return nil
	})
	return f, err
}
