package demo

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/graphcore/internal/graph"
)

func TestExamples(t *testing.T) {
	ctx := context.Background()
	db := graph.New()
	f, err := LoadFamily(ctx, db)
	require.NoError(t, err)

	ids := func(rs *graph.ResultSet) []graph.NodeID {
		var out []graph.NodeID
		for _, n := range rs.Nodes() {
			out = append(out, n.ID)
		}
		return out
	}

	results := make([]*graph.ResultSet, len(Examples))
	for i, ex := range Examples {
		rs, err := db.ExecuteText(ctx, ex.Query)
		require.NoError(t, err, ex.Query)
		results[i] = rs
	}

	assert.Equal(t, []graph.NodeID{f.Homer}, ids(results[0]))

	count, ok := results[1].Count()
	require.True(t, ok)
	assert.Equal(t, int64(3), count)

	assert.Equal(t, []graph.NodeID{f.Bart, f.Lisa, f.Maggie}, ids(results[2]))
	assert.Equal(t, []graph.NodeID{f.Bart, f.Lisa, f.Maggie}, ids(results[3]))
	assert.Equal(t, []graph.NodeID{f.Burns}, ids(results[4]))
}

func TestFormatResult(t *testing.T) {
	ctx := context.Background()
	db := graph.New()
	_, err := LoadFamily(ctx, db)
	require.NoError(t, err)

	rs, err := db.ExecuteText(ctx, "START n=node:__types__(type='user') WHERE n.firstname = 'Homer' RETURN n")
	require.NoError(t, err)
	out := FormatResult(rs)
	assert.Contains(t, out, "n (1 rows)")
	assert.Contains(t, out, `firstname="Homer"`)

	rs, err = db.ExecuteText(ctx, "START n=node:__types__(type='user') RETURN count(*)")
	require.NoError(t, err)
	assert.Equal(t, "count(*) = 5", FormatResult(rs))

	rs, err = db.ExecuteText(ctx, "START n=node:__types__(type='nobody') RETURN n")
	require.NoError(t, err)
	assert.Contains(t, FormatResult(rs), "(no rows)")
}

func TestRender(t *testing.T) {
	db := graph.New()
	rs, err := db.ExecuteText(context.Background(), "START n=node:i(k='v') RETURN count(*)")
	require.NoError(t, err)

	var buf bytes.Buffer
	Render(&buf, "Title", "query", rs)
	assert.Contains(t, buf.String(), "Title")
	assert.Contains(t, buf.String(), "count(*) = 0")
}
