package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/systemshift/graphcore/internal/graph"
)

const exportBatchSize = 500

// Neo4jRepository exports graph snapshots to Neo4j.
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
}

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// NewNeo4j connects to Neo4j.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jRepository{driver: driver, database: database}, nil
}

// Close closes the Neo4j connection
func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// Save replaces every exported node in Neo4j with the contents of d.
// Nodes are labelled GraphNode and keyed by gid. Index entries become
// IndexEntry nodes pointing at the nodes they file.
func (r *Neo4jRepository) Save(ctx context.Context, d graph.Dump) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range exportStatements(d) {
			if _, err := tx.Run(ctx, st.query, st.params); err != nil {
				return nil, fmt.Errorf("running export statement: %w", err)
			}
		}
		return nil, nil
	})
	return err
}

type statement struct {
	query  string
	params map[string]any
}

// exportStatements builds the Cypher needed to write d.
func exportStatements(d graph.Dump) []statement {
	stmts := []statement{
		{query: `MATCH (n:IndexEntry) DETACH DELETE n`},
		{query: `MATCH (n:GraphNode) DETACH DELETE n`},
	}

	nodes := make([]map[string]any, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		props := make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			props[k] = v
		}
		nodes = append(nodes, map[string]any{"gid": int64(n.ID), "props": props})
	}
	for _, batch := range batches(nodes) {
		stmts = append(stmts, statement{
			query: `
				UNWIND $rows AS row
				CREATE (n:GraphNode {gid: row.gid})
				SET n += row.props
			`,
			params: map[string]any{"rows": batch},
		})
	}

	byType := make(map[string][]map[string]any)
	for _, rel := range d.Relationships {
		byType[rel.Type] = append(byType[rel.Type], map[string]any{
			"gid":  int64(rel.ID),
			"from": int64(rel.From),
			"to":   int64(rel.To),
		})
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		for _, batch := range batches(byType[t]) {
			stmts = append(stmts, statement{
				query: fmt.Sprintf(`
				UNWIND $rows AS row
				MATCH (a:GraphNode {gid: row.from})
				MATCH (b:GraphNode {gid: row.to})
				CREATE (a)-[:%s {gid: row.gid}]->(b)
			`, quoteIdentifier(t)),
				params: map[string]any{"rows": batch},
			})
		}
	}

	entries := make([]map[string]any, 0, len(d.IndexEntries))
	for _, e := range d.IndexEntries {
		entries = append(entries, map[string]any{
			"index": e.Index,
			"key":   e.Key,
			"value": e.Value,
			"node":  int64(e.Node),
		})
	}
	for _, batch := range batches(entries) {
		stmts = append(stmts, statement{
			query: `
				UNWIND $rows AS row
				MATCH (n:GraphNode {gid: row.node})
				MERGE (e:IndexEntry {index: row.index, key: row.key, value: row.value})
				CREATE (e)-[:INDEXES]->(n)
			`,
			params: map[string]any{"rows": batch},
		})
	}
	return stmts
}

func batches(rows []map[string]any) [][]map[string]any {
	var out [][]map[string]any
	for len(rows) > exportBatchSize {
		out = append(out, rows[:exportBatchSize])
		rows = rows[exportBatchSize:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}

// quoteIdentifier backtick-quotes a relationship type for Cypher.
func quoteIdentifier(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}
