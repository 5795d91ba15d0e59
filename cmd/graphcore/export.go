package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systemshift/graphcore/internal/graph"
	"github.com/systemshift/graphcore/internal/server/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Push the snapshot to Neo4j",
	Long: `Export loads the SQLite snapshot and replaces the exported graph in
Neo4j with it. Connection settings come from the neo4j section of the
config file or the NEO4J_URI, NEO4J_USER and NEO4J_PASSWORD variables.`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db := graph.New(graph.WithLogger(baseLogger))
	if err := loadSnapshot(ctx, db); err != nil {
		return err
	}

	neo, err := store.NewNeo4j(ctx, store.Neo4jConfig{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.User,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	})
	if err != nil {
		return err
	}
	defer neo.Close(ctx)

	d := db.Snapshot().Dump()
	if err := neo.Save(ctx, d); err != nil {
		return fmt.Errorf("exporting to neo4j: %w", err)
	}

	baseLogger.Info("exported snapshot", "uri", cfg.Neo4j.URI,
		"nodes", len(d.Nodes), "relationships", len(d.Relationships), "index_entries", len(d.IndexEntries))
	return nil
}
