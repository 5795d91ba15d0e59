package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systemshift/graphcore/internal/demo"
	"github.com/systemshift/graphcore/internal/graph"
	"github.com/systemshift/graphcore/internal/server/store"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the reference queries against the Simpsons family graph",
	Long: `Demo builds the Simpsons family in memory, runs the reference queries
and prints their results. With --save the graph is also written to the
configured snapshot file so 'serve', 'shell' and 'export' can use it.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().Bool("save", false, "write the demo graph to the snapshot file")
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	db := graph.New(graph.WithLogger(baseLogger))
	if _, err := demo.LoadFamily(ctx, db); err != nil {
		return fmt.Errorf("loading family: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, demo.TitleStyle.Render("THE SIMPSONS"))
	fmt.Fprintln(out, demo.DimStyle.Render(fmt.Sprintf("%d nodes, %d relationships",
		db.Snapshot().NodeCount(), db.Snapshot().RelationshipCount())))
	fmt.Fprintln(out)

	for _, ex := range demo.Examples {
		rs, err := db.ExecuteText(ctx, ex.Query)
		if err != nil {
			demo.RenderError(out, err)
			continue
		}
		demo.Render(out, ex.Title, ex.Query, rs)
		fmt.Fprintln(out)
	}

	if save, _ := cmd.Flags().GetBool("save"); save {
		if cfg.Snapshot == "" {
			return fmt.Errorf("--save needs a snapshot path")
		}
		repo, err := store.NewSQLite(ctx, cfg.Snapshot)
		if err != nil {
			return err
		}
		defer repo.Close(ctx)
		if err := repo.Save(ctx, db.Snapshot().Dump()); err != nil {
			return err
		}
		fmt.Fprintln(out, demo.DimStyle.Render("saved to "+cfg.Snapshot))
	}
	return nil
}
