package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/systemshift/graphcore/internal/demo"
	"github.com/systemshift/graphcore/internal/graph"
	"github.com/systemshift/graphcore/internal/server/store"
)

var shellCmd = &cobra.Command{
	Use:   "shell [query]",
	Short: "Query a snapshot from the command line",
	Long: `Shell loads the snapshot file (or, with --demo, the Simpsons family)
and runs queries. A query given as arguments or on a pipe runs once;
otherwise an interactive prompt starts.`,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().Bool("demo", false, "query the Simpsons family instead of the snapshot")
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db := graph.New(graph.WithLogger(baseLogger))

	if useDemo, _ := cmd.Flags().GetBool("demo"); useDemo {
		if _, err := demo.LoadFamily(ctx, db); err != nil {
			return err
		}
	} else if err := loadSnapshot(ctx, db); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		return runQuery(ctx, db, out, strings.Join(args, " "))
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		if !term.IsTerminal(int(f.Fd())) {
			data, err := io.ReadAll(f)
			if err != nil {
				return err
			}
			if q := strings.TrimSpace(string(data)); q != "" {
				return runQuery(ctx, db, out, q)
			}
			return nil
		}
	}

	runREPL(ctx, db, in, out)
	return nil
}

func loadSnapshot(ctx context.Context, db *graph.DB) error {
	if cfg.Snapshot == "" {
		return fmt.Errorf("no snapshot configured; use --snapshot or --demo")
	}
	if _, err := os.Stat(cfg.Snapshot); err != nil {
		return fmt.Errorf("snapshot %s: %w", cfg.Snapshot, err)
	}
	repo, err := store.NewSQLite(ctx, cfg.Snapshot)
	if err != nil {
		return err
	}
	defer repo.Close(ctx)

	_, err = store.Restore(ctx, repo, db)
	return err
}

func runQuery(ctx context.Context, db *graph.DB, out io.Writer, query string) error {
	rs, err := db.ExecuteText(ctx, query)
	if err != nil {
		demo.RenderError(out, err)
		return err
	}
	demo.Render(out, "", "", rs)
	return nil
}

func runREPL(ctx context.Context, db *graph.DB, in io.Reader, out io.Writer) {
	snap := db.Snapshot()
	fmt.Fprintln(out)
	fmt.Fprintln(out, demo.TitleStyle.Render("GRAPHCORE"))
	fmt.Fprintln(out, demo.DimStyle.Render(fmt.Sprintf("%d nodes, %d relationships", snap.NodeCount(), snap.RelationshipCount())))
	fmt.Fprintln(out, demo.DimStyle.Render("Type 'help' for examples, 'exit' or Ctrl+D to quit"))
	fmt.Fprintln(out)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, demo.QueryStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit", "q":
			fmt.Fprintln(out, demo.DimStyle.Render("Goodbye!"))
			return
		case "help":
			printHelp(out)
			continue
		}

		if ctx.Err() != nil {
			return
		}
		runQuery(ctx, db, out, input)
		fmt.Fprintln(out)
	}
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, demo.TitleStyle.Render("Commands:"))
	fmt.Fprintln(out, "  exit, quit, q  - Exit the shell")
	fmt.Fprintln(out, "  help           - Show this help")
	fmt.Fprintln(out)
	fmt.Fprintln(out, demo.TitleStyle.Render("Example queries:"))
	for _, ex := range demo.Examples {
		fmt.Fprintln(out, "  "+ex.Query)
	}
	fmt.Fprintln(out)
}
