package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/systemshift/graphcore/internal/config"
	"github.com/systemshift/graphcore/internal/logger"
)

var configFile string

// cfg and baseLogger are set by loadConfig before any subcommand runs.
var (
	cfg        config.Config
	baseLogger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "graphcore",
	Short: "In-process property graph with transactions, indexes and queries",
	Long: `graphcore is a property graph store with single-writer transactions,
property indexes and a small pattern-match query language.

Run 'graphcore serve' to expose it over HTTP, 'graphcore demo' to run the
reference queries against the Simpsons family graph, or 'graphcore shell'
to query a saved snapshot interactively.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("snapshot") {
		cfg.Snapshot, _ = cmd.Flags().GetString("snapshot")
	}

	baseLogger, err = logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(baseLogger)
	cmd.SetContext(logger.WithLogger(cmd.Context(), baseLogger))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("snapshot", "", "SQLite snapshot file (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(exportCmd)
}
