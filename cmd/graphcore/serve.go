package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/systemshift/graphcore/internal/graph"
	"github.com/systemshift/graphcore/internal/server/api"
	"github.com/systemshift/graphcore/internal/server/store"
	"github.com/systemshift/graphcore/internal/server/subscriptions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the graph over HTTP",
	Long: `Serve loads the SQLite snapshot (if any), exposes the HTTP API and
saves the graph back to the snapshot on shutdown and, when save_interval
is set, periodically while running.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Addr = addr
	}

	db := graph.New(graph.WithLogger(baseLogger))

	var repo *store.SQLiteRepository
	if cfg.Snapshot != "" {
		var err error
		repo, err = store.NewSQLite(ctx, cfg.Snapshot)
		if err != nil {
			return err
		}
		defer repo.Close(context.Background())

		restored, err := store.Restore(ctx, repo, db)
		if err != nil {
			return err
		}
		snap := db.Snapshot()
		baseLogger.Info("snapshot opened", "path", cfg.Snapshot, "restored", restored,
			"nodes", snap.NodeCount(), "relationships", snap.RelationshipCount())
	}

	var subMgr *subscriptions.Manager
	if cfg.Subscriptions.Enabled {
		opts := subscriptions.Options{
			Runner:    db,
			Logger:    baseLogger,
			Buffer:    cfg.Subscriptions.Buffer,
			Retries:   cfg.Subscriptions.Retries,
			Backoff:   cfg.Subscriptions.Backoff,
			RateLimit: cfg.Subscriptions.RateLimit,
			RateBurst: cfg.Subscriptions.RateBurst,
		}
		if repo != nil {
			opts.Repo = repo
		}
		subMgr = subscriptions.NewManager(opts)
		if err := subMgr.Start(ctx); err != nil {
			return err
		}
		db.SetEventEmitter(subMgr.EmitEvent)
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(api.New(db, subMgr, baseLogger)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		baseLogger.Info("starting graphcore server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		baseLogger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			baseLogger.Error("server forced to shutdown", "error", err)
		}
		return nil
	})
	if repo != nil && cfg.SaveInterval > 0 {
		g.Go(func() error {
			saveLoop(gctx, repo, db, cfg.SaveInterval)
			return nil
		})
	}

	serveErr := g.Wait()

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if subMgr != nil {
		db.SetEventEmitter(nil)
		subMgr.Stop()
	}
	if repo != nil {
		if err := repo.Save(saveCtx, db.Snapshot().Dump()); err != nil {
			baseLogger.Error("saving snapshot", "error", err)
			return errors.Join(serveErr, err)
		}
		baseLogger.Info("snapshot saved", "path", cfg.Snapshot)
	}

	baseLogger.Info("server exited")
	return serveErr
}

// saveLoop writes the committed graph to repo every interval until ctx
// is done.
func saveLoop(ctx context.Context, repo *store.SQLiteRepository, db *graph.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := repo.Save(ctx, db.Snapshot().Dump()); err != nil {
				baseLogger.Warn("periodic snapshot failed", "error", err)
				continue
			}
			baseLogger.Debug("periodic snapshot saved")
		}
	}
}
