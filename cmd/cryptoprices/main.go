package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/cryptoprices/internal/cache"
	"github.com/ahmethakanbesel/cryptoprices/internal/config"
	"github.com/ahmethakanbesel/cryptoprices/internal/mirror"
	"github.com/ahmethakanbesel/cryptoprices/internal/rate"
	"github.com/ahmethakanbesel/cryptoprices/internal/server"
	"github.com/ahmethakanbesel/cryptoprices/internal/view"
)

// Set via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "cryptoprices",
	Short:         "Minute crypto prices and exchange rates from a CouchDB view",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}

		path, _ := cmd.Flags().GetString("config")
		c, err := config.Load(path)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		level, _ := c.LogLevel()
		slog.SetLogLoggerLevel(level)
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "config.yaml", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Version needs no config.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(*cobra.Command, []string) {
		fmt.Printf("cryptoprices %s (%s)\n", version, commit)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy new rows from CouchDB into the local mirror and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openMirror(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if err := mirror.NewService(db.runs).RecoverInterrupted(ctx); err != nil {
			slog.Error("failed to recover interrupted sync runs", "error", err)
		}
		run, err := db.syncer(cfg).Sync(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("synced %d records across %d symbols (run %d)\n", run.RecordsCount, run.SymbolsCount, run.ID)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(*cobra.Command, []string) error {
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	// Root context: cancelled on SIGINT/SIGTERM so in-flight streams and
	// mirror syncs stop promptly during graceful shutdown.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	var (
		runSvc  *mirror.Service
		runner  *mirror.Runner
		store   view.Store = couchStore(cfg)
		catalog *cache.CatalogCache
		rateOpt = []rate.Option{rate.WithBaseSymbol(cfg.Upstream.BaseSymbol)}
	)

	if cfg.Cache.RedisURL != "" {
		client, err := cache.Open(rootCtx, cfg.Cache.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		catalog = cache.NewCatalogCache(client, cfg.Cache.Prefix, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
		rateOpt = append(rateOpt, rate.WithCatalogCache(catalog))
	}

	// The mirror database is opened when it serves reads or is kept in sync.
	if cfg.Upstream.Backend == config.BackendMirror || cfg.Mirror.Schedule != "" {
		db, err := openMirror(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		runSvc = mirror.NewService(db.runs)
		if err := runSvc.RecoverInterrupted(rootCtx); err != nil {
			slog.Error("failed to recover interrupted sync runs", "error", err)
		}
		if cfg.Upstream.Backend == config.BackendMirror {
			store = db.prices
		}

		var syncOpts []mirror.SyncerOption
		// A mirror that serves reads changes the catalog as it grows.
		if catalog != nil && cfg.Upstream.Backend == config.BackendMirror {
			syncOpts = append(syncOpts, mirror.WithInvalidation(catalog))
		}
		runner = mirror.NewRunner(db.syncer(cfg, syncOpts...))
		runnerDone := make(chan struct{})
		go func() {
			runner.Run(rootCtx)
			close(runnerDone)
		}()
		// Wait for a running sync to wind down before the db is closed.
		defer func() {
			rootCancel()
			<-runnerDone
		}()

		if cfg.Mirror.Schedule != "" {
			c, err := mirror.Schedule(cfg.Mirror.Schedule, runner)
			if err != nil {
				return err
			}
			defer c.Stop()
			runner.Notify()
		}
	}

	rateSvc := rate.NewService(newPager(cfg, store), rateOpt...)

	// HTTP server: rootCtx is used as BaseContext so every request context
	// inherits from it and is cancelled on shutdown.
	srv := server.New(rootCtx, cfg.Server.Port, rateSvc, runSvc, runner)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	slog.Info("server started", "port", cfg.Server.Port, "backend", cfg.Upstream.Backend)
	select {
	case <-done:
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	}

	// Cancel root context first so in-flight streams and syncs begin winding
	// down immediately.
	rootCancel()

	// Then drain connections with a deadline.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
	return nil
}
