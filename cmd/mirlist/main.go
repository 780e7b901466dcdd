// Command mirlist is the mirror list deployment daemon.
//
// It periodically fetches the mirror status feed, selects the freshest
// alive mirrors per configured region, and publishes the resulting list
// files to the hosting target. Deployments can also be triggered manually
// or by a code-push webhook; concurrent triggers are coalesced so at most
// one deployment runs at a time.
//
// Usage:
//
//	mirlist -config mirlist.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/mirlist/dbopen"
	"github.com/hazyhaar/mirlist/history"
	"github.com/hazyhaar/mirlist/pipeline"
	"github.com/hazyhaar/mirlist/shield"
)

func main() {
	configPath := flag.String("config", "mirlist.yaml", "path to mirlist.yaml config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("mirlist: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := pipeline.LoadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := dbopen.Open(cfg.HistoryDB, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer db.Close()

	store := history.NewStore(db)
	if err := store.Init(ctx); err != nil {
		return err
	}

	svc, err := pipeline.New(cfg, logger, pipeline.WithHistory(store))
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.Start(ctx)

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	r.Mount("/", svc.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Listen, "regions", len(cfg.Regions))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
