// Command caskd serves a caskdb database over HTTP. The engine itself is an
// embedded library; caskd is the process wrapper that gives it a network
// surface, a config file, and logs.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caskforge/caskdb"
	"github.com/caskforge/caskdb/internal/config"
)

const shutdownTimeout = 5 * time.Second

func initLogger(cfg *config.Config) {
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	configPath := flag.String("config", "caskd.yaml", "path to YAML config file")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	initLogger(cfg)

	db, err := caskdb.Open(cfg.DataDir, cfg)
	if err != nil {
		slog.Error("failed to open database", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}

	srv := newServer(db, cfg.Listen)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("caskd listening", "addr", cfg.Listen, "data", cfg.DataDir)
		errCh <- srv.httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "err", err)
	}
	if err := db.Close(); err != nil {
		slog.Error("failed to close database", "err", err)
		os.Exit(1)
	}
}
