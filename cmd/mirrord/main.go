// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ManuGH/mirrord/internal/allowlist"
	"github.com/ManuGH/mirrord/internal/api"
	"github.com/ManuGH/mirrord/internal/cache"
	"github.com/ManuGH/mirrord/internal/config"
	xglog "github.com/ManuGH/mirrord/internal/log"
	"github.com/ManuGH/mirrord/internal/mirrorsvc"
	"github.com/ManuGH/mirrord/internal/registry"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const (
	janitorInterval = 5 * time.Minute
	shutdownGrace   = 10 * time.Second
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mirrord: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Safe logger defaults until the configuration is loaded.
	_ = xglog.Configure(xglog.Config{Level: "info", Service: "mirrord", Version: version})

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Service: "mirrord",
		Version: version,
	}); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	reg, err := registry.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer func() { _ = reg.Close() }()

	allow, err := allowlist.Load(cfg.AllowlistPath)
	if err != nil {
		return fmt.Errorf("allowlist: %w", err)
	}
	go func() {
		if err := allow.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("allowlist watcher stopped")
		}
	}()

	store, err := cache.New(cache.Options{
		Dir:      cfg.CacheDir,
		TTL:      cfg.CacheTTL,
		MaxBytes: cfg.CacheMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	store.StartJanitor(janitorInterval)
	defer store.Stop()

	svc := mirrorsvc.New(reg, allow, store, mirrorsvc.Options{
		AllowHTTP:       cfg.EnableHTTP,
		UpstreamTimeout: cfg.UpstreamTimeout,
		MaxHTMLBytes:    cfg.MaxHTMLBytes,
		MaxBinaryBytes:  cfg.MaxBinaryBytes,
		DisableService:  cfg.DisableService,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           api.New(cfg, svc, reg, allow, store).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("event", "server.listening").
			Str("addr", cfg.ListenAddr()).
			Bool("service_disabled", cfg.DisableService).
			Msg("mirrord listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Str("event", "server.shutdown").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
