// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

// Package main is the entry point for the Scopeboard server.
//
// Scopeboard is the monitoring backend for a longitudinal behavioral study:
// it aggregates raw participant activity (screenshots with OCR, EMA
// check-ins, safety alerts) from MongoDB into per-day compliance and safety
// indicators, keeps dashboard-facing snapshots of those indicators warm, and
// runs an asynchronous export pipeline that packages a participant's full
// record into downloadable archives.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered load (defaults, YAML file, env vars)
//  2. Logging: zerolog global logger
//  3. MongoDB connection and collection handles
//  4. Blob store for finished export archives
//  5. Cache managers (overall status, safety alerts) and the export engine
//  6. HTTP router (chi) and the suture supervisor tree
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, the alert cache loop finishes its tick,
// and running export jobs are given a bounded window to complete.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/socialscope/scopeboard/internal/alertcache"
	"github.com/socialscope/scopeboard/internal/api"
	"github.com/socialscope/scopeboard/internal/auth"
	"github.com/socialscope/scopeboard/internal/blobstore"
	"github.com/socialscope/scopeboard/internal/config"
	"github.com/socialscope/scopeboard/internal/export"
	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/metrics"
	"github.com/socialscope/scopeboard/internal/statuscache"
	"github.com/socialscope/scopeboard/internal/store"
	"github.com/socialscope/scopeboard/internal/supervisor"
	"github.com/socialscope/scopeboard/internal/supervisor/services"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Msg("Starting Scopeboard")

	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)
	startedAt := time.Now()
	go func() {
		for range time.Tick(15 * time.Second) {
			metrics.AppUptime.Set(time.Since(startedAt).Seconds())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === DATABASE ===
	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Mongo.ConnectTimeout)
	st, err := store.Connect(connectCtx, cfg.Mongo)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := st.Close(closeCtx); err != nil {
			logging.Warn().Err(err).Msg("Mongo disconnect failed")
		}
	}()

	// === BLOB STORE ===
	blobs, err := blobstore.NewFSStore(
		cfg.Export.ArchiveDir,
		cfg.Export.PublicBaseURL,
		[]byte(cfg.Security.JWTSecret),
	)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	// === ENGINES AND CACHES ===
	fetcher := export.NewFetcher(blobs, cfg.Export)
	engine := export.NewEngine(st, blobs, fetcher, &logNotifier{}, cfg.Export)
	statusCache := statuscache.NewManager(st, cfg.Cache)
	alertCache := alertcache.NewManager(st, cfg.Cache)

	// === HTTP SERVER ===
	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	authn := auth.NewAuthenticator(jwtManager, st)
	handler := api.NewHandler(st, statusCache, alertCache, engine, blobs, cfg)
	router := api.NewRouter(handler, authn, cfg).Setup()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	// === SUPERVISOR TREE ===
	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout},
	)
	tree.AddCacheService(services.NewAlertCacheService(alertCache))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the supervisor, then give running export jobs a bounded window.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer drainCancel()
	if err := engine.Shutdown(drainCtx); err != nil {
		logging.Warn().Err(err).Msg("Export jobs still running at shutdown")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Server stopped gracefully")
	return nil
}

// logNotifier records export-ready notifications in the log. Deployments
// with an outbound mail relay can swap in a real sender here.
type logNotifier struct{}

func (logNotifier) ExportReady(_ context.Context, email, participantID, downloadURL, filename string) error {
	logging.WithComponent("notify").Info().
		Str("email", email).
		Str("participant_id", participantID).
		Str("filename", filename).
		Str("download_url", downloadURL).
		Msg("Export ready")
	return nil
}
