// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Command server runs the Voxtime presence tracking service: it consumes
// presence transition events, maintains per-user sessions, records completed
// sessions in DuckDB, and serves the activity and report HTTP API.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxtime/voxtime/internal/api"
	"github.com/voxtime/voxtime/internal/bus"
	"github.com/voxtime/voxtime/internal/cache"
	"github.com/voxtime/voxtime/internal/config"
	"github.com/voxtime/voxtime/internal/database"
	"github.com/voxtime/voxtime/internal/directory"
	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/report"
	"github.com/voxtime/voxtime/internal/settings"
	"github.com/voxtime/voxtime/internal/supervisor"
	"github.com/voxtime/voxtime/internal/supervisor/services"
	"github.com/voxtime/voxtime/internal/tracker"
	"github.com/voxtime/voxtime/internal/wal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("redis_enabled", cfg.Redis.Enabled).
		Bool("wal_enabled", cfg.WAL.Enabled).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting Voxtime")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	store := newCacheStore(cfg)
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing cache")
		}
	}()

	// The tracker writes through the WAL recorder when durability is on;
	// otherwise completed sessions go straight to DuckDB.
	var recorder tracker.Recorder = db
	var walRecorder *wal.Recorder
	if cfg.WAL.Enabled {
		walLog, err := wal.Open(cfg.WAL.Dir)
		if err != nil {
			logging.Fatal().Err(err).Str("dir", cfg.WAL.Dir).Msg("Failed to open WAL")
		}
		defer func() {
			if err := walLog.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing WAL")
			}
		}()
		walRecorder = wal.NewRecorder(walLog, db)
		recorder = walRecorder
	}

	provider := settings.NewCached(settings.NewMemory(), store, cfg.Cache.SettingsTTL)
	names := directory.NewMemory()

	tr := tracker.New(store, recorder, provider, names,
		cfg.Tracker.SessionTTL, cfg.Tracker.StalenessBound)
	if err := tr.Recover(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("Session recovery incomplete")
	}

	engine := report.NewEngine(db, provider,
		directory.NewCached(names, store, cfg.Cache.SettingsTTL),
		cfg.Report, cfg.Cache.ReportTTL)

	events := bus.New()
	defer func() {
		if err := events.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing bus")
		}
	}()

	server := api.New(*cfg, db, events, tr, engine, provider, api.ActivityCache{
		Store: store,
		TTL:   cfg.Cache.ActivityTTL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	// Data layer: WAL replay and report-cache maintenance.
	if walRecorder != nil {
		tree.AddDataService(services.NewWALReplayService(walRecorder, cfg.WAL.RetryInterval))
	}
	tree.AddDataService(services.NewSweeperService(db, engine,
		cfg.Report.SweepInterval, cfg.Cache.ReportTTL))

	// Ingest layer: the single transition consumer, plus the NATS bridge
	// when an external broker feeds the bus.
	tree.AddIngestService(services.NewConsumerService(events, tr.OnTransition))
	if cfg.NATS.Enabled {
		source, err := bus.NewNATSSource(cfg.NATS, events)
		if err != nil {
			logging.Warn().Err(err).Msg("NATS source unavailable, HTTP ingest only")
		} else {
			defer source.Close()
			tree.AddIngestService(services.NewSourceService(source))
		}
	}

	tree.AddAPIService(services.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Voxtime stopped")
}

// newCacheStore builds the session/settings cache: Redis fronted by an
// in-process mirror when configured, otherwise in-process only. A Redis
// connection failure at startup still returns the fallback store; the
// circuit breaker keeps retrying in the background.
func newCacheStore(cfg *config.Config) cache.Store {
	local := cache.NewMemory(cfg.Cache.LocalMaxEntries)
	if !cfg.Redis.Enabled {
		logging.Info().Msg("Using in-process cache")
		return local
	}

	redis, err := cache.NewRedis(&cfg.Redis)
	if err != nil {
		logging.Warn().Err(err).Msg("Redis unavailable, using in-process cache only")
		return local
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redis.Ping(pingCtx); err != nil {
		logging.Warn().Err(err).Str("url", cfg.Redis.URL).
			Msg("Redis not reachable yet, fallback will serve reads")
	} else {
		logging.Info().Str("url", cfg.Redis.URL).Msg("Connected to Redis")
	}

	return cache.NewFallback(redis, local)
}
