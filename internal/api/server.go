// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package api exposes the HTTP surface: transition ingestion, activity
// queries, guild settings, and report operations with a WebSocket progress
// stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxtime/voxtime/internal/bus"
	"github.com/voxtime/voxtime/internal/config"
	"github.com/voxtime/voxtime/internal/database"
	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/models"
	"github.com/voxtime/voxtime/internal/report"
	"github.com/voxtime/voxtime/internal/settings"
	"github.com/voxtime/voxtime/internal/tracker"
)

// Server is the HTTP API server.
type Server struct {
	cfg      config.Config
	db       *database.DB
	events   *bus.Bus
	tracker  *tracker.Tracker
	engine   *report.Engine
	settings settings.Provider
	activity ActivityCache

	httpServer *http.Server

	// streams holds unclaimed report update channels. A stream is handed
	// to at most one WebSocket subscriber.
	mu      sync.Mutex
	streams map[string]<-chan models.ReportUpdate
}

// New creates the API server.
func New(cfg config.Config, db *database.DB, events *bus.Bus, tr *tracker.Tracker,
	engine *report.Engine, provider settings.Provider, activity ActivityCache) *Server {
	s := &Server{
		cfg:      cfg,
		db:       db,
		events:   events,
		tracker:  tr,
		engine:   engine,
		settings: provider,
		activity: activity,
		streams:  make(map[string]<-chan models.ReportUpdate),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		// WebSocket streams outlive the write timeout; rely on per-write
		// deadlines instead of a server-wide one.
		WriteTimeout: 0,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}
	return s
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.LimitByIP(1000, time.Minute)).
			Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.cfg.Server.RateLimitReqs, s.cfg.Server.RateLimitWindow))

			r.Post("/events", s.handleIngestEvent)

			r.Route("/guilds/{guildID}", func(r chi.Router) {
				r.Get("/settings", s.handleGetSettings)
				r.Put("/settings", s.handlePutSettings)
				r.Get("/sessions", s.handleActiveSessions)
				r.Get("/users/{userID}/activity", s.handleUserActivity)
				r.Post("/activity/batch", s.handleBatchActivity)
				r.Post("/reports", s.handleStartReport)
			})

			r.Get("/reports/{operationID}", s.handleReportStatus)
			r.Delete("/reports/{operationID}", s.handleCancelReport)
			r.Get("/reports/{operationID}/stream", s.handleReportStream)
		})
	})

	return r
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (s *Server) Start() error {
	logging.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// registerStream stashes a report update channel until a subscriber claims it.
func (s *Server) registerStream(operationID string, updates <-chan models.ReportUpdate) {
	s.mu.Lock()
	s.streams[operationID] = updates
	s.mu.Unlock()
}

// claimStream hands the update channel to its single subscriber.
func (s *Server) claimStream(operationID string) (<-chan models.ReportUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates, ok := s.streams[operationID]
	if ok {
		delete(s.streams, operationID)
	}
	return updates, ok
}
