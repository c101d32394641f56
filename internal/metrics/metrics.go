// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package metrics exposes Prometheus instrumentation for the session
// tracker, the tiered storage layer, the cache layer, and the report engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session tracker

	TransitionsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxtime_transitions_total",
			Help: "Presence transitions processed, by classification",
		},
		[]string{"kind"}, // join, leave, move, noop, excluded
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "voxtime_session_duration_seconds",
			Help: "Duration of completed presence sessions",
			// Sessions range from seconds to many hours.
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxtime_active_sessions",
			Help: "Currently tracked active sessions across all guilds",
		},
	)

	SessionsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxtime_sessions_recovered_total",
			Help: "Active sessions recovered from cache on startup",
		},
		[]string{"outcome"}, // kept, stale, invalid
	)

	// Storage layer

	RollupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxtime_rollup_duration_seconds",
			Help:    "Duration of aggregate rollup passes after session insert",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"granularity"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxtime_query_duration_seconds",
			Help:    "Duration of activity queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "granularity"},
	)

	QueryFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voxtime_query_fallbacks_total",
			Help: "Batched activity queries degraded to sequential per-user queries",
		},
	)

	DuplicateSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voxtime_duplicate_sessions_total",
			Help: "Completed-session inserts skipped by natural-key dedup",
		},
	)

	// Cache layer

	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxtime_cache_operations_total",
			Help: "Cache operations by backend and outcome",
		},
		[]string{"backend", "operation", "outcome"}, // redis/local, get/set/delete, hit/miss/error/ok
	)

	CacheFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voxtime_cache_fallbacks_total",
			Help: "Operations that fell back from the distributed cache to local memory",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voxtime_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Report engine

	ReportOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxtime_report_operations_total",
			Help: "Report operations by terminal state",
		},
		[]string{"state"}, // COMPLETED, ERROR, CANCELLED
	)

	ReportBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxtime_report_batches_total",
			Help: "Report batches by outcome",
		},
		[]string{"outcome"}, // ok, retried, failed
	)

	ReportBatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxtime_report_batches_in_flight",
			Help: "Report batches currently being processed",
		},
	)

	ReportMemoryCleanups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voxtime_report_memory_cleanups_total",
			Help: "Cleanup passes triggered by memory backpressure",
		},
	)

	ReportCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxtime_report_cache_total",
			Help: "Report cache lookups by outcome",
		},
		[]string{"outcome"}, // hit, miss, expired
	)

	// WAL

	WALEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxtime_wal_entries_total",
			Help: "WAL entries by outcome",
		},
		[]string{"outcome"}, // written, confirmed, replayed, dropped
	)
)
