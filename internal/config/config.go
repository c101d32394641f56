// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package config loads and validates the Voxtime server configuration.
//
// Configuration is layered, later layers overriding earlier ones:
//  1. compiled-in defaults
//  2. YAML config file (config.yaml, or CONFIG_PATH)
//  3. environment variables (VOXTIME_SERVER_PORT, REDIS_URL, ...)
package config

import "time"

// Config is the root configuration for the Voxtime server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Cache    CacheConfig    `koanf:"cache"`
	Tracker  TrackerConfig  `koanf:"tracker"`
	Report   ReportConfig   `koanf:"report"`
	WAL      WALConfig      `koanf:"wal"`
	NATS     NATSConfig     `koanf:"nats"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file. Empty means in-memory (tests).
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads limits DuckDB worker threads; 0 means runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// RedisConfig holds the distributed cache connection settings.
// Redis is optional: when disabled or unreachable the cache layer degrades
// to process-local memory with the same TTL semantics.
type RedisConfig struct {
	Enabled     bool          `koanf:"enabled"`
	URL         string        `koanf:"url"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	OpTimeout   time.Duration `koanf:"op_timeout"`
}

// CacheConfig holds the type-specific TTLs of the cache layer.
type CacheConfig struct {
	// ActivityTTL bounds staleness of live activity snapshots.
	ActivityTTL time.Duration `koanf:"activity_ttl"`
	// SettingsTTL bounds staleness of per-guild settings.
	SettingsTTL time.Duration `koanf:"settings_ttl"`
	// ReportTTL bounds staleness of rendered reports.
	ReportTTL time.Duration `koanf:"report_ttl"`
	// LocalMaxEntries bounds the in-process fallback map.
	LocalMaxEntries int `koanf:"local_max_entries" validate:"min=1"`
}

// TrackerConfig holds session tracker settings.
type TrackerConfig struct {
	// SessionTTL is the cache TTL for active-session records.
	SessionTTL time.Duration `koanf:"session_ttl"`
	// StalenessBound discards recovered sessions older than this on startup.
	StalenessBound time.Duration `koanf:"staleness_bound"`
}

// ReportConfig holds batch/streaming report engine settings.
type ReportConfig struct {
	BatchSize            int           `koanf:"batch_size" validate:"min=1"`
	MaxConcurrentBatches int           `koanf:"max_concurrent_batches" validate:"min=1"`
	MaxRetries           int           `koanf:"max_retries" validate:"min=0"`
	BackoffBase          time.Duration `koanf:"backoff_base"`
	// MaxErrors is the error-recovery budget: once more batches than this
	// have permanently failed the whole operation aborts.
	MaxErrors int `koanf:"max_errors" validate:"min=0"`
	// PartialEvery emits a partial result after every Nth completed batch.
	PartialEvery int `koanf:"partial_every" validate:"min=1"`
	// MemoryThresholdMB triggers a cleanup pass when process RSS exceeds it.
	MemoryThresholdMB uint64 `koanf:"memory_threshold_mb"`
	// ProgressInterval rate-limits progress emissions to subscribers.
	ProgressInterval time.Duration `koanf:"progress_interval"`
	// ActivePreview / BucketPreview bound partial-result sizes.
	ActivePreview int `koanf:"active_preview" validate:"min=1"`
	BucketPreview int `koanf:"bucket_preview" validate:"min=1"`
	// SweepInterval controls the report-cache expiry sweeper.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// WALConfig holds the badger write-ahead log settings.
type WALConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
	// RetryInterval is how often unconfirmed entries are replayed.
	RetryInterval time.Duration `koanf:"retry_interval"`
}

// NATSConfig holds optional JetStream ingestion settings (nats build tag).
type NATSConfig struct {
	Enabled     bool   `koanf:"enabled"`
	URL         string `koanf:"url"`
	Stream      string `koanf:"stream"`
	Subject     string `koanf:"subject"`
	DurableName string `koanf:"durable_name"`
	QueueGroup  string `koanf:"queue_group"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in defaults. Load starts from these before
// applying the config file and environment.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3857,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/voxtime.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		Redis: RedisConfig{
			Enabled:     false,
			URL:         "redis://127.0.0.1:6379/0",
			DialTimeout: 5 * time.Second,
			OpTimeout:   2 * time.Second,
		},
		Cache: CacheConfig{
			ActivityTTL:     5 * time.Minute,
			SettingsTTL:     10 * time.Minute,
			ReportTTL:       3 * time.Hour,
			LocalMaxEntries: 10000,
		},
		Tracker: TrackerConfig{
			SessionTTL:     24 * time.Hour,
			StalenessBound: 24 * time.Hour,
		},
		Report: ReportConfig{
			BatchSize:            50,
			MaxConcurrentBatches: 3,
			MaxRetries:           3,
			BackoffBase:          500 * time.Millisecond,
			MaxErrors:            5,
			PartialEvery:         3,
			MemoryThresholdMB:    512,
			ProgressInterval:     2 * time.Second,
			ActivePreview:        20,
			BucketPreview:        10,
			SweepInterval:        15 * time.Minute,
		},
		WAL: WALConfig{
			Enabled:       true,
			Dir:           "/data/wal",
			RetryInterval: 30 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:     false,
			URL:         "nats://127.0.0.1:4222",
			Stream:      "VOXTIME_EVENTS",
			Subject:     "presence.transitions",
			DurableName: "presence-tracker",
			QueueGroup:  "trackers",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
