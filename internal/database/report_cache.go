// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/metrics"
	"github.com/voxtime/voxtime/internal/models"
)

// ErrReportNotCached is returned when no live report cache row exists.
var ErrReportNotCached = errors.New("database: report not cached")

// ReportCacheEntry is a persisted rendered report. Authoritative only
// until ExpiresAt; after that it is garbage awaiting the sweeper.
type ReportCacheEntry struct {
	CacheKey         string
	GuildID          string
	Result           *models.ReportResult
	UserCount        int
	GenerationTimeMs int64
	GeneratedAt      time.Time
	ExpiresAt        time.Time
}

// PutReport stores (or replaces) a rendered report under its cache key.
func (db *DB) PutReport(ctx context.Context, cacheKey string, result *models.ReportResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal report payload: %w", err)
	}

	now := time.Now().UTC()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO report_cache
			(cache_key, guild_id, payload, user_count, generation_time_ms, generated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = excluded.payload,
			user_count = excluded.user_count,
			generation_time_ms = excluded.generation_time_ms,
			generated_at = excluded.generated_at,
			expires_at = excluded.expires_at`,
		cacheKey, result.GuildID, string(payload),
		result.UserCount, result.GenerationTimeMs, now, now.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("put report cache entry: %w", err)
	}
	return nil
}

// GetReport returns the cached report for the key, or ErrReportNotCached
// when absent or expired. A malformed payload is treated as a miss and the
// row is dropped.
func (db *DB) GetReport(ctx context.Context, cacheKey string) (*models.ReportResult, error) {
	var payload string
	var expiresAt time.Time

	err := db.conn.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM report_cache WHERE cache_key = ?`,
		cacheKey,
	).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		metrics.ReportCacheHits.WithLabelValues("miss").Inc()
		return nil, ErrReportNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("get report cache entry: %w", err)
	}

	if time.Now().After(expiresAt) {
		metrics.ReportCacheHits.WithLabelValues("expired").Inc()
		return nil, ErrReportNotCached
	}

	var result models.ReportResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		logging.Warn().Err(err).Str("cache_key", cacheKey).Msg("Malformed cached report dropped")
		_, _ = db.conn.ExecContext(ctx, `DELETE FROM report_cache WHERE cache_key = ?`, cacheKey)
		metrics.ReportCacheHits.WithLabelValues("miss").Inc()
		return nil, ErrReportNotCached
	}

	metrics.ReportCacheHits.WithLabelValues("hit").Inc()
	return &result, nil
}

// InvalidateGuildReports drops all cached reports of one guild. Called when
// guild settings change, since categorization rules feed report content.
func (db *DB) InvalidateGuildReports(ctx context.Context, guildID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM report_cache WHERE guild_id = ?`, guildID)
	if err != nil {
		return fmt.Errorf("invalidate guild reports: %w", err)
	}
	return nil
}

// SweepExpiredReports deletes expired report cache rows and returns how
// many were removed. Run periodically by the sweeper service.
func (db *DB) SweepExpiredReports(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM report_cache WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep report cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Debug().Int64("removed", n).Msg("Swept expired report cache entries")
	}
	return n, nil
}
