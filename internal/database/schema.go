// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package database

import "fmt"

// initSchema creates all tables and indexes. Idempotent.
func (db *DB) initSchema() error {
	statements := []string{
		// Raw completed sessions. The natural-key unique constraint makes
		// replayed inserts no-ops, which keeps the rollup replay-safe.
		`CREATE TABLE IF NOT EXISTS completed_sessions (
			id UUID PRIMARY KEY,
			guild_id VARCHAR NOT NULL,
			user_id VARCHAR NOT NULL,
			channel_id VARCHAR NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL,
			duration_ms BIGINT NOT NULL,
			display_name VARCHAR,
			created_at TIMESTAMP DEFAULT current_timestamp,
			UNIQUE (guild_id, user_id, channel_id, started_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_guild_user_time
			ON completed_sessions (guild_id, user_id, started_at)`,

		// Daily rollup: upserted additively as sessions complete.
		`CREATE TABLE IF NOT EXISTS daily_activity (
			guild_id VARCHAR NOT NULL,
			user_id VARCHAR NOT NULL,
			day TIMESTAMP NOT NULL,
			total_time_ms BIGINT NOT NULL,
			session_count BIGINT NOT NULL,
			first_activity TIMESTAMP NOT NULL,
			last_activity TIMESTAMP NOT NULL,
			channels_visited BIGINT NOT NULL,
			PRIMARY KEY (guild_id, user_id, day)
		)`,

		// Weekly/monthly rollups: recomputed from daily rows on every
		// contributing change, never patched incrementally.
		`CREATE TABLE IF NOT EXISTS weekly_activity (
			guild_id VARCHAR NOT NULL,
			user_id VARCHAR NOT NULL,
			period_start TIMESTAMP NOT NULL,
			total_time_ms BIGINT NOT NULL,
			session_count BIGINT NOT NULL,
			first_activity TIMESTAMP NOT NULL,
			last_activity TIMESTAMP NOT NULL,
			channels_visited BIGINT NOT NULL,
			PRIMARY KEY (guild_id, user_id, period_start)
		)`,
		`CREATE TABLE IF NOT EXISTS monthly_activity (
			guild_id VARCHAR NOT NULL,
			user_id VARCHAR NOT NULL,
			period_start TIMESTAMP NOT NULL,
			total_time_ms BIGINT NOT NULL,
			session_count BIGINT NOT NULL,
			first_activity TIMESTAMP NOT NULL,
			last_activity TIMESTAMP NOT NULL,
			channels_visited BIGINT NOT NULL,
			PRIMARY KEY (guild_id, user_id, period_start)
		)`,

		// Rendered report memoization with explicit expiry for the sweeper.
		`CREATE TABLE IF NOT EXISTS report_cache (
			cache_key VARCHAR PRIMARY KEY,
			guild_id VARCHAR NOT NULL,
			payload VARCHAR NOT NULL,
			user_count INTEGER NOT NULL,
			generation_time_ms BIGINT NOT NULL,
			generated_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_report_cache_expiry
			ON report_cache (expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
