// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/metrics"
	"github.com/voxtime/voxtime/internal/models"
)

// InsertCompletedSession inserts the immutable session record and runs the
// rollup hook for all three granularities.
//
// Replay safety: the insert dedups on the natural key
// (guild_id, user_id, channel_id, started_at) with ON CONFLICT DO NOTHING,
// and the rollup only runs when a row was actually inserted. Inserting the
// same session twice therefore never double-counts.
func (db *DB) InsertCompletedSession(ctx context.Context, s *models.CompletedSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO completed_sessions
			(id, guild_id, user_id, channel_id, started_at, ended_at, duration_ms, display_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, user_id, channel_id, started_at) DO NOTHING`,
		s.ID, s.GuildID, s.UserID, s.ChannelID,
		asTimestamp(s.StartedAt), asTimestamp(s.EndedAt), s.DurationMs, s.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("insert completed session: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert completed session: rows affected: %w", err)
	}
	if inserted == 0 {
		metrics.DuplicateSessions.Inc()
		logging.Debug().
			Str("guild_id", s.GuildID).
			Str("user_id", s.UserID).
			Time("started_at", s.StartedAt).
			Msg("Duplicate completed session skipped")
		return nil
	}

	return db.rollup(ctx, s)
}

// rollup is the synchronous post-insert hook maintaining all three
// aggregate tiers for the session's owner.
func (db *DB) rollup(ctx context.Context, s *models.CompletedSession) error {
	if err := db.upsertDaily(ctx, s); err != nil {
		return err
	}
	day := models.DayStart(s.StartedAt)
	if err := db.recomputePeriod(ctx, models.GranularityWeekly, s.GuildID, s.UserID, day); err != nil {
		return err
	}
	return db.recomputePeriod(ctx, models.GranularityMonthly, s.GuildID, s.UserID, day)
}

// upsertDaily additively folds the session into its daily row. The
// channels_visited count is recomputed from the raw table because distinct
// counts cannot be maintained incrementally.
func (db *DB) upsertDaily(ctx context.Context, s *models.CompletedSession) error {
	start := time.Now()
	defer func() {
		metrics.RollupDuration.WithLabelValues("daily").Observe(time.Since(start).Seconds())
	}()

	day := models.DayStart(s.StartedAt)
	dayEnd := models.PeriodEnd(models.GranularityDaily, day)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO daily_activity
			(guild_id, user_id, day, total_time_ms, session_count,
			 first_activity, last_activity, channels_visited)
		VALUES (?, ?, ?, ?, 1, ?, ?, 1)
		ON CONFLICT (guild_id, user_id, day) DO UPDATE SET
			total_time_ms = daily_activity.total_time_ms + excluded.total_time_ms,
			session_count = daily_activity.session_count + 1,
			first_activity = LEAST(daily_activity.first_activity, excluded.first_activity),
			last_activity = GREATEST(daily_activity.last_activity, excluded.last_activity)`,
		s.GuildID, s.UserID, day, s.DurationMs,
		asTimestamp(s.StartedAt), asTimestamp(s.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert daily aggregate: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`UPDATE daily_activity SET channels_visited = (
			SELECT COUNT(DISTINCT channel_id) FROM completed_sessions
			WHERE guild_id = ? AND user_id = ? AND started_at >= ? AND started_at < ?
		) WHERE guild_id = ? AND user_id = ? AND day = ?`,
		s.GuildID, s.UserID, day, dayEnd,
		s.GuildID, s.UserID, day,
	)
	if err != nil {
		return fmt.Errorf("recount daily channels: %w", err)
	}
	return nil
}

// recomputePeriod rebuilds one weekly or monthly row as the sum of its
// constituent daily rows. Full recompute, not delta apply: replays and
// out-of-order completions converge to the same value.
func (db *DB) recomputePeriod(ctx context.Context, g models.Granularity, guildID, userID string, day time.Time) error {
	start := time.Now()
	defer func() {
		metrics.RollupDuration.WithLabelValues(string(g)).Observe(time.Since(start).Seconds())
	}()

	periodStart := models.PeriodStart(g, day)
	periodEnd := models.PeriodEnd(g, periodStart)

	table := "weekly_activity"
	if g == models.GranularityMonthly {
		table = "monthly_activity"
	}

	//nolint:gosec // table name comes from the granularity switch above, never from input
	query := fmt.Sprintf(`INSERT INTO %s
			(guild_id, user_id, period_start, total_time_ms, session_count,
			 first_activity, last_activity, channels_visited)
		SELECT d.guild_id, d.user_id, ?, SUM(d.total_time_ms), SUM(d.session_count),
			MIN(d.first_activity), MAX(d.last_activity),
			(SELECT COUNT(DISTINCT cs.channel_id) FROM completed_sessions cs
				WHERE cs.guild_id = ? AND cs.user_id = ?
				  AND cs.started_at >= ? AND cs.started_at < ?)
		FROM daily_activity d
		WHERE d.guild_id = ? AND d.user_id = ? AND d.day >= ? AND d.day < ?
		GROUP BY d.guild_id, d.user_id
		ON CONFLICT (guild_id, user_id, period_start) DO UPDATE SET
			total_time_ms = excluded.total_time_ms,
			session_count = excluded.session_count,
			first_activity = excluded.first_activity,
			last_activity = excluded.last_activity,
			channels_visited = excluded.channels_visited`, table)

	_, err := db.conn.ExecContext(ctx, query,
		periodStart,
		guildID, userID, periodStart, periodEnd,
		guildID, userID, periodStart, periodEnd,
	)
	if err != nil {
		return fmt.Errorf("recompute %s aggregate: %w", g, err)
	}
	return nil
}

// SessionCount returns the number of raw completed sessions for a user in
// a range. Used by health checks and tests.
func (db *DB) SessionCount(ctx context.Context, guildID, userID string, r models.DateRange) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM completed_sessions
		WHERE guild_id = ? AND user_id = ? AND started_at >= ? AND started_at < ?`,
		guildID, userID, asTimestamp(r.Start), asTimestamp(r.End),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// DailyAggregates returns the daily rows for a user in a range, ordered by
// day. Used by tests and the data-quality surface.
func (db *DB) DailyAggregates(ctx context.Context, guildID, userID string, r models.DateRange) ([]models.ActivityAggregate, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT day, total_time_ms, session_count, first_activity, last_activity, channels_visited
		FROM daily_activity
		WHERE guild_id = ? AND user_id = ? AND day >= ? AND day < ?
		ORDER BY day`,
		guildID, userID, asTimestamp(r.Start), asTimestamp(r.End),
	)
	if err != nil {
		return nil, fmt.Errorf("query daily aggregates: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityAggregate
	for rows.Next() {
		a := models.ActivityAggregate{
			GuildID:     guildID,
			UserID:      userID,
			Granularity: models.GranularityDaily,
		}
		if err := rows.Scan(&a.PeriodStart, &a.TotalTimeMs, &a.SessionCount,
			&a.FirstActivity, &a.LastActivity, &a.ChannelsVisited); err != nil {
			return nil, fmt.Errorf("scan daily aggregate: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
