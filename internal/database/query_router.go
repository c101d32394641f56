// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/metrics"
	"github.com/voxtime/voxtime/internal/models"
)

// The query router answers date-range aggregate queries from the cheapest
// sufficient granularity: spans of up to 7 days read the daily table,
// up to 30 days the weekly table, anything longer the monthly table.
//
// Partial edge periods are always read from the daily table, so results
// are day-exact for every span regardless of where the range falls
// relative to week and month boundaries.

// segment is one contiguous slice of a routed query.
type segment struct {
	granularity models.Granularity
	start       time.Time
	end         time.Time
}

// queryStart is the lower bound for the segment's period-column filter.
// Daily rows are keyed at day start, so a daily segment beginning mid-day
// must widen its filter to the day boundary or the partial first day's row
// falls outside the range entirely. Coarse segments are already aligned.
func (s segment) queryStart() time.Time {
	if s.granularity == models.GranularityDaily {
		return models.DayStart(s.start)
	}
	return s.start
}

// routeSegments splits the half-open range into whole coarse periods plus
// daily edges. A range too short to contain a whole coarse period routes
// entirely to the daily table.
func routeSegments(r models.DateRange) []segment {
	days := r.Days()

	var g models.Granularity
	switch {
	case days <= 7:
		return []segment{{models.GranularityDaily, r.Start, r.End}}
	case days <= 30:
		g = models.GranularityWeekly
	default:
		g = models.GranularityMonthly
	}

	firstWhole := models.PeriodStart(g, r.Start)
	if firstWhole.Before(r.Start) {
		firstWhole = models.PeriodEnd(g, firstWhole)
	}
	lastWholeEnd := models.PeriodStart(g, r.End)

	if !firstWhole.Before(lastWholeEnd) {
		// No whole period fits; the daily table answers the whole range.
		return []segment{{models.GranularityDaily, r.Start, r.End}}
	}

	var segs []segment
	if r.Start.Before(firstWhole) {
		segs = append(segs, segment{models.GranularityDaily, r.Start, firstWhole})
	}
	segs = append(segs, segment{g, firstWhole, lastWholeEnd})
	if lastWholeEnd.Before(r.End) {
		segs = append(segs, segment{models.GranularityDaily, lastWholeEnd, r.End})
	}
	return segs
}

// aggregateTable maps a granularity to its table and period column.
func aggregateTable(g models.Granularity) (table, column string) {
	switch g {
	case models.GranularityWeekly:
		return "weekly_activity", "period_start"
	case models.GranularityMonthly:
		return "monthly_activity", "period_start"
	default:
		return "daily_activity", "day"
	}
}

// QueryRange returns the user's total tracked time in the half-open range.
func (db *DB) QueryRange(ctx context.Context, guildID, userID string, r models.DateRange) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("range", routeLabel(r)).Observe(time.Since(start).Seconds())
	}()

	var total int64
	for _, seg := range routeSegments(r) {
		table, column := aggregateTable(seg.granularity)
		//nolint:gosec // table and column come from aggregateTable, never from input
		query := fmt.Sprintf(
			`SELECT COALESCE(SUM(total_time_ms), 0) FROM %s
			WHERE guild_id = ? AND user_id = ? AND %s >= ? AND %s < ?`,
			table, column, column)

		var sum int64
		err := db.conn.QueryRowContext(ctx, query,
			guildID, userID, asTimestamp(seg.queryStart()), asTimestamp(seg.end),
		).Scan(&sum)
		if err != nil {
			return 0, fmt.Errorf("query %s segment: %w", seg.granularity, err)
		}
		total += sum
	}
	return total, nil
}

// QueryBatch returns total tracked time per user over the range using one
// grouped query per routed segment instead of one query per user. Users
// with no activity map to 0.
//
// If the grouped path fails, the router degrades to sequential per-user
// queries rather than failing the whole report.
func (db *DB) QueryBatch(ctx context.Context, guildID string, userIDs []string, r models.DateRange) (map[string]int64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(userIDs))
	for _, id := range userIDs {
		result[id] = 0
	}
	if len(userIDs) == 0 {
		return result, nil
	}

	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("batch", routeLabel(r)).Observe(time.Since(start).Seconds())
	}()

	if err := db.queryBatchGrouped(ctx, guildID, userIDs, r, result); err != nil {
		metrics.QueryFallbacks.Inc()
		logging.Warn().Err(err).
			Str("guild_id", guildID).
			Int("users", len(userIDs)).
			Msg("Grouped activity query failed, falling back to sequential")
		return db.queryBatchSequential(ctx, guildID, userIDs, r)
	}
	return result, nil
}

// queryBatchGrouped accumulates grouped sums per segment into result.
func (db *DB) queryBatchGrouped(ctx context.Context, guildID string, userIDs []string, r models.DateRange, result map[string]int64) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")

	for _, seg := range routeSegments(r) {
		table, column := aggregateTable(seg.granularity)
		//nolint:gosec // table and column come from aggregateTable, never from input
		query := fmt.Sprintf(
			`SELECT user_id, COALESCE(SUM(total_time_ms), 0) FROM %s
			WHERE guild_id = ? AND %s >= ? AND %s < ? AND user_id IN (%s)
			GROUP BY user_id`,
			table, column, column, placeholders)

		args := make([]interface{}, 0, len(userIDs)+3)
		args = append(args, guildID, asTimestamp(seg.queryStart()), asTimestamp(seg.end))
		for _, id := range userIDs {
			args = append(args, id)
		}

		rows, err := db.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("grouped %s segment: %w", seg.granularity, err)
		}

		for rows.Next() {
			var userID string
			var sum int64
			if err := rows.Scan(&userID, &sum); err != nil {
				rows.Close()
				return fmt.Errorf("scan grouped row: %w", err)
			}
			result[userID] += sum
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}

// queryBatchSequential is the unoptimized per-user fallback.
func (db *DB) queryBatchSequential(ctx context.Context, guildID string, userIDs []string, r models.DateRange) (map[string]int64, error) {
	result := make(map[string]int64, len(userIDs))
	for _, id := range userIDs {
		total, err := db.QueryRange(ctx, guildID, id, r)
		if err != nil {
			return nil, fmt.Errorf("sequential query for user %s: %w", id, err)
		}
		result[id] = total
	}
	return result, nil
}

// ListActiveUsers returns the distinct users with any recorded activity in
// the guild over the range. Used to build the report population when no
// explicit user set is given.
func (db *DB) ListActiveUsers(ctx context.Context, guildID string, r models.DateRange) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM daily_activity
		WHERE guild_id = ? AND day >= ? AND day < ?
		ORDER BY user_id`,
		guildID, asTimestamp(models.DayStart(r.Start)), asTimestamp(r.End),
	)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// routeLabel names the coarse tier a range routes to, for metrics.
func routeLabel(r models.DateRange) string {
	days := r.Days()
	switch {
	case days <= 7:
		return "daily"
	case days <= 30:
		return "weekly"
	default:
		return "monthly"
	}
}
