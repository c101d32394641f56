// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package models

import (
	"fmt"
	"time"
)

// Granularity identifies one of the three rollup tiers.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// ActivityAggregate is a pre-summed view of completed sessions for one user
// in one guild at one granularity. Daily rows are upserted additively as
// sessions complete; weekly and monthly rows are recomputed from their
// constituent daily rows so replays and out-of-order writes converge.
type ActivityAggregate struct {
	UserID          string      `json:"user_id"`
	GuildID         string      `json:"guild_id"`
	Granularity     Granularity `json:"granularity"`
	PeriodStart     time.Time   `json:"period_start"`
	TotalTimeMs     int64       `json:"total_time_ms"`
	SessionCount    int64       `json:"session_count"`
	FirstActivity   time.Time   `json:"first_activity"`
	LastActivity    time.Time   `json:"last_activity"`
	ChannelsVisited int64       `json:"channels_visited"`
}

// DateRange is a half-open [Start, End) query window.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks range ordering.
func (r DateRange) Validate() error {
	if !r.End.After(r.Start) {
		return fmt.Errorf("date range: end %s must be after start %s",
			r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

// Days returns the number of calendar days the range spans, rounded up.
func (r DateRange) Days() int {
	days := int(r.End.Sub(r.Start) / (24 * time.Hour))
	if r.End.Sub(r.Start)%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// DayStart truncates t to the start of its UTC day.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekStart truncates t to the start of its ISO week (Monday 00:00 UTC).
func WeekStart(t time.Time) time.Time {
	day := DayStart(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

// MonthStart truncates t to the first day of its UTC month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodStart returns the start of the period containing t at the given
// granularity.
func PeriodStart(g Granularity, t time.Time) time.Time {
	switch g {
	case GranularityWeekly:
		return WeekStart(t)
	case GranularityMonthly:
		return MonthStart(t)
	default:
		return DayStart(t)
	}
}

// PeriodEnd returns the exclusive end of the period starting at start.
func PeriodEnd(g Granularity, start time.Time) time.Time {
	switch g {
	case GranularityWeekly:
		return start.AddDate(0, 0, 7)
	case GranularityMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}
