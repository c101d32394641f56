// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package database

import (
	"context"
	"testing"
	"time"

	"github.com/voxtime/voxtime/internal/models"
)

func TestRouteSegmentsShortRangeIsDaily(t *testing.T) {
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	segs := routeSegments(models.DateRange{Start: start, End: start.AddDate(0, 0, 7)})

	if len(segs) != 1 || segs[0].granularity != models.GranularityDaily {
		t.Fatalf("7-day range must route to a single daily segment, got %+v", segs)
	}
}

func TestRouteSegmentsWeeklyWithEdges(t *testing.T) {
	// Wednesday start, 10-day span: daily edge, no whole week until the
	// following Monday.
	start := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC) // Wednesday
	end := start.AddDate(0, 0, 10)                        // Saturday week after
	segs := routeSegments(models.DateRange{Start: start, End: end})

	// The only candidate week [Mar 16, Mar 23) overruns the Saturday end,
	// so no whole week fits and everything routes daily.
	for _, s := range segs {
		if s.granularity != models.GranularityDaily {
			t.Fatalf("span without a whole week must stay daily, got %+v", segs)
		}
	}
}

func TestRouteSegmentsAlignedWeeks(t *testing.T) {
	// Monday-aligned 28-day span routes as one weekly segment.
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	segs := routeSegments(models.DateRange{Start: start, End: start.AddDate(0, 0, 28)})

	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %+v", segs)
	}
	if segs[0].granularity != models.GranularityWeekly {
		t.Errorf("expected weekly segment, got %s", segs[0].granularity)
	}
}

func TestRouteSegmentsMisalignedWeeks(t *testing.T) {
	// Wednesday start, 30-day span: daily edge + whole weeks + daily edge.
	start := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC) // Wednesday
	end := start.AddDate(0, 0, 30)
	segs := routeSegments(models.DateRange{Start: start, End: end})

	if len(segs) != 3 {
		t.Fatalf("expected edge+weekly+edge, got %+v", segs)
	}
	if segs[0].granularity != models.GranularityDaily ||
		segs[1].granularity != models.GranularityWeekly ||
		segs[2].granularity != models.GranularityDaily {
		t.Errorf("unexpected segment granularities: %+v", segs)
	}
	// Segments must tile the range exactly.
	if !segs[0].start.Equal(start) || !segs[2].end.Equal(end) {
		t.Errorf("segments do not cover the range: %+v", segs)
	}
	if !segs[0].end.Equal(segs[1].start) || !segs[1].end.Equal(segs[2].start) {
		t.Errorf("segments do not tile contiguously: %+v", segs)
	}
}

func TestRouteSegmentsMonthly(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	segs := routeSegments(models.DateRange{Start: start, End: start.AddDate(0, 3, 0)})

	if len(segs) != 1 || segs[0].granularity != models.GranularityMonthly {
		t.Fatalf("aligned 3-month span must route monthly, got %+v", segs)
	}
}

// TestRouterEquivalence pins the router property: for a fixed data set the
// answer is identical no matter which granularity tier serves the query.
func TestRouterEquivalence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC) // Wednesday

	// One 30-minute session per day for 40 consecutive days, crossing a
	// week boundary and the February/March month boundary.
	for d := 0; d < 40; d++ {
		start := base.AddDate(0, 0, d).Add(9 * time.Hour)
		if err := db.InsertCompletedSession(ctx, mkSession("g1", "u1", "c1", start, 30*time.Minute)); err != nil {
			t.Fatalf("insert day %d: %v", d, err)
		}
	}

	// Spans straddling every tier boundary: 1, 7, 8, 30, 31 days, plus 40
	// to cover the monthly path with edges.
	for _, days := range []int{1, 7, 8, 30, 31, 40} {
		r := models.DateRange{Start: base, End: base.AddDate(0, 0, days)}

		got, err := db.QueryRange(ctx, "g1", "u1", r)
		if err != nil {
			t.Fatalf("QueryRange(%dd): %v", days, err)
		}

		// Ground truth straight from the raw table.
		var want int64
		err = db.conn.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(duration_ms), 0) FROM completed_sessions
			WHERE guild_id = 'g1' AND user_id = 'u1' AND started_at >= ? AND started_at < ?`,
			r.Start, r.End,
		).Scan(&want)
		if err != nil {
			t.Fatalf("ground truth(%dd): %v", days, err)
		}

		if got != want {
			t.Errorf("span %dd: router returned %d, raw sum is %d", days, got, want)
		}
	}
}

func TestQueryBatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Three users join at t and leave at t+1h; all should total one hour.
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, u := range []string{"u1", "u2", "u3"} {
		if err := db.InsertCompletedSession(ctx, mkSession("g1", u, "r1", start, time.Hour)); err != nil {
			t.Fatalf("insert %s: %v", u, err)
		}
	}

	r := models.DateRange{Start: start, End: start.Add(time.Hour)}
	got, err := db.QueryBatch(ctx, "g1", []string{"u1", "u2", "u3", "ghost"}, r)
	if err != nil {
		t.Fatalf("QueryBatch: %v", err)
	}

	for _, u := range []string{"u1", "u2", "u3"} {
		if got[u] != 3600000 {
			t.Errorf("%s = %d, want 3600000", u, got[u])
		}
	}
	if got["ghost"] != 0 {
		t.Errorf("absent user must default to 0, got %d", got["ghost"])
	}
}

func TestQueryBatchEmpty(t *testing.T) {
	db := newTestDB(t)

	r := models.DateRange{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	got, err := db.QueryBatch(context.Background(), "g1", nil, r)
	if err != nil {
		t.Fatalf("QueryBatch(empty): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestQueryBatchMatchesSequential(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	users := []string{"u1", "u2", "u3"}
	for i, u := range users {
		for d := 0; d < 20; d += i + 1 {
			start := base.AddDate(0, 0, d).Add(time.Duration(i+1) * time.Hour)
			if err := db.InsertCompletedSession(ctx, mkSession("g1", u, "c1", start, time.Hour)); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
	}

	r := models.DateRange{Start: base, End: base.AddDate(0, 0, 21)}
	grouped, err := db.QueryBatch(ctx, "g1", users, r)
	if err != nil {
		t.Fatalf("QueryBatch: %v", err)
	}
	sequential, err := db.queryBatchSequential(ctx, "g1", users, r)
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}

	for _, u := range users {
		if grouped[u] != sequential[u] {
			t.Errorf("%s: grouped %d != sequential %d", u, grouped[u], sequential[u])
		}
	}
}

func TestListActiveUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	db.InsertCompletedSession(ctx, mkSession("g1", "u1", "c1", start, time.Hour))
	db.InsertCompletedSession(ctx, mkSession("g1", "u2", "c1", start, time.Hour))
	db.InsertCompletedSession(ctx, mkSession("g2", "u3", "c1", start, time.Hour))

	r := models.DateRange{Start: models.DayStart(start), End: models.DayStart(start).AddDate(0, 0, 1)}
	users, err := db.ListActiveUsers(ctx, "g1", r)
	if err != nil {
		t.Fatalf("ListActiveUsers: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Errorf("expected [u1 u2], got %v", users)
	}
}

func TestQueryRangeMidDayStart(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Three users each spend one hour starting mid-afternoon; querying the
	// exact hour must still find the daily row keyed at day start.
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	users := []string{"u1", "u2", "u3"}
	for _, u := range users {
		if err := db.InsertCompletedSession(ctx, mkSession("g1", u, "c1", start, time.Hour)); err != nil {
			t.Fatalf("insert %s: %v", u, err)
		}
	}

	r := models.DateRange{Start: start, End: start.Add(time.Hour)}
	want := time.Hour.Milliseconds()

	for _, u := range users {
		got, err := db.QueryRange(ctx, "g1", u, r)
		if err != nil {
			t.Fatalf("QueryRange %s: %v", u, err)
		}
		if got != want {
			t.Errorf("QueryRange %s = %d, want %d", u, got, want)
		}
	}

	batch, err := db.QueryBatch(ctx, "g1", users, r)
	if err != nil {
		t.Fatalf("QueryBatch: %v", err)
	}
	for _, u := range users {
		if batch[u] != want {
			t.Errorf("QueryBatch %s = %d, want %d", u, batch[u], want)
		}
	}
}

func TestQueryBatchMidDayStartAcrossWeeks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// A mid-day start on a span long enough to route through the weekly
	// table: the partial first day still belongs to the daily edge.
	start := time.Date(2026, 3, 11, 18, 30, 0, 0, time.UTC) // Wednesday evening
	for d := 0; d < 14; d++ {
		s := mkSession("g1", "u1", "c1", start.AddDate(0, 0, d), 30*time.Minute)
		if err := db.InsertCompletedSession(ctx, s); err != nil {
			t.Fatalf("insert day %d: %v", d, err)
		}
	}

	r := models.DateRange{Start: start, End: start.AddDate(0, 0, 14)}
	batch, err := db.QueryBatch(ctx, "g1", []string{"u1"}, r)
	if err != nil {
		t.Fatalf("QueryBatch: %v", err)
	}
	want := 14 * (30 * time.Minute).Milliseconds()
	if batch["u1"] != want {
		t.Errorf("QueryBatch = %d, want %d", batch["u1"], want)
	}
}
