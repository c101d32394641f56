// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/voxtime/voxtime/internal/metrics"
	"github.com/voxtime/voxtime/internal/models"
)

func mkReportResult(guildID string) *models.ReportResult {
	return &models.ReportResult{
		OperationID: "op-1",
		GuildID:     guildID,
		State:       models.ReportCompleted,
		Users: []models.UserActivity{
			{UserID: "u1", TotalTimeMs: 3600000, Bucket: models.BucketActive},
		},
		UserCount:        1,
		GenerationTimeMs: 120,
		GeneratedAt:      time.Now().UTC(),
	}
}

func TestReportCacheRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.PutReport(ctx, "key1", mkReportResult("g1"), time.Hour); err != nil {
		t.Fatalf("PutReport: %v", err)
	}

	got, err := db.GetReport(ctx, "key1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.GuildID != "g1" || got.UserCount != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Users) != 1 || got.Users[0].TotalTimeMs != 3600000 {
		t.Errorf("users not preserved: %+v", got.Users)
	}
}

func TestReportCacheMiss(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.GetReport(context.Background(), "absent"); !errors.Is(err, ErrReportNotCached) {
		t.Errorf("expected ErrReportNotCached, got %v", err)
	}
}

func TestReportCacheExpiry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.PutReport(ctx, "key1", mkReportResult("g1"), -time.Minute); err != nil {
		t.Fatalf("PutReport: %v", err)
	}

	if _, err := db.GetReport(ctx, "key1"); !errors.Is(err, ErrReportNotCached) {
		t.Errorf("expired entry must read as miss, got %v", err)
	}

	removed, err := db.SweepExpiredReports(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredReports: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 swept row, got %d", removed)
	}
}

func TestReportCacheReplace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	db.PutReport(ctx, "key1", mkReportResult("g1"), time.Hour)

	updated := mkReportResult("g1")
	updated.UserCount = 5
	if err := db.PutReport(ctx, "key1", updated, time.Hour); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := db.GetReport(ctx, "key1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.UserCount != 5 {
		t.Errorf("expected replaced entry, got %+v", got)
	}
}

func TestInvalidateGuildReports(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	db.PutReport(ctx, "g1-key", mkReportResult("g1"), time.Hour)
	db.PutReport(ctx, "g2-key", mkReportResult("g2"), time.Hour)

	if err := db.InvalidateGuildReports(ctx, "g1"); err != nil {
		t.Fatalf("InvalidateGuildReports: %v", err)
	}

	if _, err := db.GetReport(ctx, "g1-key"); !errors.Is(err, ErrReportNotCached) {
		t.Error("g1 report should be invalidated")
	}
	if _, err := db.GetReport(ctx, "g2-key"); err != nil {
		t.Errorf("g2 report should survive: %v", err)
	}
}

func TestReportCacheMetricsCountedOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	hit := metrics.ReportCacheHits.WithLabelValues("hit")
	miss := metrics.ReportCacheHits.WithLabelValues("miss")
	hitBefore := testutil.ToFloat64(hit)
	missBefore := testutil.ToFloat64(miss)

	if _, err := db.GetReport(ctx, "absent"); !errors.Is(err, ErrReportNotCached) {
		t.Fatalf("expected ErrReportNotCached, got %v", err)
	}
	if got := testutil.ToFloat64(miss) - missBefore; got != 1 {
		t.Errorf("miss counted %v times, want 1", got)
	}

	if err := db.PutReport(ctx, "key-m", mkReportResult("g1"), time.Hour); err != nil {
		t.Fatalf("PutReport: %v", err)
	}
	if _, err := db.GetReport(ctx, "key-m"); err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got := testutil.ToFloat64(hit) - hitBefore; got != 1 {
		t.Errorf("hit counted %v times, want 1", got)
	}
}
