// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/voxtime/voxtime/internal/cache"
	"github.com/voxtime/voxtime/internal/models"
	"github.com/voxtime/voxtime/internal/settings"
)

func TestRecoverKeepsFreshDiscardsStale(t *testing.T) {
	store := cache.NewMemory(1000)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := &models.ActiveSession{
		UserID: "u1", GuildID: "g1", ChannelID: "a",
		StartedAt: now.Add(-2 * time.Hour),
	}
	stale := &models.ActiveSession{
		UserID: "u2", GuildID: "g1", ChannelID: "a",
		StartedAt: now.Add(-48 * time.Hour),
	}
	cache.SetJSON(ctx, store, cache.SessionKey("g1", "u1"), fresh, 24*time.Hour)
	cache.SetJSON(ctx, store, cache.SessionKey("g1", "u2"), stale, 24*time.Hour)
	// Unrelated keys under the shared prefix must be ignored.
	store.Set(ctx, cache.SettingsKey("g1"), []byte(`{}`), time.Hour)

	rec := &memRecorder{}
	tr := New(store, rec, settings.NewMemory(), nil, 24*time.Hour, 24*time.Hour)
	if err := tr.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if tr.ActiveCount() != 1 {
		t.Fatalf("expected 1 recovered session, got %d", tr.ActiveCount())
	}

	// The stale record is gone from the cache too.
	if _, err := store.Get(ctx, cache.SessionKey("g1", "u2")); err != cache.ErrNotFound {
		t.Error("stale session record should be deleted")
	}

	// The recovered session behaves normally: a leave closes it with
	// duration measured from the original start.
	tr.OnTransition(ctx, transition("u1", "g1", "a", "", now))
	got := rec.completed()
	if len(got) != 1 {
		t.Fatalf("expected 1 completed session, got %d", len(got))
	}
	want := now.Sub(fresh.StartedAt).Milliseconds()
	if got[0].DurationMs != want {
		t.Errorf("expected %dms, got %dms", want, got[0].DurationMs)
	}
}

func TestRecoverDropsInvalidRecords(t *testing.T) {
	store := cache.NewMemory(1000)
	ctx := context.Background()

	store.Set(ctx, cache.SessionKey("g1", "u1"), []byte(`{"user_id":""}`), time.Hour)

	tr := New(store, &memRecorder{}, settings.NewMemory(), nil, 24*time.Hour, 24*time.Hour)
	if err := tr.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if tr.ActiveCount() != 0 {
		t.Errorf("invalid records must not be recovered, got %d", tr.ActiveCount())
	}
}
