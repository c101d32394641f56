// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voxtime/voxtime/internal/cache"
	"github.com/voxtime/voxtime/internal/models"
	"github.com/voxtime/voxtime/internal/settings"
)

// memRecorder collects completed sessions in memory.
type memRecorder struct {
	mu       sync.Mutex
	sessions []*models.CompletedSession
	fail     bool
}

func (r *memRecorder) InsertCompletedSession(_ context.Context, s *models.CompletedSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return context.DeadlineExceeded
	}
	r.sessions = append(r.sessions, s)
	return nil
}

func (r *memRecorder) completed() []*models.CompletedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.CompletedSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}

func newTestTracker(t *testing.T) (*Tracker, *memRecorder, *settings.Memory, cache.Store) {
	t.Helper()
	rec := &memRecorder{}
	prov := settings.NewMemory()
	store := cache.NewMemory(1000)
	tr := New(store, rec, prov, nil, 24*time.Hour, 24*time.Hour)
	return tr, rec, prov, store
}

func transition(user, guild, old, channel string, at time.Time) *models.TransitionEvent {
	return &models.TransitionEvent{
		EventID:      "e-" + user + "-" + at.Format(time.RFC3339Nano),
		UserID:       user,
		GuildID:      guild,
		OldChannelID: old,
		NewChannelID: channel,
		Timestamp:    at,
	}
}

func TestJoinThenLeave(t *testing.T) {
	tr, rec, _, _ := newTestTracker(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := tr.OnTransition(ctx, transition("u1", "g1", "", "general", t0)); err != nil {
		t.Fatalf("join: %v", err)
	}
	if tr.ActiveCount() != 1 {
		t.Fatalf("expected 1 active session, got %d", tr.ActiveCount())
	}

	if err := tr.OnTransition(ctx, transition("u1", "g1", "general", "", t0.Add(time.Hour))); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if tr.ActiveCount() != 0 {
		t.Fatalf("expected 0 active sessions, got %d", tr.ActiveCount())
	}

	got := rec.completed()
	if len(got) != 1 {
		t.Fatalf("expected 1 completed session, got %d", len(got))
	}
	if got[0].DurationMs != time.Hour.Milliseconds() {
		t.Errorf("expected 1h duration, got %dms", got[0].DurationMs)
	}
	if got[0].ChannelID != "general" {
		t.Errorf("expected channel general, got %s", got[0].ChannelID)
	}
}

func TestMoveClosesAndReopens(t *testing.T) {
	tr, rec, _, _ := newTestTracker(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tr.OnTransition(ctx, transition("u1", "g1", "", "a", t0))
	tr.OnTransition(ctx, transition("u1", "g1", "a", "b", t0.Add(30*time.Minute)))

	got := rec.completed()
	if len(got) != 1 {
		t.Fatalf("move must close the first session, got %d completed", len(got))
	}
	if got[0].ChannelID != "a" || got[0].DurationMs != (30*time.Minute).Milliseconds() {
		t.Errorf("unexpected closed session: %+v", got[0])
	}
	if tr.ActiveCount() != 1 {
		t.Errorf("move must leave one session open, got %d", tr.ActiveCount())
	}

	tr.OnTransition(ctx, transition("u1", "g1", "b", "", t0.Add(time.Hour)))
	got = rec.completed()
	if len(got) != 2 || got[1].ChannelID != "b" {
		t.Fatalf("expected second session in b, got %+v", got)
	}
	if got[1].DurationMs != (30 * time.Minute).Milliseconds() {
		t.Errorf("expected 30m in b, got %dms", got[1].DurationMs)
	}
}

func TestIdenticalTransitionIsNoop(t *testing.T) {
	tr, rec, _, _ := newTestTracker(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tr.OnTransition(ctx, transition("u1", "g1", "", "a", t0))
	// Repeated join into the same channel (platform reconnect chatter).
	tr.OnTransition(ctx, transition("u1", "g1", "a", "a", t0.Add(time.Minute)))
	tr.OnTransition(ctx, transition("u1", "g1", "a", "a", t0.Add(2*time.Minute)))

	if tr.ActiveCount() != 1 {
		t.Fatalf("expected 1 active session, got %d", tr.ActiveCount())
	}

	tr.OnTransition(ctx, transition("u1", "g1", "a", "", t0.Add(time.Hour)))
	got := rec.completed()
	if len(got) != 1 {
		t.Fatalf("expected 1 completed session, got %d", len(got))
	}
	// Duration measured from the original join, not the repeats.
	if got[0].DurationMs != time.Hour.Milliseconds() {
		t.Errorf("expected 1h, got %dms", got[0].DurationMs)
	}
}

func TestStaleSessionReusedWithResetStart(t *testing.T) {
	tr, rec, _, _ := newTestTracker(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tr.OnTransition(ctx, transition("u1", "g1", "", "a", t0))

	// Two days later the user is apparently still "joining" the same
	// channel: the old session is past the staleness bound, so its start
	// time resets instead of accruing 48h of presence.
	t1 := t0.Add(48 * time.Hour)
	tr.OnTransition(ctx, transition("u1", "g1", "a", "a", t1))
	tr.OnTransition(ctx, transition("u1", "g1", "a", "", t1.Add(time.Hour)))

	got := rec.completed()
	if len(got) != 1 {
		t.Fatalf("expected 1 completed session, got %d", len(got))
	}
	if got[0].DurationMs != time.Hour.Milliseconds() {
		t.Errorf("stale session must reset start time: got %dms", got[0].DurationMs)
	}
}

func TestExcludedChannelNotTracked(t *testing.T) {
	tr, _, prov, _ := newTestTracker(t)
	ctx := context.Background()
	prov.Update(ctx, &models.GuildSettings{
		GuildID:          "g1",
		ExcludedChannels: []string{"afk"},
	})

	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tr.OnTransition(ctx, transition("u1", "g1", "", "afk", t0))

	if tr.ActiveCount() != 0 {
		t.Errorf("joining an excluded channel must not open a session")
	}
}

func TestMidSessionExclusionStillCloses(t *testing.T) {
	tr, rec, prov, _ := newTestTracker(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// User joins while the channel is tracked.
	tr.OnTransition(ctx, transition("u1", "g1", "", "r1", t0))

	// The guild excludes the channel mid-session.
	prov.Update(ctx, &models.GuildSettings{
		GuildID:          "g1",
		ExcludedChannels: []string{"r1"},
	})

	// The leave is still honored and the session closes.
	tr.OnTransition(ctx, transition("u1", "g1", "r1", "", t0.Add(time.Hour)))
	if tr.ActiveCount() != 0 {
		t.Fatal("in-progress session must close after mid-session exclusion")
	}
	if len(rec.completed()) != 1 {
		t.Fatalf("expected 1 completed session, got %d", len(rec.completed()))
	}

	// But a re-join produces no new session.
	tr.OnTransition(ctx, transition("u1", "g1", "", "r1", t0.Add(2*time.Hour)))
	if tr.ActiveCount() != 0 {
		t.Error("re-join to an excluded channel must not open a session")
	}
}

func TestActivityLimitedChannelAccruesNoDuration(t *testing.T) {
	tr, rec, prov, _ := newTestTracker(t)
	ctx := context.Background()
	prov.Update(ctx, &models.GuildSettings{
		GuildID:                 "g1",
		ActivityLimitedChannels: []string{"lobby"},
	})

	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tr.OnTransition(ctx, transition("u1", "g1", "", "lobby", t0))
	if tr.ActiveCount() != 1 {
		t.Fatal("activity-limited channels are still tracked")
	}

	tr.OnTransition(ctx, transition("u1", "g1", "lobby", "", t0.Add(time.Hour)))
	got := rec.completed()
	if len(got) != 1 {
		t.Fatalf("expected 1 completed session, got %d", len(got))
	}
	if got[0].DurationMs != 0 {
		t.Errorf("activity-limited session must log zero duration, got %dms", got[0].DurationMs)
	}
}

func TestRecorderFailureKeepsSessionOpen(t *testing.T) {
	tr, rec, _, _ := newTestTracker(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tr.OnTransition(ctx, transition("u1", "g1", "", "a", t0))

	rec.fail = true
	if err := tr.OnTransition(ctx, transition("u1", "g1", "a", "", t0.Add(time.Hour))); err == nil {
		t.Fatal("expected error when recorder fails")
	}
	if tr.ActiveCount() != 1 {
		t.Fatal("session must survive a failed close for a later retry")
	}

	rec.fail = false
	if err := tr.OnTransition(ctx, transition("u1", "g1", "a", "", t0.Add(2*time.Hour))); err != nil {
		t.Fatalf("retry leave: %v", err)
	}
	if len(rec.completed()) != 1 {
		t.Fatalf("expected 1 completed session after retry")
	}
}

func TestTenantIsolation(t *testing.T) {
	tr, rec, _, _ := newTestTracker(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// The same user can hold one session per guild.
	tr.OnTransition(ctx, transition("u1", "g1", "", "a", t0))
	tr.OnTransition(ctx, transition("u1", "g2", "", "a", t0))
	if tr.ActiveCount() != 2 {
		t.Fatalf("expected 2 sessions across guilds, got %d", tr.ActiveCount())
	}

	tr.OnTransition(ctx, transition("u1", "g1", "a", "", t0.Add(time.Hour)))
	if tr.ActiveCount() != 1 {
		t.Errorf("leave in g1 must not touch g2, got %d active", tr.ActiveCount())
	}
	if got := rec.completed(); len(got) != 1 || got[0].GuildID != "g1" {
		t.Errorf("unexpected completed sessions: %+v", got)
	}
}

func TestInvalidEventRejected(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)
	if err := tr.OnTransition(context.Background(), &models.TransitionEvent{
		GuildID:   "g1",
		Timestamp: time.Now(),
	}); err == nil {
		t.Error("expected validation error for missing user_id")
	}
}
