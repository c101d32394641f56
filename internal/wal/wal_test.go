// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package wal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voxtime/voxtime/internal/models"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func mkCompleted(user string) *models.CompletedSession {
	started := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return &models.CompletedSession{
		ID:         uuid.New(),
		UserID:     user,
		GuildID:    "g1",
		ChannelID:  "general",
		StartedAt:  started,
		EndedAt:    started.Add(time.Hour),
		DurationMs: time.Hour.Milliseconds(),
	}
}

func TestWriteConfirmCycle(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	id, err := l.Write(ctx, mkCompleted("u1"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	pending, err := l.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("expected 1 pending entry %s, got %+v", id, pending)
	}
	if pending[0].Session.UserID != "u1" {
		t.Errorf("session payload lost: %+v", pending[0].Session)
	}

	if err := l.Confirm(ctx, id); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	pending, _ = l.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("expected 0 pending after confirm, got %d", len(pending))
	}
}

func TestConfirmUnknownEntry(t *testing.T) {
	l := newTestLog(t)
	if err := l.Confirm(context.Background(), "absent"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
	if err := l.Confirm(context.Background(), ""); !errors.Is(err, ErrEmptyEntryID) {
		t.Errorf("expected ErrEmptyEntryID, got %v", err)
	}
}

func TestClosedLogRejectsOperations(t *testing.T) {
	l := newTestLog(t)
	l.Close()

	if _, err := l.Write(context.Background(), mkCompleted("u1")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := l.Pending(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestPendingSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Write(ctx, mkCompleted("u1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	l.Close()

	l, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()

	pending, err := l.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Session.UserID != "u1" {
		t.Fatalf("journaled entry lost across reopen: %+v", pending)
	}
}

// flakyInserter fails the first n inserts.
type flakyInserter struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	sessions  []*models.CompletedSession
}

func (f *flakyInserter) InsertCompletedSession(_ context.Context, s *models.CompletedSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return errors.New("store unavailable")
	}
	f.sessions = append(f.sessions, s)
	return nil
}

func TestRecorderConfirmsOnSuccess(t *testing.T) {
	l := newTestLog(t)
	sink := &flakyInserter{}
	rec := NewRecorder(l, sink)
	ctx := context.Background()

	if err := rec.InsertCompletedSession(ctx, mkCompleted("u1")); err != nil {
		t.Fatalf("InsertCompletedSession: %v", err)
	}
	if len(sink.sessions) != 1 {
		t.Fatalf("expected 1 inserted session, got %d", len(sink.sessions))
	}

	pending, _ := l.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("successful insert must confirm its entry, %d pending", len(pending))
	}
}

func TestRecorderReplayAfterFailure(t *testing.T) {
	l := newTestLog(t)
	sink := &flakyInserter{failFirst: 1}
	rec := NewRecorder(l, sink)
	ctx := context.Background()

	if err := rec.InsertCompletedSession(ctx, mkCompleted("u1")); err == nil {
		t.Fatal("expected insert failure")
	}

	pending, _ := l.Pending(ctx)
	if len(pending) != 1 {
		t.Fatalf("failed insert must stay journaled, got %d pending", len(pending))
	}
	if pending[0].Attempts != 1 || pending[0].LastError == "" {
		t.Errorf("attempt not recorded: %+v", pending[0])
	}

	replayed, err := rec.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed != 1 {
		t.Fatalf("expected 1 replayed entry, got %d", replayed)
	}
	if len(sink.sessions) != 1 {
		t.Errorf("replay must deliver the session, got %d", len(sink.sessions))
	}

	pending, _ = l.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("replayed entries must be confirmed, %d pending", len(pending))
	}
}

func TestReplayEmptyJournal(t *testing.T) {
	l := newTestLog(t)
	rec := NewRecorder(l, &flakyInserter{})

	replayed, err := rec.Replay(context.Background())
	if err != nil || replayed != 0 {
		t.Errorf("empty replay: got %d, %v", replayed, err)
	}
}
