// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxtime/voxtime/internal/models"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	go b.Run(ctx, func(_ context.Context, event *models.TransitionEvent) error {
		mu.Lock()
		got = append(got, event.NewChannelID)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	})

	// Give the subscriber a moment to attach.
	time.Sleep(10 * time.Millisecond)

	for _, channel := range []string{"a", "b", "c"} {
		event := models.NewTransitionEvent("u1", "g1", "", channel)
		if err := b.Publish(ctx, event); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"a", "b", "c"} {
		if got[i] != want {
			t.Errorf("position %d: expected %s, got %s (order violated)", i, want, got[i])
		}
	}
}

func TestHandlerErrorDoesNotStall(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})

	go b.Run(ctx, func(_ context.Context, _ *models.TransitionEvent) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 2 {
			close(done)
		}
		return errors.New("handler failure")
	})

	time.Sleep(10 * time.Millisecond)
	b.Publish(ctx, models.NewTransitionEvent("u1", "g1", "", "a"))
	b.Publish(ctx, models.NewTransitionEvent("u2", "g1", "", "a"))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("a failing handler must not block subsequent events")
	}
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	b := New()
	defer b.Close()

	err := b.Publish(context.Background(), &models.TransitionEvent{GuildID: "g1"})
	if err == nil {
		t.Error("expected validation error")
	}
}
