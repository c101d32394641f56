// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package settings

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxtime/voxtime/internal/cache"
	"github.com/voxtime/voxtime/internal/models"
)

// countingProvider counts source reads so tests can observe cache hits.
type countingProvider struct {
	inner *Memory
	reads atomic.Int64
}

func (p *countingProvider) Settings(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	p.reads.Add(1)
	return p.inner.Settings(ctx, guildID)
}

func (p *countingProvider) Update(ctx context.Context, s *models.GuildSettings) error {
	return p.inner.Update(ctx, s)
}

func TestMemoryDefaults(t *testing.T) {
	m := NewMemory()
	s, err := m.Settings(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.GuildID != "g1" {
		t.Errorf("expected guild g1, got %s", s.GuildID)
	}
	if s.ActivityHoursThreshold != DefaultActivityHoursThreshold {
		t.Errorf("expected default threshold, got %.2f", s.ActivityHoursThreshold)
	}
	if s.PolicyFor("any-channel") != models.ChannelTracked {
		t.Error("default settings must track every channel")
	}
}

func TestMemoryUpdateValidation(t *testing.T) {
	m := NewMemory()
	if err := m.Update(context.Background(), &models.GuildSettings{}); err == nil {
		t.Error("expected error for missing guild_id")
	}
	if err := m.Update(context.Background(), &models.GuildSettings{
		GuildID:                "g1",
		ActivityHoursThreshold: -1,
	}); err == nil {
		t.Error("expected error for negative threshold")
	}
}

func TestCachedReadThrough(t *testing.T) {
	src := &countingProvider{inner: NewMemory()}
	src.inner.Update(context.Background(), &models.GuildSettings{
		GuildID:          "g1",
		ExcludedChannels: []string{"afk"},
	})

	c := NewCached(src, cache.NewMemory(100), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := c.Settings(ctx, "g1")
		if err != nil {
			t.Fatalf("Settings: %v", err)
		}
		if s.PolicyFor("afk") != models.ChannelExcluded {
			t.Error("excluded channel lost through cache")
		}
	}
	if got := src.reads.Load(); got != 1 {
		t.Errorf("expected 1 source read, got %d", got)
	}
}

func TestCachedUpdateInvalidates(t *testing.T) {
	src := &countingProvider{inner: NewMemory()}
	c := NewCached(src, cache.NewMemory(100), time.Minute)
	ctx := context.Background()

	c.Settings(ctx, "g1")

	if err := c.Update(ctx, &models.GuildSettings{
		GuildID:          "g1",
		ExcludedChannels: []string{"afk"},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	s, err := c.Settings(ctx, "g1")
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.PolicyFor("afk") != models.ChannelExcluded {
		t.Error("update not visible after invalidation")
	}
}
