// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package directory resolves user IDs to display names for report
// enrichment. Lookups are best-effort: when the upstream directory is
// unavailable or a member is unknown, the raw ID stands in for the name so
// report generation never blocks on enrichment.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/voxtime/voxtime/internal/cache"
	"github.com/voxtime/voxtime/internal/logging"
)

// Member is a directory entry for one guild member.
type Member struct {
	UserID      string `json:"user_id"`
	GuildID     string `json:"guild_id"`
	DisplayName string `json:"display_name"`
}

// Resolver looks up guild members.
type Resolver interface {
	// Member returns the directory entry for a user, or an error when the
	// member is unknown or the directory is unreachable.
	Member(ctx context.Context, guildID, userID string) (*Member, error)
}

// Memory is an in-process Resolver fed by observed transition events. The
// tracker records the display name carried on each event, so the directory
// converges on the names of everyone who has ever been seen.
type Memory struct {
	mu      sync.RWMutex
	members map[string]map[string]string
}

// NewMemory creates an empty directory.
func NewMemory() *Memory {
	return &Memory{members: make(map[string]map[string]string)}
}

// Record stores a display name observed on a transition event. Empty names
// are ignored.
func (m *Memory) Record(guildID, userID, displayName string) {
	if displayName == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	guild, ok := m.members[guildID]
	if !ok {
		guild = make(map[string]string)
		m.members[guildID] = guild
	}
	guild[userID] = displayName
}

// Member returns the recorded entry for a user.
func (m *Memory) Member(_ context.Context, guildID, userID string) (*Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name, ok := m.members[guildID][userID]; ok {
		return &Member{UserID: userID, GuildID: guildID, DisplayName: name}, nil
	}
	return nil, ErrMemberNotFound
}

// Cached is a caching decorator around a Resolver.
type Cached struct {
	source Resolver
	store  cache.Store
	ttl    time.Duration
}

// NewCached wraps source with read-through caching.
func NewCached(source Resolver, store cache.Store, ttl time.Duration) *Cached {
	return &Cached{source: source, store: store, ttl: ttl}
}

// Member returns the cached entry, fetching from the source on a miss.
func (c *Cached) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	key := cache.MemberKey(guildID, userID)

	var cached Member
	if err := cache.GetJSON(ctx, c.store, key, &cached); err == nil {
		return &cached, nil
	}

	m, err := c.source.Member(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, c.store, key, m, c.ttl); err != nil {
		logging.Debug().Err(err).Str("guild_id", guildID).Str("user_id", userID).
			Msg("Failed to cache directory entry")
	}
	return m, nil
}

// DisplayName resolves a user ID to a display name, degrading to the raw ID
// when the directory cannot answer.
func DisplayName(ctx context.Context, r Resolver, guildID, userID string) string {
	m, err := r.Member(ctx, guildID, userID)
	if err != nil || m.DisplayName == "" {
		return userID
	}
	return m.DisplayName
}
