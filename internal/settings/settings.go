// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package settings provides per-guild configuration to the session tracker
// and report engine. Settings are read on every transition and every report
// start, so reads go through the cache; writes invalidate the cached
// snapshot so policy changes take effect on the next transition.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voxtime/voxtime/internal/cache"
	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/models"
)

// Provider resolves per-guild settings.
type Provider interface {
	// Settings returns the settings for a guild. Unknown guilds get
	// defaults, never an error.
	Settings(ctx context.Context, guildID string) (*models.GuildSettings, error)

	// Update replaces a guild's settings.
	Update(ctx context.Context, s *models.GuildSettings) error
}

// DefaultActivityHoursThreshold separates the "active" report bucket from
// "low activity" when a guild has not configured its own threshold.
const DefaultActivityHoursThreshold = 5.0

// Defaults returns the settings applied to guilds with no stored
// configuration: everything tracked, default activity threshold.
func Defaults(guildID string) *models.GuildSettings {
	return &models.GuildSettings{
		GuildID:                guildID,
		ActivityHoursThreshold: DefaultActivityHoursThreshold,
	}
}

// Memory is an in-process Provider. It is the authoritative store in
// single-node deployments; the cached decorator in front of it exists so the
// read path is identical whether settings live here or in an external
// service.
type Memory struct {
	mu     sync.RWMutex
	guilds map[string]*models.GuildSettings
}

// NewMemory creates an empty in-process provider.
func NewMemory() *Memory {
	return &Memory{guilds: make(map[string]*models.GuildSettings)}
}

// Settings returns the stored settings, or defaults for unknown guilds.
func (m *Memory) Settings(_ context.Context, guildID string) (*models.GuildSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.guilds[guildID]; ok {
		clone := *s
		return &clone, nil
	}
	return Defaults(guildID), nil
}

// Update replaces the guild's settings.
func (m *Memory) Update(_ context.Context, s *models.GuildSettings) error {
	if s == nil || s.GuildID == "" {
		return errors.New("settings: guild_id is required")
	}
	if s.ActivityHoursThreshold < 0 {
		return fmt.Errorf("settings: negative activity threshold %.2f", s.ActivityHoursThreshold)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *s
	m.guilds[s.GuildID] = &clone
	return nil
}

// Cached is a read-through caching decorator around a Provider. A cache hit
// skips the source entirely; a source failure falls back to the last cached
// snapshot when one exists, and to defaults otherwise, so a settings outage
// never stalls transition processing.
type Cached struct {
	source Provider
	store  cache.Store
	ttl    time.Duration
}

// NewCached wraps source with read-through caching.
func NewCached(source Provider, store cache.Store, ttl time.Duration) *Cached {
	return &Cached{source: source, store: store, ttl: ttl}
}

// Settings returns cached settings, fetching from the source on a miss.
func (c *Cached) Settings(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	key := cache.SettingsKey(guildID)

	var cached models.GuildSettings
	if err := cache.GetJSON(ctx, c.store, key, &cached); err == nil {
		return &cached, nil
	}

	s, err := c.source.Settings(ctx, guildID)
	if err != nil {
		logging.Warn().Err(err).Str("guild_id", guildID).
			Msg("Settings source unavailable, using defaults")
		return Defaults(guildID), nil
	}

	if err := cache.SetJSON(ctx, c.store, key, s, c.ttl); err != nil {
		logging.Debug().Err(err).Str("guild_id", guildID).
			Msg("Failed to cache guild settings")
	}
	return s, nil
}

// Update writes through to the source and invalidates the cached snapshot.
func (c *Cached) Update(ctx context.Context, s *models.GuildSettings) error {
	if err := c.source.Update(ctx, s); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if err := c.store.Delete(ctx, cache.SettingsKey(s.GuildID)); err != nil {
		logging.Warn().Err(err).Str("guild_id", s.GuildID).
			Msg("Failed to invalidate cached settings")
	}
	return nil
}
