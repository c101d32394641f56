// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/voxtime/voxtime/internal/metrics"
)

// entry is a cached item with its expiry.
type entry struct {
	data       []byte
	insertedAt time.Time
	expiresAt  time.Time
}

// Memory is a thread-safe, bounded in-process TTL store. It is the fallback
// backend when the distributed cache is unreachable, and the only backend
// when Redis is disabled.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int

	stop     chan struct{}
	stopOnce sync.Once
}

// cleanupInterval is how often expired entries are swept.
const cleanupInterval = 5 * time.Minute

// NewMemory creates a bounded in-process store. maxEntries <= 0 means
// unbounded. A background sweeper removes expired entries until Close.
func NewMemory(maxEntries int) *Memory {
	m := &Memory{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Get returns the value for key, or ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		metrics.CacheOperations.WithLabelValues("local", "get", "miss").Inc()
		return nil, ErrNotFound
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		metrics.CacheOperations.WithLabelValues("local", "get", "miss").Inc()
		return nil, ErrNotFound
	}

	metrics.CacheOperations.WithLabelValues("local", "get", "hit").Inc()
	return e.data, nil
}

// Set stores value under key for the given TTL, evicting the oldest entry
// when the store is full.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evictOldestLocked(now)
	}
	m.entries[key] = entry{
		data:       value,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	}

	metrics.CacheOperations.WithLabelValues("local", "set", "ok").Inc()
	return nil
}

// evictOldestLocked removes one expired entry if any exists, otherwise the
// entry with the earliest insertion time. Must be called with mu held.
func (m *Memory) evictOldestLocked(now time.Time) {
	var oldestKey string
	var oldestAt time.Time

	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			return
		}
		if oldestKey == "" || e.insertedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.insertedAt
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()

	metrics.CacheOperations.WithLabelValues("local", "delete", "ok").Inc()
	return nil
}

// Keys returns all unexpired keys with the given prefix.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && now.Before(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Ping always succeeds for the in-process store.
func (m *Memory) Ping(_ context.Context) error { return nil }

// Close stops the background sweeper.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

// Len returns the current entry count.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// cleanupLoop periodically removes expired entries.
func (m *Memory) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stop:
			return
		}
	}
}

// cleanup removes all expired entries.
func (m *Memory) cleanup() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}
