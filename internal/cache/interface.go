// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package cache provides the tiered key/value cache used for live session
// state, per-guild settings, and rendered reports.
//
// Two backends implement the same Store interface: a Redis-backed
// distributed store and a bounded in-process TTL map. Production composes
// them through Fallback, which routes every operation to Redis behind a
// circuit breaker and degrades transparently to local memory when Redis is
// unreachable. The cache is never authoritative; everything in it can be
// reconstructed from the relational store, except in-flight active sessions,
// which are additionally mirrored to local memory so a cache outage cannot
// lose them.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned by Get when the key is absent or expired.
// Backend transport failures are returned as distinct errors so the
// fallback layer can tell a miss from an outage.
var ErrNotFound = errors.New("cache: key not found")

// Store is a key/value store with per-entry TTL.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix. Used for restart
	// recovery of active sessions; prefixes are always guild-namespaced.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Ping reports backend reachability.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// GetJSON reads key and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		// Malformed cached records are treated as misses, never as
		// hard failures; callers refetch from the source of truth.
		return ErrNotFound
	}
	return nil
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, data, ttl)
}
