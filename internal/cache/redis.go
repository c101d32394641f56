// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxtime/voxtime/internal/config"
	"github.com/voxtime/voxtime/internal/metrics"
)

// Redis is the distributed cache backend. It also carries live active
// sessions, which is why Keys supports prefix enumeration (SCAN) for
// restart recovery.
type Redis struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedis connects to Redis using the configured URL. The connection is
// verified with a ping so a misconfigured URL fails at startup rather than
// on first use.
func NewRedis(cfg *config.RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}

	return &Redis{client: client, opTimeout: opTimeout}, nil
}

// withTimeout bounds a single cache round-trip.
func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// Get returns the value for key, or ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheOperations.WithLabelValues("redis", "get", "miss").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.CacheOperations.WithLabelValues("redis", "get", "error").Inc()
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	metrics.CacheOperations.WithLabelValues("redis", "get", "hit").Inc()
	return data, nil
}

// Set stores value under key for the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		metrics.CacheOperations.WithLabelValues("redis", "set", "error").Inc()
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	metrics.CacheOperations.WithLabelValues("redis", "set", "ok").Inc()
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		metrics.CacheOperations.WithLabelValues("redis", "delete", "error").Inc()
		return fmt.Errorf("redis delete %s: %w", key, err)
	}

	metrics.CacheOperations.WithLabelValues("redis", "delete", "ok").Inc()
	return nil
}

// Keys returns all keys with the given prefix using SCAN, never KEYS, so
// enumeration does not block the server.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	// Enumeration can span many pages; give it a looser bound than a
	// single op.
	ctx, cancel := context.WithTimeout(ctx, 4*r.opTimeout)
	defer cancel()

	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	return keys, nil
}

// Ping reports backend reachability.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
