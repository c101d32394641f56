// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package cache

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/metrics"
)

// Fallback composes the distributed cache with local process memory.
// Every operation tries the primary behind a circuit breaker; a transport
// failure (or an open breaker) degrades to the local store and is never
// surfaced to the caller. Writes are mirrored into local memory so the
// fallback always has the freshest process-local view of the keys this
// process wrote, so active sessions survive a cache outage.
//
// A cache miss (ErrNotFound) is a normal outcome, not a failure: it does
// not trip the breaker and does not trigger the fallback read.
type Fallback struct {
	primary Store
	local   *Memory
	breaker *gobreaker.CircuitBreaker[any]
}

// NewFallback wraps primary with local-memory degradation. local must not
// be nil; primary may be nil, in which case all traffic goes local (Redis
// disabled).
func NewFallback(primary Store, local *Memory) *Fallback {
	f := &Fallback{primary: primary, local: local}

	cbName := "cache-primary"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	f.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Misses are successes as far as backend health is concerned.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Cache circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return f
}

// breakerStateValue maps breaker states onto the metric encoding.
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// primaryDo runs op through the circuit breaker. Returns the op error, or
// the breaker's own error when the circuit is open.
func (f *Fallback) primaryDo(op func() (any, error)) (any, error) {
	return f.breaker.Execute(op)
}

// Get reads from the primary, degrading to local memory on transport
// failure. A primary miss is authoritative and is not retried locally:
// the primary may have seen a Delete this process never wrote.
func (f *Fallback) Get(ctx context.Context, key string) ([]byte, error) {
	if f.primary == nil {
		return f.local.Get(ctx, key)
	}

	res, err := f.primaryDo(func() (any, error) {
		return f.primary.Get(ctx, key)
	})
	if err == nil {
		return res.([]byte), nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}

	metrics.CacheFallbacks.Inc()
	logging.Debug().Err(err).Str("key", key).Msg("Cache primary unavailable, reading local")
	return f.local.Get(ctx, key)
}

// Set writes to local memory first (cannot fail), then to the primary
// best-effort. A primary failure is logged and absorbed.
func (f *Fallback) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.local.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if f.primary == nil {
		return nil
	}

	_, err := f.primaryDo(func() (any, error) {
		return nil, f.primary.Set(ctx, key, value, ttl)
	})
	if err != nil {
		metrics.CacheFallbacks.Inc()
		logging.Warn().Err(err).Str("key", key).Msg("Cache primary write failed, local copy only")
	}
	return nil
}

// Delete removes the key from both stores. Primary failure is absorbed;
// the TTL bounds the staleness of the surviving primary entry.
func (f *Fallback) Delete(ctx context.Context, key string) error {
	if err := f.local.Delete(ctx, key); err != nil {
		return err
	}
	if f.primary == nil {
		return nil
	}

	_, err := f.primaryDo(func() (any, error) {
		return nil, f.primary.Delete(ctx, key)
	})
	if err != nil {
		metrics.CacheFallbacks.Inc()
		logging.Warn().Err(err).Str("key", key).Msg("Cache primary delete failed")
	}
	return nil
}

// Keys enumerates from the primary, degrading to the local view.
func (f *Fallback) Keys(ctx context.Context, prefix string) ([]string, error) {
	if f.primary == nil {
		return f.local.Keys(ctx, prefix)
	}

	res, err := f.primaryDo(func() (any, error) {
		return f.primary.Keys(ctx, prefix)
	})
	if err == nil {
		return res.([]string), nil
	}

	metrics.CacheFallbacks.Inc()
	logging.Warn().Err(err).Str("prefix", prefix).Msg("Cache primary enumeration failed, using local")
	return f.local.Keys(ctx, prefix)
}

// Ping reports primary reachability; with no primary the local store
// answers (always healthy).
func (f *Fallback) Ping(ctx context.Context) error {
	if f.primary == nil {
		return f.local.Ping(ctx)
	}
	return f.primary.Ping(ctx)
}

// Close closes both stores.
func (f *Fallback) Close() error {
	var firstErr error
	if f.primary != nil {
		firstErr = f.primary.Close()
	}
	if err := f.local.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
