// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package tracker

import (
	"context"
	"strings"
	"time"

	"github.com/voxtime/voxtime/internal/cache"
	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/metrics"
	"github.com/voxtime/voxtime/internal/models"
)

// Recover repopulates the local session mirror from the cache after a
// process restart. Sessions older than the staleness bound are treated as
// abandoned and removed; a crash that outlives the bound simply loses those
// sessions rather than attributing a day of presence nobody had.
//
// Recovery is best-effort: an unreachable cache means starting empty, which
// is safe because sessions re-form on the next transition.
func (t *Tracker) Recover(ctx context.Context) error {
	keys, err := t.store.Keys(ctx, cache.AllSessionsPrefix())
	if err != nil {
		logging.Warn().Err(err).
			Msg("Session recovery skipped, cache unreachable")
		return nil
	}

	now := time.Now().UTC()
	var kept, stale, invalid int

	for _, key := range keys {
		if !strings.Contains(key, ":session:") {
			continue
		}

		var sess models.ActiveSession
		if err := cache.GetJSON(ctx, t.store, key, &sess); err != nil {
			invalid++
			metrics.SessionsRecovered.WithLabelValues("invalid").Inc()
			continue
		}
		if sess.UserID == "" || sess.GuildID == "" || sess.StartedAt.IsZero() {
			invalid++
			metrics.SessionsRecovered.WithLabelValues("invalid").Inc()
			if err := t.store.Delete(ctx, key); err != nil {
				logging.Debug().Err(err).Str("key", key).
					Msg("Failed to remove invalid session record")
			}
			continue
		}

		if now.Sub(sess.StartedAt) > t.staleness {
			stale++
			metrics.SessionsRecovered.WithLabelValues("stale").Inc()
			if err := t.store.Delete(ctx, key); err != nil {
				logging.Debug().Err(err).Str("key", key).
					Msg("Failed to remove stale session record")
			}
			continue
		}

		t.mu.Lock()
		t.local[cache.SessionKey(sess.GuildID, sess.UserID)] = &sess
		t.mu.Unlock()
		kept++
		metrics.SessionsRecovered.WithLabelValues("kept").Inc()
	}

	metrics.ActiveSessions.Set(float64(t.ActiveCount()))

	logging.Info().
		Int("kept", kept).
		Int("stale", stale).
		Int("invalid", invalid).
		Msg("Active session recovery complete")
	return nil
}
