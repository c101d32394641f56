// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package tracker implements the presence session state machine. It
// consumes transition events, maintains at most one active session per
// (user, guild), and converts ended sessions into immutable completed
// records that feed the aggregation store.
//
// Session state is written to the distributed cache first and mirrored into
// local memory; the cache copy is what survives a process restart, the local
// mirror is what survives a cache outage. Channel exclusion policy is
// consulted at transition time, never captured at session start, because a
// guild can reconfigure a channel while sessions are in progress.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/voxtime/voxtime/internal/cache"
	"github.com/voxtime/voxtime/internal/directory"
	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/metrics"
	"github.com/voxtime/voxtime/internal/models"
	"github.com/voxtime/voxtime/internal/settings"
)

// Recorder persists completed sessions. Satisfied by *database.DB directly
// and by the WAL-backed recorder that journals before inserting.
type Recorder interface {
	InsertCompletedSession(ctx context.Context, s *models.CompletedSession) error
}

// lockStripes bounds the number of per-user mutexes. Transitions for one
// user are serialized; distinct users proceed concurrently unless they hash
// to the same stripe.
const lockStripes = 64

// Tracker is the presence session state machine.
type Tracker struct {
	store    cache.Store
	recorder Recorder
	settings settings.Provider
	names    *directory.Memory

	sessionTTL time.Duration
	staleness  time.Duration

	stripes [lockStripes]sync.Mutex

	// local mirrors every active session keyed by cache.SessionKey. Reads
	// prefer the cache; this map answers when the cache cannot.
	mu    sync.RWMutex
	local map[string]*models.ActiveSession
}

// New creates a tracker. names may be nil when no directory enrichment is
// wanted.
func New(store cache.Store, recorder Recorder, provider settings.Provider,
	names *directory.Memory, sessionTTL, staleness time.Duration) *Tracker {
	return &Tracker{
		store:      store,
		recorder:   recorder,
		settings:   provider,
		names:      names,
		sessionTTL: sessionTTL,
		staleness:  staleness,
		local:      make(map[string]*models.ActiveSession),
	}
}

// OnTransition applies one presence transition. Transitions for the same
// user are applied in call order; callers must not reorder events for a
// single user.
func (t *Tracker) OnTransition(ctx context.Context, event *models.TransitionEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if t.names != nil {
		t.names.Record(event.GuildID, event.UserID, event.DisplayName)
	}

	stripe := t.stripe(event.GuildID, event.UserID)
	stripe.Lock()
	defer stripe.Unlock()

	guildSettings, err := t.settings.Settings(ctx, event.GuildID)
	if err != nil {
		// The provider degrades to defaults internally; an error here
		// means something is badly wrong, but a transition is still
		// better processed with defaults than dropped.
		logging.Warn().Err(err).Str("guild_id", event.GuildID).
			Msg("Settings lookup failed, tracking with defaults")
		guildSettings = settings.Defaults(event.GuildID)
	}

	sess := t.activeSession(ctx, event.GuildID, event.UserID)
	joinable := event.NewChannelID != "" &&
		guildSettings.PolicyFor(event.NewChannelID) != models.ChannelExcluded

	switch {
	case sess == nil && !joinable:
		// Not in a session and not entering a tracked channel.
		kind := "noop"
		if event.NewChannelID != "" {
			kind = "excluded"
		}
		metrics.TransitionsProcessed.WithLabelValues(kind).Inc()
		return nil

	case sess == nil && joinable:
		metrics.TransitionsProcessed.WithLabelValues("join").Inc()
		return t.openSession(ctx, event)

	case sess != nil && !joinable:
		// Leaving, or moving into an excluded channel. Either way the
		// current session ends; a session that predates a mid-session
		// exclusion of its own channel still closes normally.
		metrics.TransitionsProcessed.WithLabelValues("leave").Inc()
		return t.closeSession(ctx, sess, event.Timestamp, guildSettings)

	default: // sess != nil && joinable
		if sess.ChannelID == event.NewChannelID {
			return t.refreshOrIgnore(ctx, sess, event)
		}
		metrics.TransitionsProcessed.WithLabelValues("move").Inc()
		if err := t.closeSession(ctx, sess, event.Timestamp, guildSettings); err != nil {
			return err
		}
		return t.openSession(ctx, event)
	}
}

// refreshOrIgnore handles a transition into the channel the user is already
// in. Normally a no-op; a session whose start time is inconsistent with the
// event clock (in the future, or past the staleness bound) is reused with a
// reset start time instead of accruing bogus duration.
func (t *Tracker) refreshOrIgnore(ctx context.Context, sess *models.ActiveSession, event *models.TransitionEvent) error {
	stale := sess.StartedAt.After(event.Timestamp) ||
		event.Timestamp.Sub(sess.StartedAt) > t.staleness
	if !stale {
		metrics.TransitionsProcessed.WithLabelValues("noop").Inc()
		return nil
	}

	logging.Info().
		Str("guild_id", sess.GuildID).
		Str("user_id", sess.UserID).
		Time("started_at", sess.StartedAt).
		Time("event_at", event.Timestamp).
		Msg("Reusing stale active session with reset start time")

	metrics.TransitionsProcessed.WithLabelValues("join").Inc()
	sess.StartedAt = event.Timestamp.UTC()
	if event.DisplayName != "" {
		sess.DisplayName = event.DisplayName
	}
	t.persist(ctx, sess)
	return nil
}

// openSession creates and persists a new active session.
func (t *Tracker) openSession(ctx context.Context, event *models.TransitionEvent) error {
	sess := &models.ActiveSession{
		UserID:      event.UserID,
		GuildID:     event.GuildID,
		ChannelID:   event.NewChannelID,
		StartedAt:   event.Timestamp.UTC(),
		DisplayName: event.DisplayName,
	}
	t.persist(ctx, sess)
	metrics.ActiveSessions.Set(float64(t.ActiveCount()))

	logging.Debug().
		Str("guild_id", sess.GuildID).
		Str("user_id", sess.UserID).
		Str("channel_id", sess.ChannelID).
		Msg("Session started")
	return nil
}

// closeSession finalizes an active session at endedAt and records the
// completed session. Sessions ending in an activity-limited channel are
// logged with zero duration: the visit counts, the time does not.
func (t *Tracker) closeSession(ctx context.Context, sess *models.ActiveSession,
	endedAt time.Time, guildSettings *models.GuildSettings) error {

	completed := sess.Complete(endedAt)
	if guildSettings.PolicyFor(sess.ChannelID) == models.ChannelActivityLimited {
		completed.DurationMs = 0
	}

	if err := t.recorder.InsertCompletedSession(ctx, completed); err != nil {
		// The active session is kept so a later leave can retry; losing
		// the record entirely would be worse than double-closing.
		return fmt.Errorf("record completed session: %w", err)
	}

	t.forget(ctx, sess.GuildID, sess.UserID)
	metrics.ActiveSessions.Set(float64(t.ActiveCount()))
	metrics.SessionDuration.Observe(float64(completed.DurationMs) / 1000.0)

	logging.Debug().
		Str("guild_id", sess.GuildID).
		Str("user_id", sess.UserID).
		Str("channel_id", sess.ChannelID).
		Int64("duration_ms", completed.DurationMs).
		Msg("Session completed")
	return nil
}

// activeSession reads the session for (guild, user), preferring the cache
// and falling back to the local mirror. Cache unavailability is never an
// error here.
func (t *Tracker) activeSession(ctx context.Context, guildID, userID string) *models.ActiveSession {
	key := cache.SessionKey(guildID, userID)

	var sess models.ActiveSession
	err := cache.GetJSON(ctx, t.store, key, &sess)
	if err == nil {
		return &sess
	}
	if errors.Is(err, cache.ErrNotFound) {
		// An authoritative miss: the session was ended (possibly by
		// another replica). Drop any local leftover.
		t.mu.Lock()
		delete(t.local, key)
		t.mu.Unlock()
		return nil
	}

	t.mu.RLock()
	local := t.local[key]
	t.mu.RUnlock()
	if local != nil {
		logging.Debug().Err(err).Str("key", key).
			Msg("Cache read failed, using local session mirror")
	}
	return local
}

// persist writes the session to the cache and the local mirror. A cache
// write failure is logged and tolerated; the mirror keeps the session alive.
func (t *Tracker) persist(ctx context.Context, sess *models.ActiveSession) {
	key := cache.SessionKey(sess.GuildID, sess.UserID)

	t.mu.Lock()
	t.local[key] = sess
	t.mu.Unlock()

	if err := cache.SetJSON(ctx, t.store, key, sess, t.sessionTTL); err != nil {
		logging.Warn().Err(err).Str("key", key).
			Msg("Failed to persist active session to cache")
	}
}

// forget removes the session from the cache and the local mirror.
func (t *Tracker) forget(ctx context.Context, guildID, userID string) {
	key := cache.SessionKey(guildID, userID)

	t.mu.Lock()
	delete(t.local, key)
	t.mu.Unlock()

	if err := t.store.Delete(ctx, key); err != nil {
		logging.Warn().Err(err).Str("key", key).
			Msg("Failed to clear active session from cache")
	}
}

// ActiveCount returns the number of locally mirrored active sessions.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.local)
}

// Snapshot returns a copy of all locally mirrored active sessions.
func (t *Tracker) Snapshot() []*models.ActiveSession {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.ActiveSession, 0, len(t.local))
	for _, sess := range t.local {
		clone := *sess
		out = append(out, &clone)
	}
	return out
}

// stripe returns the mutex serializing transitions for one user.
func (t *Tracker) stripe(guildID, userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(guildID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return &t.stripes[h.Sum32()%lockStripes]
}
