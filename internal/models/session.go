// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package models defines the canonical domain types shared across Voxtime:
// presence transition events, active and completed sessions, activity
// aggregates, per-guild settings, and report payloads.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransitionEvent is a presence transition received from the upstream
// platform. Empty channel IDs mean "not in any channel" (a pure join has an
// empty OldChannelID, a pure leave an empty NewChannelID).
type TransitionEvent struct {
	EventID      string    `json:"event_id"`
	UserID       string    `json:"user_id"`
	GuildID      string    `json:"guild_id"`
	OldChannelID string    `json:"old_channel_id,omitempty"`
	NewChannelID string    `json:"new_channel_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	DisplayName  string    `json:"display_name,omitempty"`
}

// NewTransitionEvent creates an event with a unique ID and UTC timestamp.
func NewTransitionEvent(userID, guildID, oldChannel, newChannel string) *TransitionEvent {
	return &TransitionEvent{
		EventID:      uuid.New().String(),
		UserID:       userID,
		GuildID:      guildID,
		OldChannelID: oldChannel,
		NewChannelID: newChannel,
		Timestamp:    time.Now().UTC(),
	}
}

// Validate checks required fields.
func (e *TransitionEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("transition event: user_id is required")
	}
	if e.GuildID == "" {
		return fmt.Errorf("transition event: guild_id is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("transition event: timestamp is required")
	}
	return nil
}

// ActiveSession is the in-progress presence record for a user in a guild.
// At most one exists per (UserID, GuildID) at any time; it is owned by the
// session tracker that created it.
type ActiveSession struct {
	UserID      string    `json:"user_id"`
	GuildID     string    `json:"guild_id"`
	ChannelID   string    `json:"channel_id"`
	StartedAt   time.Time `json:"started_at"`
	DisplayName string    `json:"display_name,omitempty"`
}

// Complete converts the active session into an immutable CompletedSession
// ending at the given time. A session that would end before it started
// (clock skew, stale recovery) is clamped to zero duration.
func (s *ActiveSession) Complete(endedAt time.Time) *CompletedSession {
	duration := endedAt.Sub(s.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	return &CompletedSession{
		ID:          uuid.New(),
		UserID:      s.UserID,
		GuildID:     s.GuildID,
		ChannelID:   s.ChannelID,
		StartedAt:   s.StartedAt.UTC(),
		EndedAt:     endedAt.UTC(),
		DurationMs:  duration,
		DisplayName: s.DisplayName,
	}
}

// CompletedSession is a finalized presence session. Immutable once written;
// inserting one triggers the daily/weekly/monthly rollup.
type CompletedSession struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	GuildID     string    `json:"guild_id"`
	ChannelID   string    `json:"channel_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	DurationMs  int64     `json:"duration_ms"`
	DisplayName string    `json:"display_name,omitempty"`
}

// Validate checks the completed-session invariants.
func (s *CompletedSession) Validate() error {
	if s.UserID == "" || s.GuildID == "" {
		return fmt.Errorf("completed session: user_id and guild_id are required")
	}
	if s.EndedAt.Before(s.StartedAt) {
		return fmt.Errorf("completed session: ended_at %s precedes started_at %s",
			s.EndedAt.Format(time.RFC3339), s.StartedAt.Format(time.RFC3339))
	}
	if s.DurationMs < 0 {
		return fmt.Errorf("completed session: negative duration %d", s.DurationMs)
	}
	return nil
}

// ChannelPolicy describes how a guild treats a channel for tracking.
type ChannelPolicy int

const (
	// ChannelTracked means full tracking: sessions accrue duration.
	ChannelTracked ChannelPolicy = iota

	// ChannelActivityLimited means joins are logged but no duration accrues.
	ChannelActivityLimited

	// ChannelExcluded means no tracking at all.
	ChannelExcluded
)

// String returns the policy name.
func (p ChannelPolicy) String() string {
	switch p {
	case ChannelActivityLimited:
		return "activity_limited"
	case ChannelExcluded:
		return "excluded"
	default:
		return "tracked"
	}
}

// GuildSettings is the per-guild configuration obtained from the settings
// collaborator. Policy is consulted at transition time, never captured at
// session start, because it can change mid-session.
type GuildSettings struct {
	GuildID string `json:"guild_id"`

	// ExcludedChannels are fully excluded: no tracking, no activity log.
	ExcludedChannels []string `json:"excluded_channels,omitempty"`

	// ActivityLimitedChannels are logged but accrue no duration.
	ActivityLimitedChannels []string `json:"activity_limited_channels,omitempty"`

	// ActivityHoursThreshold is the per-period hour count separating the
	// "active" report bucket from "low activity".
	ActivityHoursThreshold float64 `json:"activity_hours_threshold"`
}

// PolicyFor returns the tracking policy for the given channel.
func (g *GuildSettings) PolicyFor(channelID string) ChannelPolicy {
	for _, id := range g.ExcludedChannels {
		if id == channelID {
			return ChannelExcluded
		}
	}
	for _, id := range g.ActivityLimitedChannels {
		if id == channelID {
			return ChannelActivityLimited
		}
	}
	return ChannelTracked
}
