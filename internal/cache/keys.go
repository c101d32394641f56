// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package cache

import (
	"crypto/sha256"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/voxtime/voxtime/internal/models"
)

// All keys are namespaced by guild so tenants cannot interfere with each
// other through the shared cache.

// SessionKey is the active-session record for one user in one guild.
func SessionKey(guildID, userID string) string {
	return fmt.Sprintf("voxtime:%s:session:%s", guildID, userID)
}

// SessionPrefix enumerates all active sessions of a guild.
func SessionPrefix(guildID string) string {
	return fmt.Sprintf("voxtime:%s:session:", guildID)
}

// AllSessionsPrefix enumerates active sessions across all guilds (startup
// recovery).
func AllSessionsPrefix() string {
	return "voxtime:"
}

// SettingsKey is the per-guild settings snapshot.
func SettingsKey(guildID string) string {
	return fmt.Sprintf("voxtime:%s:settings", guildID)
}

// ActivityKey is a live activity snapshot for one user over one range.
func ActivityKey(guildID, userID string, r models.DateRange) string {
	return fmt.Sprintf("voxtime:%s:activity:%s:%d:%d",
		guildID, userID, r.Start.Unix(), r.End.Unix())
}

// MemberKey is a cached directory lookup.
func MemberKey(guildID, userID string) string {
	return fmt.Sprintf("voxtime:%s:member:%s", guildID, userID)
}

// ReportKey is a rendered report keyed by (guild, filter, range).
// The filter and range are hashed so the key stays bounded.
func ReportKey(guildID string, filter models.ReportFilter, r models.DateRange) string {
	return fmt.Sprintf("voxtime:%s:report:%s", guildID, reportDigest(filter, r))
}

// reportDigest produces a deterministic digest of filter and range.
func reportDigest(filter models.ReportFilter, r models.DateRange) string {
	payload, err := json.Marshal(struct {
		Filter models.ReportFilter `json:"filter"`
		Start  int64               `json:"start"`
		End    int64               `json:"end"`
	}{filter, r.Start.Unix(), r.End.Unix()})
	if err != nil {
		return fmt.Sprintf("%s:%d:%d", filter.Key(), r.Start.Unix(), r.End.Unix())
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%x", sum[:16])
}
