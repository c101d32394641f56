// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/voxtime/voxtime/internal/cache"
	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/models"
)

// ActivityCache memoizes live activity snapshots with a short TTL.
type ActivityCache struct {
	Store cache.Store
	TTL   time.Duration
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes a structured JSON error.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseRange reads start/end RFC 3339 query parameters into a DateRange.
func parseRange(r *http.Request) (models.DateRange, error) {
	var dr models.DateRange

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		return dr, fmt.Errorf("invalid start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		return dr, fmt.Errorf("invalid end: %w", err)
	}

	dr = models.DateRange{Start: start.UTC(), End: end.UTC()}
	if err := dr.Validate(); err != nil {
		return dr, err
	}
	return dr, nil
}

// handleHealth reports readiness of the storage and cache backends.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := map[string]string{"status": "ok", "database": "ok", "cache": "ok"}

	if err := s.db.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "degraded"
		health["database"] = err.Error()
	}
	if s.activity.Store != nil {
		if err := s.activity.Store.Ping(r.Context()); err != nil {
			// Cache degradation is tolerated, reported but not fatal.
			health["cache"] = "degraded"
		}
	}

	writeJSON(w, status, health)
}

// handleIngestEvent accepts a presence transition and publishes it to the
// event bus. Fire and forget: 202 means accepted, not yet applied.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var event models.TransitionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event payload")
		return
	}
	if event.EventID == "" {
		event.EventID = models.NewTransitionEvent(event.UserID, event.GuildID,
			event.OldChannelID, event.NewChannelID).EventID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := s.events.Publish(r.Context(), &event); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": event.EventID})
}

// handleGetSettings returns the guild's settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	guildSettings, err := s.settings.Settings(r.Context(), guildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, guildSettings)
}

// handlePutSettings replaces the guild's settings. Cached reports for the
// guild are invalidated because exclusion changes alter report content.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	var guildSettings models.GuildSettings
	if err := json.NewDecoder(r.Body).Decode(&guildSettings); err != nil {
		writeError(w, http.StatusBadRequest, "malformed settings payload")
		return
	}
	guildSettings.GuildID = guildID

	if err := s.settings.Update(r.Context(), &guildSettings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.db.InvalidateGuildReports(r.Context(), guildID); err != nil {
		logging.Warn().Err(err).Str("guild_id", guildID).
			Msg("Failed to invalidate cached reports after settings change")
	}
	writeJSON(w, http.StatusOK, &guildSettings)
}

// handleActiveSessions lists the guild's currently tracked sessions.
func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	var sessions []*models.ActiveSession
	for _, sess := range s.tracker.Snapshot() {
		if sess.GuildID == guildID {
			sessions = append(sessions, sess)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"guild_id": guildID,
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// handleUserActivity returns one user's total tracked time over a range,
// memoized with the activity TTL.
func (s *Server) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	userID := chi.URLParam(r, "userID")

	dr, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	type snapshot struct {
		GuildID     string           `json:"guild_id"`
		UserID      string           `json:"user_id"`
		Range       models.DateRange `json:"range"`
		TotalTimeMs int64            `json:"total_time_ms"`
	}

	key := cache.ActivityKey(guildID, userID, dr)
	if s.activity.Store != nil {
		var cached snapshot
		if err := cache.GetJSON(r.Context(), s.activity.Store, key, &cached); err == nil {
			writeJSON(w, http.StatusOK, &cached)
			return
		}
	}

	total, err := s.db.QueryRange(r.Context(), guildID, userID, dr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "activity query failed")
		return
	}

	result := &snapshot{GuildID: guildID, UserID: userID, Range: dr, TotalTimeMs: total}
	if s.activity.Store != nil {
		if err := cache.SetJSON(r.Context(), s.activity.Store, key, result, s.activity.TTL); err != nil {
			logging.Debug().Err(err).Str("key", key).Msg("Failed to cache activity snapshot")
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// batchActivityRequest is the body of the grouped activity query.
type batchActivityRequest struct {
	UserIDs []string  `json:"user_ids"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// handleBatchActivity returns total tracked time for a set of users in one
// grouped query. Absent users report zero.
func (s *Server) handleBatchActivity(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	var req batchActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request payload")
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "user_ids is required")
		return
	}

	dr := models.DateRange{Start: req.Start.UTC(), End: req.End.UTC()}
	if err := dr.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	totals, err := s.db.QueryBatch(r.Context(), guildID, req.UserIDs, dr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "batch query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"guild_id": guildID,
		"range":    dr,
		"totals":   totals,
	})
}
