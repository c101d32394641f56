// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/models"
)

// wsWriteTimeout bounds each WebSocket write; a stuck client is closed
// rather than allowed to stall the forwarder.
const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS middleware; the upgrade
	// itself accepts any origin the middleware let through.
	CheckOrigin: func(*http.Request) bool { return true },
}

// startReportRequest is the body of a report-start request.
type startReportRequest struct {
	Filter models.ReportFilter `json:"filter"`
	Start  time.Time           `json:"start"`
	End    time.Time           `json:"end"`
}

// handleStartReport starts a report operation for a guild. The response
// carries the operation ID; updates flow over the stream endpoint. A report
// served from cache completes immediately and has no stream.
func (s *Server) handleStartReport(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	var req startReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed report request")
		return
	}

	dr := models.DateRange{Start: req.Start.UTC(), End: req.End.UTC()}
	operationID, updates, err := s.engine.Generate(r.Context(), guildID, req.Filter, dr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.registerStream(operationID, updates)
	writeJSON(w, http.StatusAccepted, map[string]string{"operation_id": operationID})
}

// handleReportStatus returns a progress snapshot.
func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "operationID")
	progress, ok := s.engine.Status(operationID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown operation")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handleCancelReport cancels an in-flight operation.
func (s *Server) handleCancelReport(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "operationID")
	cancelled := s.engine.Cancel(operationID)
	if !cancelled {
		writeError(w, http.StatusConflict, "operation unknown or already terminal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// handleReportStream upgrades to WebSocket and forwards the operation's
// update stream: progress, partial previews, then exactly one final result.
// Each operation has a single stream, claimed by the first subscriber.
func (s *Server) handleReportStream(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "operationID")

	updates, ok := s.claimStream(operationID)
	if !ok {
		writeError(w, http.StatusNotFound, "no stream for operation")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade failures write their own response. Put the stream back
		// so a retry can claim it.
		s.registerStream(operationID, updates)
		return
	}
	defer conn.Close()

	// Reader goroutine: surfaces client disconnects so the forwarder can
	// stop, and treats a closed socket as cancellation intent.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, open := <-updates:
			if !open {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(update); err != nil {
				logging.Debug().Err(err).Str("operation_id", operationID).
					Msg("Report stream write failed")
				s.engine.Cancel(operationID)
				return
			}
		case <-disconnected:
			logging.Debug().Str("operation_id", operationID).
				Msg("Report stream subscriber disconnected")
			s.engine.Cancel(operationID)
			return
		}
	}
}
