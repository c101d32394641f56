// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxtime/voxtime/internal/models"
)

func TestReportStreamDeliversFinalResult(t *testing.T) {
	srv, db, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	started := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	db.InsertCompletedSession(context.Background(), &models.CompletedSession{
		UserID: "u1", GuildID: "g1", ChannelID: "general",
		StartedAt: started, EndedAt: started.Add(time.Hour),
		DurationMs: time.Hour.Milliseconds(),
	})

	resp := postJSON(t, ts, "/api/v1/guilds/g1/reports", &startReportRequest{
		Start: started.AddDate(0, 0, -1),
		End:   started.AddDate(0, 0, 1),
	})
	var startResp map[string]string
	decodeBody(t, resp, &startResp)
	operationID := startResp["operation_id"]

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) +
		"/api/v1/reports/" + operationID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var final *models.ReportResult
	for {
		var update models.ReportUpdate
		if err := conn.ReadJSON(&update); err != nil {
			break // normal close after the final update
		}
		if update.Final != nil {
			final = update.Final
		}
	}

	if final == nil {
		t.Fatal("stream closed without a final result")
	}
	if final.State != models.ReportCompleted || final.UserCount != 1 {
		t.Errorf("unexpected final: %+v", final)
	}

	// The stream was consumed; a second subscriber finds nothing.
	resp2, err := http.Get(ts.URL + "/api/v1/reports/" + operationID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for claimed stream, got %d", resp2.StatusCode)
	}
}
