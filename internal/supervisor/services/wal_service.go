// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package services

import (
	"context"
	"time"

	"github.com/voxtime/voxtime/internal/logging"
)

// Replayer matches wal.Recorder's replay surface: drain pending journal
// entries into the database and report how many landed.
type Replayer interface {
	Replay(ctx context.Context) (int, error)
}

// WALReplayService periodically replays unconfirmed write-ahead log entries.
// A replay failure is logged and retried on the next tick rather than
// crashing the service; entries stay journaled until confirmed.
type WALReplayService struct {
	replayer Replayer
	interval time.Duration
}

// NewWALReplayService creates the replay loop. A non-positive interval falls
// back to 30 seconds.
func NewWALReplayService(replayer Replayer, interval time.Duration) *WALReplayService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &WALReplayService{replayer: replayer, interval: interval}
}

// Serve implements suture.Service. It replays once on startup so a restart
// after a crash drains the backlog immediately, then ticks.
func (s *WALReplayService) Serve(ctx context.Context) error {
	s.replayOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.replayOnce(ctx)
		}
	}
}

func (s *WALReplayService) replayOnce(ctx context.Context) {
	replayed, err := s.replayer.Replay(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("WAL replay pass failed")
		return
	}
	if replayed > 0 {
		logging.Info().Int("entries", replayed).Msg("Replayed WAL entries")
	}
}

func (s *WALReplayService) String() string { return "wal-replay" }
