// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package wal

import (
	"context"
	"fmt"

	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/metrics"
	"github.com/voxtime/voxtime/internal/models"
)

// Inserter is the relational sink behind the journal. Satisfied by
// *database.DB.
type Inserter interface {
	InsertCompletedSession(ctx context.Context, s *models.CompletedSession) error
}

// Recorder wraps an Inserter with write-ahead journaling: journal first,
// insert, confirm. A failed insert leaves the entry pending; Replay picks
// it up later.
type Recorder struct {
	log  *Log
	next Inserter
}

// NewRecorder creates a journaling recorder in front of next.
func NewRecorder(log *Log, next Inserter) *Recorder {
	return &Recorder{log: log, next: next}
}

// InsertCompletedSession journals the session, inserts it, and confirms the
// journal entry. An insert failure is returned to the caller but the
// journaled copy survives for replay, so the caller may treat the session
// as durably accepted.
func (r *Recorder) InsertCompletedSession(ctx context.Context, s *models.CompletedSession) error {
	entryID, err := r.log.Write(ctx, s)
	if err != nil {
		// No journal, no safety net: fall through to a direct insert
		// rather than dropping the session.
		logging.Warn().Err(err).Msg("WAL write failed, inserting directly")
		return r.next.InsertCompletedSession(ctx, s)
	}

	if err := r.next.InsertCompletedSession(ctx, s); err != nil {
		r.log.recordAttempt(entryID, err)
		return fmt.Errorf("insert journaled session: %w", err)
	}

	if err := r.log.Confirm(ctx, entryID); err != nil {
		// The session is in the store; replay will hit the dedup and
		// clean the entry up. Not a caller-visible failure.
		logging.Debug().Err(err).Str("entry_id", entryID).
			Msg("Failed to confirm WAL entry")
	}
	return nil
}

// Replay pushes all pending journal entries into the store. Safe to run at
// any time: sessions that already landed are deduplicated by natural key.
// Returns the number of successfully replayed entries.
func (r *Recorder) Replay(ctx context.Context) (int, error) {
	pending, err := r.log.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("read pending wal entries: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	logging.Info().Int("pending", len(pending)).Msg("Replaying WAL entries")

	replayed := 0
	for _, entry := range pending {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		if entry.Session == nil {
			metrics.WALEntries.WithLabelValues("dropped").Inc()
			if err := r.log.Confirm(ctx, entry.ID); err != nil {
				logging.Debug().Err(err).Str("entry_id", entry.ID).
					Msg("Failed to drop empty WAL entry")
			}
			continue
		}

		if err := r.next.InsertCompletedSession(ctx, entry.Session); err != nil {
			r.log.recordAttempt(entry.ID, err)
			logging.Warn().Err(err).
				Str("entry_id", entry.ID).
				Int("attempts", entry.Attempts+1).
				Msg("WAL replay insert failed")
			continue
		}

		metrics.WALEntries.WithLabelValues("replayed").Inc()
		if err := r.log.Confirm(ctx, entry.ID); err != nil {
			logging.Debug().Err(err).Str("entry_id", entry.ID).
				Msg("Failed to confirm replayed WAL entry")
		}
		replayed++
	}
	return replayed, nil
}
