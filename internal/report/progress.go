// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package report

import (
	"time"

	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/models"
)

// snapshot returns the operation's current progress.
func (op *operation) snapshot() *models.ReportProgress {
	op.mu.Lock()
	defer op.mu.Unlock()
	return &models.ReportProgress{
		OperationID:    op.id,
		State:          op.state,
		BatchesDone:    op.batchesDone,
		BatchesTotal:   op.batchesTotal,
		UsersProcessed: op.usersProcessed,
		ErrorCount:     len(op.errs),
		ElapsedMs:      time.Since(op.started).Milliseconds(),
	}
}

// setState transitions the operation to a new non-terminal state.
func (op *operation) setState(s models.ReportState) {
	op.mu.Lock()
	op.state = s
	op.mu.Unlock()
}

// emitProgress sends a progress update, rate-limited unless forced.
// Subscribers that lag simply miss intermediate progress.
func (op *operation) emitProgress(force bool) {
	if !force && !op.limiter.Allow() {
		return
	}
	op.trySend(models.ReportUpdate{Progress: op.snapshot()})
}

// emitPartial pushes a bounded preview of the rows computed so far, bucketed
// by activity level. Previews never feed back into the final result.
func (e *Engine) emitPartial(op *operation) {
	op.setState(models.ReportGeneratingPartial)
	defer op.setState(models.ReportProcessingData)

	op.mu.Lock()
	rows := make([]models.UserActivity, len(op.rows))
	copy(rows, op.rows)
	op.mu.Unlock()

	partial := &models.PartialResult{
		OperationID: op.id,
		GeneratedAt: time.Now().UTC(),
	}
	for _, row := range rows {
		switch row.Bucket {
		case models.BucketActive:
			if len(partial.Active) < e.cfg.ActivePreview {
				partial.Active = append(partial.Active, row)
			}
		case models.BucketLowActivity:
			if len(partial.LowActivity) < e.cfg.BucketPreview {
				partial.LowActivity = append(partial.LowActivity, row)
			}
		default:
			if len(partial.Inactive) < e.cfg.BucketPreview {
				partial.Inactive = append(partial.Inactive, row)
			}
		}
	}

	op.trySend(models.ReportUpdate{Partial: partial})
}

// trySend delivers an update without blocking; a full subscriber buffer
// drops the update.
func (op *operation) trySend(update models.ReportUpdate) {
	select {
	case op.updates <- update:
	default:
	}
}

// sendFinal delivers the terminal update and closes the stream. A
// subscriber that stopped reading forfeits the final payload after a
// timeout; the result is still in the registry and usually the cache.
func (op *operation) sendFinal(update models.ReportUpdate) {
	select {
	case op.updates <- update:
	case <-time.After(finalSendTimeout):
		logging.Warn().Str("operation_id", op.id).
			Msg("Subscriber not reading, final report update dropped")
	}
	close(op.updates)
}
