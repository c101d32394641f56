// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/metrics"
	"github.com/voxtime/voxtime/internal/models"
)

// processBatches runs all batches with bounded concurrency. Admission is
// sequential: before each batch enters flight, cancellation and the error
// budget are checked, so a cancelled operation admits no further batches
// even while earlier ones are still running.
func (e *Engine) processBatches(ctx context.Context, op *operation,
	batches [][]string, thresholdMs int64) {

	sem := make(chan struct{}, e.cfg.MaxConcurrentBatches)
	var wg sync.WaitGroup

	for i, batch := range batches {
		if ctx.Err() != nil {
			break
		}

		op.mu.Lock()
		overBudget := len(op.failedBatches) > e.cfg.MaxErrors
		op.mu.Unlock()
		if overBudget {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		metrics.ReportBatchesInFlight.Inc()
		go func(index int, userIDs []string) {
			defer func() {
				metrics.ReportBatchesInFlight.Dec()
				<-sem
				wg.Done()
			}()
			e.runBatch(ctx, op, index, userIDs, thresholdMs)
		}(i, batch)
	}

	wg.Wait()
}

// runBatch processes one batch with retries, then records its rows and
// drives partial emission and memory backpressure.
func (e *Engine) runBatch(ctx context.Context, op *operation, index int,
	userIDs []string, thresholdMs int64) {

	durations, err := e.queryWithRetry(ctx, op, index, userIDs)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ReportBatches.WithLabelValues("failed").Inc()
		op.mu.Lock()
		op.failedBatches = append(op.failedBatches, index)
		op.errs = append(op.errs, models.ReportErrorDetail{
			Code:        "batch_failed",
			Message:     err.Error(),
			Stage:       models.ReportProcessingData,
			Recoverable: true,
			Context:     map[string]string{"batch": fmt.Sprintf("%d", index)},
		})
		op.batchesDone++
		op.mu.Unlock()
		op.emitProgress(false)
		return
	}

	if ctx.Err() != nil {
		// Cancelled while this batch was in flight: discard its results.
		return
	}

	metrics.ReportBatches.WithLabelValues("ok").Inc()

	rows := make([]models.UserActivity, 0, len(userIDs))
	for _, userID := range userIDs {
		total := durations[userID]
		rows = append(rows, models.UserActivity{
			UserID:      userID,
			TotalTimeMs: total,
			Bucket:      classify(total, thresholdMs),
		})
	}

	op.mu.Lock()
	op.rows = append(op.rows, rows...)
	op.usersProcessed += len(userIDs)
	op.batchesDone++
	done := op.batchesDone
	op.mu.Unlock()

	op.emitProgress(false)

	if done%e.cfg.PartialEvery == 0 {
		e.emitPartial(op)
	}

	if e.mem.overThreshold() {
		metrics.ReportMemoryCleanups.Inc()
		pruned := e.Prune(time.Minute)
		e.mem.cleanup()
		logging.Warn().
			Str("operation_id", op.id).
			Int("pruned_operations", pruned).
			Uint64("rss_mb", e.mem.lastRSSMB()).
			Msg("Memory threshold exceeded, cleanup pass completed")
	}
}

// queryWithRetry runs the grouped activity query for one batch, retrying
// transient failures with exponential backoff.
func (e *Engine) queryWithRetry(ctx context.Context, op *operation, index int,
	userIDs []string) (map[string]int64, error) {

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ReportBatches.WithLabelValues("retried").Inc()
			delay := e.cfg.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		durations, err := e.store.QueryBatch(ctx, op.guildID, userIDs, op.dates)
		if err == nil {
			return durations, nil
		}
		lastErr = err

		logging.Warn().Err(err).
			Str("operation_id", op.id).
			Int("batch", index).
			Int("attempt", attempt+1).
			Msg("Batch query failed")
	}
	return nil, fmt.Errorf("batch %d exhausted %d retries: %w", index, e.cfg.MaxRetries, lastErr)
}

// classify buckets a duration against the guild's activity threshold.
func classify(totalMs, thresholdMs int64) models.ActivityBucket {
	switch {
	case totalMs >= thresholdMs:
		return models.BucketActive
	case totalMs > 0:
		return models.BucketLowActivity
	default:
		return models.BucketInactive
	}
}

// partition splits ids into consecutive batches of at most size.
func partition(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 {
		size = 1
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
