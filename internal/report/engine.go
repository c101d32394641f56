// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package report implements the batch/streaming report engine. A report
// operation partitions its user population into fixed-size batches,
// processes up to a configured number of batches concurrently, retries
// failed batches with exponential backoff under an error budget, and
// streams rate-limited progress plus bounded partial previews to its
// subscriber while the computation runs.
//
// Operation lifecycle:
//
//	INITIALIZING -> PROCESSING_DATA -> (GENERATING_PARTIAL <-> PROCESSING_DATA)
//	             -> FINALIZING -> COMPLETED | ERROR | CANCELLED
package report

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/voxtime/voxtime/internal/cache"
	"github.com/voxtime/voxtime/internal/config"
	"github.com/voxtime/voxtime/internal/directory"
	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/metrics"
	"github.com/voxtime/voxtime/internal/models"
	"github.com/voxtime/voxtime/internal/settings"
)

// updateBuffer is the subscriber channel capacity. Progress and partials
// are dropped when the subscriber lags; the final result is never dropped.
const updateBuffer = 64

// finalSendTimeout bounds how long a finished operation waits for a
// subscriber that stopped reading.
const finalSendTimeout = 10 * time.Second

// Store is the storage surface the engine needs. Satisfied by *database.DB.
type Store interface {
	QueryBatch(ctx context.Context, guildID string, userIDs []string, r models.DateRange) (map[string]int64, error)
	ListActiveUsers(ctx context.Context, guildID string, r models.DateRange) ([]string, error)
	GetReport(ctx context.Context, cacheKey string) (*models.ReportResult, error)
	PutReport(ctx context.Context, cacheKey string, result *models.ReportResult, ttl time.Duration) error
}

// Engine runs report-generation operations.
type Engine struct {
	store    Store
	settings settings.Provider
	names    directory.Resolver
	cfg      config.ReportConfig
	cacheTTL time.Duration

	mem *memoryMonitor

	mu  sync.Mutex
	ops map[string]*operation
}

// operation is the mutable state of one in-flight report.
type operation struct {
	id      string
	guildID string
	filter  models.ReportFilter
	dates   models.DateRange
	started time.Time

	cancel  context.CancelFunc
	updates chan models.ReportUpdate
	limiter *rate.Limiter

	mu             sync.Mutex
	state          models.ReportState
	finished       time.Time
	batchesDone    int
	batchesTotal   int
	usersProcessed int
	rows           []models.UserActivity
	failedBatches  []int
	errs           []models.ReportErrorDetail
}

// NewEngine creates a report engine. names may be nil to skip display-name
// enrichment.
func NewEngine(store Store, provider settings.Provider, names directory.Resolver,
	cfg config.ReportConfig, cacheTTL time.Duration) *Engine {
	return &Engine{
		store:    store,
		settings: provider,
		names:    names,
		cfg:      cfg,
		cacheTTL: cacheTTL,
		mem:      newMemoryMonitor(cfg.MemoryThresholdMB),
		ops:      make(map[string]*operation),
	}
}

// Generate starts a report operation and returns its ID plus the update
// stream. The stream carries progress, partial previews, and exactly one
// final result (or error) before closing. A cached report short-circuits
// the whole pipeline.
func (e *Engine) Generate(ctx context.Context, guildID string, filter models.ReportFilter,
	dates models.DateRange) (string, <-chan models.ReportUpdate, error) {

	if guildID == "" {
		return "", nil, fmt.Errorf("report: guild id is required")
	}
	if err := dates.Validate(); err != nil {
		return "", nil, fmt.Errorf("report: %w", err)
	}

	// Hit/miss accounting lives in the store's GetReport, which can also
	// distinguish expired entries.
	cacheKey := cache.ReportKey(guildID, filter, dates)
	if cached, err := e.store.GetReport(ctx, cacheKey); err == nil {
		return cached.OperationID, e.registerCached(cached, guildID, filter, dates), nil
	}

	// The operation outlives the request that started it; only Cancel
	// stops it once admitted.
	opCtx, cancel := context.WithCancel(context.Background())
	op := &operation{
		id:      uuid.New().String(),
		guildID: guildID,
		filter:  filter,
		dates:   dates,
		started: time.Now(),
		cancel:  cancel,
		updates: make(chan models.ReportUpdate, updateBuffer),
		limiter: rate.NewLimiter(rate.Every(e.cfg.ProgressInterval), 1),
		state:   models.ReportInitializing,
	}

	e.mu.Lock()
	e.ops[op.id] = op
	e.mu.Unlock()

	go e.run(opCtx, op, cacheKey)
	return op.id, op.updates, nil
}

// registerCached records a terminal operation snapshot for a cache-served
// report, so the status endpoint resolves the returned operation ID instead
// of reporting it unknown. The stream carries the final result and closes.
func (e *Engine) registerCached(cached *models.ReportResult, guildID string,
	filter models.ReportFilter, dates models.DateRange) <-chan models.ReportUpdate {

	updates := make(chan models.ReportUpdate, 1)
	updates <- models.ReportUpdate{Final: cached}
	close(updates)

	now := time.Now()
	op := &operation{
		id:      cached.OperationID,
		guildID: guildID,
		filter:  filter,
		dates:   dates,
		started: now,
		cancel:  func() {},
		limiter: rate.NewLimiter(rate.Every(e.cfg.ProgressInterval), 1),

		state:          cached.State,
		finished:       now,
		usersProcessed: cached.UserCount,
	}

	e.mu.Lock()
	e.ops[op.id] = op
	e.mu.Unlock()
	return updates
}

// Cancel requests cancellation of an operation. Returns false when the
// operation is unknown or already terminal. Batches already in flight are
// not interrupted; their results are discarded.
func (e *Engine) Cancel(operationID string) bool {
	e.mu.Lock()
	op, ok := e.ops[operationID]
	e.mu.Unlock()
	if !ok {
		return false
	}

	op.mu.Lock()
	terminal := op.state.IsTerminal()
	op.mu.Unlock()
	if terminal {
		return false
	}

	op.cancel()
	logging.Info().Str("operation_id", operationID).Msg("Report cancellation requested")
	return true
}

// Status returns a progress snapshot for an operation.
func (e *Engine) Status(operationID string) (*models.ReportProgress, bool) {
	e.mu.Lock()
	op, ok := e.ops[operationID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return op.snapshot(), true
}

// run executes one report operation end to end.
func (e *Engine) run(ctx context.Context, op *operation, cacheKey string) {
	defer op.cancel()

	op.emitProgress(true)

	userIDs, err := e.resolveUsers(ctx, op)
	if err != nil {
		e.finish(ctx, op, cacheKey, &models.ReportErrorDetail{
			Code:        "user_resolution_failed",
			Message:     err.Error(),
			Stage:       models.ReportInitializing,
			Recoverable: false,
		})
		return
	}

	threshold := e.activityThresholdMs(ctx, op.guildID)

	op.setState(models.ReportProcessingData)
	batches := partition(userIDs, e.cfg.BatchSize)
	op.mu.Lock()
	op.batchesTotal = len(batches)
	op.mu.Unlock()

	logging.Info().
		Str("operation_id", op.id).
		Str("guild_id", op.guildID).
		Int("users", len(userIDs)).
		Int("batches", len(batches)).
		Msg("Report processing started")

	e.processBatches(ctx, op, batches, threshold)

	if ctx.Err() != nil {
		e.finish(ctx, op, cacheKey, nil)
		return
	}

	op.mu.Lock()
	overBudget := len(op.failedBatches) > e.cfg.MaxErrors
	op.mu.Unlock()
	if overBudget {
		e.finish(ctx, op, cacheKey, &models.ReportErrorDetail{
			Code:        "error_budget_exhausted",
			Message:     fmt.Sprintf("more than %d batches failed permanently", e.cfg.MaxErrors),
			Stage:       models.ReportProcessingData,
			Recoverable: false,
		})
		return
	}

	e.finish(ctx, op, cacheKey, nil)
}

// resolveUsers determines the report's user population.
func (e *Engine) resolveUsers(ctx context.Context, op *operation) ([]string, error) {
	if len(op.filter.UserIDs) > 0 {
		return dedupe(op.filter.UserIDs), nil
	}
	users, err := e.store.ListActiveUsers(ctx, op.guildID, op.dates)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	return users, nil
}

// activityThresholdMs converts the guild's activity-hours threshold into
// milliseconds for bucket classification.
func (e *Engine) activityThresholdMs(ctx context.Context, guildID string) int64 {
	s, err := e.settings.Settings(ctx, guildID)
	if err != nil || s.ActivityHoursThreshold <= 0 {
		return int64(settings.DefaultActivityHoursThreshold * float64(time.Hour.Milliseconds()))
	}
	return int64(s.ActivityHoursThreshold * float64(time.Hour.Milliseconds()))
}

// finish moves the operation to its terminal state, emits the final update,
// and caches completed results. A cancelled context always terminates as
// CANCELLED, even when the cancellation surfaced as an operation error
// first; otherwise opErr forces ERROR, and the operation completes
// otherwise, possibly with recorded batch errors.
func (e *Engine) finish(ctx context.Context, op *operation, cacheKey string, opErr *models.ReportErrorDetail) {
	op.setState(models.ReportFinalizing)
	op.emitProgress(true)

	op.mu.Lock()
	rows := make([]models.UserActivity, len(op.rows))
	copy(rows, op.rows)
	failed := append([]int(nil), op.failedBatches...)
	errs := append([]models.ReportErrorDetail(nil), op.errs...)
	op.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalTimeMs != rows[j].TotalTimeMs {
			return rows[i].TotalTimeMs > rows[j].TotalTimeMs
		}
		return rows[i].UserID < rows[j].UserID
	})
	e.enrichNames(op.guildID, rows)

	state := models.ReportCompleted
	switch {
	case ctx.Err() != nil:
		state = models.ReportCancelled
	case opErr != nil:
		state = models.ReportError
		errs = append(errs, *opErr)
	}

	final := &models.ReportResult{
		OperationID:      op.id,
		GuildID:          op.guildID,
		State:            state,
		Range:            op.dates,
		Users:            rows,
		UserCount:        len(rows),
		FailedBatches:    failed,
		Errors:           errs,
		GenerationTimeMs: time.Since(op.started).Milliseconds(),
		GeneratedAt:      time.Now().UTC(),
	}

	op.mu.Lock()
	op.state = state
	op.finished = time.Now()
	op.mu.Unlock()
	metrics.ReportOperations.WithLabelValues(string(state)).Inc()

	// Only clean, complete results are worth memoizing.
	if state == models.ReportCompleted && len(failed) == 0 {
		putCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.store.PutReport(putCtx, cacheKey, final, e.cacheTTL); err != nil {
			logging.Warn().Err(err).Str("operation_id", op.id).
				Msg("Failed to cache report result")
		}
		cancel()
	}

	update := models.ReportUpdate{Final: final}
	if state == models.ReportError {
		update.Err = opErr
	}
	op.sendFinal(update)

	logging.Info().
		Str("operation_id", op.id).
		Str("state", string(state)).
		Int("users", len(rows)).
		Int("failed_batches", len(failed)).
		Int64("generation_ms", final.GenerationTimeMs).
		Msg("Report finished")
}

// enrichNames fills display names from the directory, degrading to the raw
// user ID.
func (e *Engine) enrichNames(guildID string, rows []models.UserActivity) {
	if e.names == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := range rows {
		rows[i].DisplayName = directory.DisplayName(ctx, e.names, guildID, rows[i].UserID)
	}
}

// Prune drops terminal operations older than retention from the registry.
// Called by the memory monitor and the periodic sweeper.
func (e *Engine) Prune(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, op := range e.ops {
		op.mu.Lock()
		stale := op.state.IsTerminal() && !op.finished.IsZero() && op.finished.Before(cutoff)
		op.mu.Unlock()
		if stale {
			delete(e.ops, id)
			removed++
		}
	}
	return removed
}

// dedupe removes duplicate user IDs preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
