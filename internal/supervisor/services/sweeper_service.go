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

// ReportSweeper matches database.DB's report-cache expiry surface.
type ReportSweeper interface {
	SweepExpiredReports(ctx context.Context) (int64, error)
}

// OperationPruner matches report.Engine's terminal-operation cleanup.
type OperationPruner interface {
	Prune(retention time.Duration) int
}

// SweeperService periodically removes expired cached reports from the
// database and drops terminal report operations from the engine's registry.
type SweeperService struct {
	sweeper   ReportSweeper
	pruner    OperationPruner
	interval  time.Duration
	retention time.Duration
}

// NewSweeperService creates the report maintenance loop. retention is how
// long finished operations remain queryable via the status endpoint.
func NewSweeperService(sweeper ReportSweeper, pruner OperationPruner, interval, retention time.Duration) *SweeperService {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &SweeperService{
		sweeper:   sweeper,
		pruner:    pruner,
		interval:  interval,
		retention: retention,
	}
}

// Serve implements suture.Service.
func (s *SweeperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *SweeperService) sweepOnce(ctx context.Context) {
	removed, err := s.sweeper.SweepExpiredReports(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Report cache sweep failed")
	} else if removed > 0 {
		logging.Debug().Int64("removed", removed).Msg("Swept expired cached reports")
	}

	if pruned := s.pruner.Prune(s.retention); pruned > 0 {
		logging.Debug().Int("pruned", pruned).Msg("Pruned terminal report operations")
	}
}

func (s *SweeperService) String() string { return "report-sweeper" }
