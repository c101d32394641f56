// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package models

import (
	"fmt"
	"time"
)

// ReportState is the lifecycle state of a report-generation operation.
type ReportState string

const (
	ReportInitializing      ReportState = "INITIALIZING"
	ReportProcessingData    ReportState = "PROCESSING_DATA"
	ReportGeneratingPartial ReportState = "GENERATING_PARTIAL"
	ReportFinalizing        ReportState = "FINALIZING"
	ReportCompleted         ReportState = "COMPLETED"
	ReportError             ReportState = "ERROR"
	ReportCancelled         ReportState = "CANCELLED"
)

// IsTerminal reports whether the state ends the operation.
func (s ReportState) IsTerminal() bool {
	return s == ReportCompleted || s == ReportError || s == ReportCancelled
}

// ActivityBucket classifies a user's activity level relative to the guild's
// activity-hours threshold.
type ActivityBucket string

const (
	BucketActive      ActivityBucket = "active"
	BucketLowActivity ActivityBucket = "low_activity"
	BucketInactive    ActivityBucket = "inactive"
)

// ReportFilter selects the user population for a report. An empty filter
// means "all known users of the guild".
type ReportFilter struct {
	// RoleID restricts the report to members of a platform role.
	RoleID string `json:"role_id,omitempty"`

	// UserIDs restricts the report to an explicit user set.
	UserIDs []string `json:"user_ids,omitempty"`
}

// Key returns a deterministic string used in report cache keys.
func (f ReportFilter) Key() string {
	if f.RoleID != "" {
		return "role:" + f.RoleID
	}
	if len(f.UserIDs) > 0 {
		return fmt.Sprintf("users:%d", len(f.UserIDs))
	}
	return "all"
}

// UserActivity is one user's row in a report.
type UserActivity struct {
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name,omitempty"`
	TotalTimeMs int64          `json:"total_time_ms"`
	Bucket      ActivityBucket `json:"bucket"`
}

// ReportErrorDetail is the structured error carried by a failed report
// operation. Partial results already emitted remain valid alongside it.
type ReportErrorDetail struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Stage       ReportState       `json:"stage"`
	Recoverable bool              `json:"recoverable"`
	Context     map[string]string `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *ReportErrorDetail) Error() string {
	return fmt.Sprintf("%s (stage=%s): %s", e.Code, e.Stage, e.Message)
}

// ReportProgress is a rate-limited progress snapshot emitted to subscribers.
type ReportProgress struct {
	OperationID    string      `json:"operation_id"`
	State          ReportState `json:"state"`
	BatchesDone    int         `json:"batches_done"`
	BatchesTotal   int         `json:"batches_total"`
	UsersProcessed int         `json:"users_processed"`
	ErrorCount     int         `json:"error_count"`
	ElapsedMs      int64       `json:"elapsed_ms"`
}

// PartialResult is a bounded-size preview emitted while processing continues.
// It is pure progress reporting and never feeds back into final results.
type PartialResult struct {
	OperationID string         `json:"operation_id"`
	Active      []UserActivity `json:"active"`
	LowActivity []UserActivity `json:"low_activity"`
	Inactive    []UserActivity `json:"inactive"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// ReportResult is the final payload of a report operation. On ERROR it still
// carries whatever rows were computed before the failure.
type ReportResult struct {
	OperationID      string              `json:"operation_id"`
	GuildID          string              `json:"guild_id"`
	State            ReportState         `json:"state"`
	Range            DateRange           `json:"range"`
	Users            []UserActivity      `json:"users"`
	UserCount        int                 `json:"user_count"`
	FailedBatches    []int               `json:"failed_batches,omitempty"`
	Errors           []ReportErrorDetail `json:"errors,omitempty"`
	GenerationTimeMs int64               `json:"generation_time_ms"`
	GeneratedAt      time.Time           `json:"generated_at"`
}

// ReportUpdate is one element of the update stream a subscriber receives.
// Exactly one field is non-nil.
type ReportUpdate struct {
	Progress *ReportProgress    `json:"progress,omitempty"`
	Partial  *PartialResult     `json:"partial,omitempty"`
	Final    *ReportResult      `json:"final,omitempty"`
	Err      *ReportErrorDetail `json:"error,omitempty"`
}
