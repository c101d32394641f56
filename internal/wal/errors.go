// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package wal

import "errors"

var (
	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("wal: closed")

	// ErrNilSession is returned when Write receives a nil session.
	ErrNilSession = errors.New("wal: nil session")

	// ErrEmptyEntryID is returned when Confirm receives an empty ID.
	ErrEmptyEntryID = errors.New("wal: empty entry id")

	// ErrEntryNotFound is returned when confirming an unknown entry.
	ErrEntryNotFound = errors.New("wal: entry not found")
)
