// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package directory

import "errors"

// ErrMemberNotFound is returned when a user has no directory entry.
var ErrMemberNotFound = errors.New("directory: member not found")
