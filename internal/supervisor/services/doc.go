// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package services contains suture.Service adapters for Voxtime's
// long-running components. Each wrapper translates a component's native
// lifecycle (blocking Serve, Start/Shutdown pair, or periodic tick) into
// suture's context-aware Serve pattern.
package services
