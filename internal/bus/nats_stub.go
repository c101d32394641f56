// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

//go:build !nats

package bus

import (
	"context"
	"errors"

	"github.com/voxtime/voxtime/internal/config"
)

// ErrNATSDisabled is returned when broker ingestion is requested but the
// binary was built without the nats tag.
var ErrNATSDisabled = errors.New("bus: built without nats support")

// NATSSource is unavailable without the nats build tag.
type NATSSource struct{}

// NewNATSSource always fails without the nats build tag.
func NewNATSSource(config.NATSConfig, *Bus) (*NATSSource, error) {
	return nil, ErrNATSDisabled
}

// Run never starts.
func (s *NATSSource) Run(context.Context) error { return ErrNATSDisabled }

// Close is a no-op.
func (s *NATSSource) Close() error { return nil }
