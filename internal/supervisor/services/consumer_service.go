// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxtime/voxtime/internal/bus"
)

// ConsumerService runs the transition consumer: it subscribes the tracker's
// handler to the bus and blocks until shutdown. If the subscription fails or
// the consume loop exits unexpectedly, suture restarts the service, which
// re-subscribes.
type ConsumerService struct {
	bus     *bus.Bus
	handler bus.Handler
}

// NewConsumerService creates a supervised wrapper around the bus consume
// loop. The handler is re-attached on every (re)start.
func NewConsumerService(b *bus.Bus, handler bus.Handler) *ConsumerService {
	return &ConsumerService{bus: b, handler: handler}
}

// Serve implements suture.Service.
func (c *ConsumerService) Serve(ctx context.Context) error {
	err := c.bus.Run(ctx, c.handler)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("transition consumer: %w", err)
	}
	return ctx.Err()
}

func (c *ConsumerService) String() string { return "transition-consumer" }

// SourceService runs an external event source (the NATS bridge) that
// forwards transition events onto the in-process bus.
type SourceService struct {
	source *bus.NATSSource
}

// NewSourceService wraps a NATS source as a supervised service.
func NewSourceService(source *bus.NATSSource) *SourceService {
	return &SourceService{source: source}
}

// Serve implements suture.Service.
func (s *SourceService) Serve(ctx context.Context) error {
	err := s.source.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("nats source: %w", err)
	}
	return ctx.Err()
}

func (s *SourceService) String() string { return "nats-source" }
