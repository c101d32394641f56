// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package bus carries presence transition events from the ingestion surface
// to the session tracker over an in-process Watermill Pub/Sub. A single
// consumer goroutine drains the topic, so events are applied in publish
// order; per-user ordering, which the tracker requires, follows from that.
//
// With the nats build tag the bus can additionally consume transitions from
// a NATS JetStream subject, for deployments where the upstream platform
// publishes through a broker.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/models"
)

// TopicTransitions is the in-process topic for presence transitions.
const TopicTransitions = "presence.transitions"

// Handler processes one transition event. Returning an error logs and
// drops the event; the bus is at-most-once because replaying a transition
// out of order would corrupt session state.
type Handler func(ctx context.Context, event *models.TransitionEvent) error

// Bus is the in-process transition event bus.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	closed bool
}

// New creates the bus.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			newWatermillLogger(),
		),
	}
}

// Publish enqueues a transition event.
func (b *Bus) Publish(ctx context.Context, event *models.TransitionEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}

	msg := message.NewMessage(event.EventID, payload)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(TopicTransitions, msg); err != nil {
		return fmt.Errorf("publish transition: %w", err)
	}
	return nil
}

// Run consumes the topic until ctx is cancelled, applying handler to each
// event in order. Malformed payloads and handler failures are logged and
// acknowledged; blocking on them would stall every user behind one bad
// event.
func (b *Bus) Run(ctx context.Context, handler Handler) error {
	messages, err := b.pubsub.Subscribe(ctx, TopicTransitions)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicTransitions, err)
	}

	logging.Info().Str("topic", TopicTransitions).Msg("Transition consumer started")

	for msg := range messages {
		var event models.TransitionEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			logging.Warn().Err(err).Str("message_id", msg.UUID).
				Msg("Dropping malformed transition event")
			msg.Ack()
			continue
		}

		if err := handler(ctx, &event); err != nil {
			logging.Error().Err(err).
				Str("message_id", msg.UUID).
				Str("guild_id", event.GuildID).
				Str("user_id", event.UserID).
				Msg("Transition handler failed")
		}
		msg.Ack()
	}
	return nil
}

// Close shuts the bus down, closing subscriber channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

// watermillLogger adapts Watermill's logging onto zerolog.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

func (l *watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		e = e.Interface(k, v)
	}
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
