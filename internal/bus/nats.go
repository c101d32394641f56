// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

//go:build nats

package bus

import (
	"context"
	"fmt"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/voxtime/voxtime/internal/config"
	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/models"
)

// NATSSource consumes presence transitions from a JetStream subject and
// republishes them onto the in-process bus. The durable consumer resumes
// where it left off across restarts; replayed transitions are harmless
// because the tracker treats identical transitions as no-ops and the store
// deduplicates completed sessions.
type NATSSource struct {
	subscriber *wmNats.Subscriber
	bus        *Bus
	cfg        config.NATSConfig
}

// NewNATSSource connects to the broker and prepares the durable consumer.
func NewNATSSource(cfg config.NATSConfig, b *Bus) (*NATSSource, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		// Ordering matters: a single subscriber keeps per-user arrival order.
		SubscribersCount: 1,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			DurablePrefix: cfg.DurableName,
		},
	}, newWatermillLogger())
	if err != nil {
		return nil, fmt.Errorf("nats subscriber: %w", err)
	}

	return &NATSSource{subscriber: sub, bus: b, cfg: cfg}, nil
}

// Run forwards broker messages onto the in-process bus until ctx ends.
func (s *NATSSource) Run(ctx context.Context) error {
	messages, err := s.subscriber.Subscribe(ctx, s.cfg.Subject)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}

	logging.Info().
		Str("subject", s.cfg.Subject).
		Str("durable", s.cfg.DurableName).
		Msg("NATS transition source started")

	for msg := range messages {
		var event models.TransitionEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			logging.Warn().Err(err).Str("message_id", msg.UUID).
				Msg("Dropping malformed broker transition")
			msg.Ack()
			continue
		}

		if err := s.bus.Publish(ctx, &event); err != nil {
			logging.Error().Err(err).Str("message_id", msg.UUID).
				Msg("Failed to forward broker transition")
			msg.Nack()
			continue
		}
		msg.Ack()
	}
	return nil
}

// Close shuts the broker subscription down.
func (s *NATSSource) Close() error {
	return s.subscriber.Close()
}
