/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/events"
)

// AMQPSink publishes facts to a durable topic exchange, routed by event type.
// MessageId carries the event id for consumer-side de-duplication.
type AMQPSink struct {
	url      string
	exchange string
	logger   zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSink dials the broker and declares the exchange.
func NewAMQPSink(url, exchange string, logger zerolog.Logger) (*AMQPSink, error) {
	s := &AMQPSink{
		url:      url,
		exchange: exchange,
		logger:   logger.With().Str("component", "amqp_sink").Logger(),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	s.logger.Info().Str("exchange", exchange).Msg("AMQP sink initialized")
	return s, nil
}

func (s *AMQPSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	s.conn, s.ch = conn, ch
	return nil
}

// Name identifies the sink.
func (s *AMQPSink) Name() string {
	return "amqp"
}

// Deliver publishes ev with routing key equal to its type. A closed channel
// is reopened once before giving up, leaving further attempts to the dispatcher.
func (s *AMQPSink) Deliver(ctx context.Context, ev events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil || s.ch.IsClosed() {
		s.closeLocked()
		if err := s.connect(); err != nil {
			return err
		}
		s.logger.Info().Msg("reconnected to rabbitmq")
	}

	return s.ch.PublishWithContext(ctx, s.exchange, string(ev.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		Headers:      amqp.Table{"resource_id": ev.ResourceID},
		Body:         body,
	})
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *AMQPSink) closeLocked() error {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		if err != nil && err != amqp.ErrClosed {
			return err
		}
	}
	return nil
}
