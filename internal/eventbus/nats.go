/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	StreamName    string
	SubjectPrefix string

	// Window inside which JetStream drops repeated Nats-Msg-Id values.
	DuplicateWindow time.Duration

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             nats.DefaultURL,
		StreamName:      "RESERVE_EVENTS",
		SubjectPrefix:   "reserve.events",
		DuplicateWindow: 2 * time.Minute,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		Timeout:         5 * time.Second,
	}
}

// NATSSink persists facts to a JetStream stream. The event id doubles as the
// message id, so redelivered facts are discarded by the server.
type NATSSink struct {
	cfg    NATSConfig
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger zerolog.Logger
}

// NewNATSSink connects and makes sure the stream exists.
func NewNATSSink(cfg NATSConfig, logger zerolog.Logger) (*NATSSink, error) {
	logger = logger.With().Str("component", "nats_sink").Logger()

	opts := []nats.Option{
		nats.Name("grimnir-reserve"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			conn.Close()
			return nil, fmt.Errorf("stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       cfg.StreamName,
			Subjects:   []string{cfg.SubjectPrefix + ".>"},
			Storage:    nats.FileStorage,
			Retention:  nats.LimitsPolicy,
			Duplicates: cfg.DuplicateWindow,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("add stream: %w", err)
		}
		logger.Info().Str("stream", cfg.StreamName).Msg("created JetStream stream")
	}

	logger.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("NATS sink initialized")
	return &NATSSink{cfg: cfg, conn: conn, js: js, logger: logger}, nil
}

// Name identifies the sink.
func (s *NATSSink) Name() string {
	return "nats"
}

// Deliver publishes ev to <prefix>.<type>.
func (s *NATSSink) Deliver(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ack, err := s.js.Publish(Subject(s.cfg.SubjectPrefix, ev), data, nats.MsgId(ev.ID), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	if ack.Duplicate {
		s.logger.Debug().Str("event_id", ev.ID).Msg("stream already had event")
	}
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// Subject maps an event onto its NATS subject.
func Subject(prefix string, ev events.Event) string {
	return prefix + "." + string(ev.Type)
}
