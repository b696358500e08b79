/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sweeper periodically expires waiting entries that can no longer be served.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper is the engine operation the service drives.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// Service runs Sweep on a fixed interval.
type Service struct {
	engine   Sweeper
	interval time.Duration
	logger   zerolog.Logger
}

// New creates a sweeper service.
func New(engine Sweeper, interval time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		engine:   engine,
		interval: interval,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps once immediately and then every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	if n := s.engine.Sweep(ctx); n > 0 {
		s.logger.Info().Int("expired", n).Msg("sweep expired waiting entries")
	}
}
