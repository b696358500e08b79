/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sweeper

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Elector reports leadership. *leadership.Election satisfies it.
type Elector interface {
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAware runs the sweeper only while this instance is the leader.
type LeaderAware struct {
	service  *Service
	election Elector
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLeaderAware wraps service.
func NewLeaderAware(service *Service, election Elector, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		service:  service,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_sweeper").Logger(),
	}
}

// Run follows leadership changes until ctx is cancelled. The election runs
// separately.
func (l *LeaderAware) Run(ctx context.Context) error {
	defer l.stop()

	if l.election.IsLeader() {
		l.start(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case isLeader := <-l.election.LeaderCh():
			if isLeader {
				l.logger.Info().Msg("became leader, starting sweeper")
				l.start(ctx)
			} else {
				l.logger.Info().Msg("lost leadership, stopping sweeper")
				l.stop()
			}
		}
	}
}

// Running reports whether the sweeper loop is active.
func (l *LeaderAware) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *LeaderAware) start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	go func() {
		defer close(done)
		_ = l.service.Run(runCtx)
	}()
}

func (l *LeaderAware) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
