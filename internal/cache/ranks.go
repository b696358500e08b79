/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/models"
)

// RankSource computes the live rank of a resource's waiting list.
type RankSource interface {
	Rank(resourceID string) []models.QueuedEntry
}

// Ranks serves rank reads from the cache and refreshes it whenever a
// waiting_list fact is seen.
type Ranks struct {
	cache  *Cache
	source RankSource
	bus    *events.Bus
	logger zerolog.Logger
	subs   map[events.EventType]events.Subscriber
}

// NewRanks subscribes to waiting list facts on bus.
func NewRanks(cache *Cache, source RankSource, bus *events.Bus, logger zerolog.Logger) *Ranks {
	r := &Ranks{
		cache:  cache,
		source: source,
		bus:    bus,
		logger: logger.With().Str("component", "rank_cache").Logger(),
		subs:   make(map[events.EventType]events.Subscriber),
	}
	for _, t := range events.AllTypes {
		if strings.HasPrefix(string(t), "waiting_list.") {
			r.subs[t] = bus.Subscribe(t)
		}
	}
	return r
}

// Rank returns the cached snapshot, computing and caching it on a miss.
func (r *Ranks) Rank(ctx context.Context, resourceID string) []models.QueuedEntry {
	if ranked, ok := r.cache.GetRank(ctx, resourceID); ok {
		return ranked
	}
	ranked := r.source.Rank(resourceID)
	_ = r.cache.SetRank(ctx, resourceID, ranked)
	return ranked
}

// Refresh recomputes the snapshot of one resource.
func (r *Ranks) Refresh(ctx context.Context, resourceID string) {
	if !r.cache.IsAvailable() {
		return
	}
	if err := r.cache.SetRank(ctx, resourceID, r.source.Rank(resourceID)); err != nil {
		r.logger.Debug().Err(err).Str("resource_id", resourceID).Msg("rank refresh failed")
	}
}

// Start refreshes snapshots until ctx is cancelled.
func (r *Ranks) Start(ctx context.Context) {
	merged := make(chan events.Event, 64)
	for _, sub := range r.subs {
		go func(sub events.Subscriber) {
			for ev := range sub {
				select {
				case merged <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}
	defer func() {
		for t, sub := range r.subs {
			r.bus.Unsubscribe(t, sub)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-merged:
			r.Refresh(ctx, ev.ResourceID)
		}
	}
}
