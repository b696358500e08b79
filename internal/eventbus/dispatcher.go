/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus delivers emitted facts to downstream sinks off the engine's
// critical path.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
)

var (
	// ErrDispatcherFull is returned when a shard buffer has no room.
	ErrDispatcherFull = errors.New("event dispatcher full")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("event dispatcher closed")
)

// Sink is one downstream destination for facts.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev events.Event) error
	Close() error
}

// Config sizes the dispatcher.
type Config struct {
	Workers     int
	Buffer      int
	DedupWindow int

	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMaxElapsed time.Duration
}

// DefaultConfig returns production dispatcher settings.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		Buffer:          1024,
		DedupWindow:     4096,
		RetryInitial:    100 * time.Millisecond,
		RetryMax:        5 * time.Second,
		RetryMaxElapsed: 30 * time.Second,
	}
}

// Dispatcher fans facts out to sinks. Facts of one resource always land on the
// same worker, so their delivery order matches emission order.
type Dispatcher struct {
	cfg    Config
	logger zerolog.Logger
	sinks  []Sink
	dedup  *window

	mu     sync.RWMutex
	closed bool
	shards []chan events.Event
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher starts cfg.Workers delivery workers. cfg.Buffer is split
// evenly across the shards, so a burst for one resource can fill only
// Buffer/Workers slots before Publish returns ErrDispatcherFull.
func NewDispatcher(cfg Config, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = def.RetryInitial
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = def.RetryMaxElapsed
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:    cfg,
		logger: logger.With().Str("component", "event_dispatcher").Logger(),
		sinks:  sinks,
		dedup:  newWindow(cfg.DedupWindow),
		shards: make([]chan events.Event, cfg.Workers),
		ctx:    ctx,
		cancel: cancel,
	}

	perShard := cfg.Buffer / cfg.Workers
	if perShard < 1 {
		perShard = 1
	}
	for i := range d.shards {
		d.shards[i] = make(chan events.Event, perShard)
		d.wg.Add(1)
		go d.work(i, d.shards[i])
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	d.logger.Info().Int("workers", cfg.Workers).Int("buffer", cfg.Buffer).Strs("sinks", names).Msg("event dispatcher started")
	return d
}

// Publish enqueues ev without blocking. An event id already seen inside the
// de-duplication window is accepted and dropped.
func (d *Dispatcher) Publish(_ context.Context, ev events.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("event %s has no id", ev.Type)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		telemetry.DispatcherDroppedTotal.Inc()
		return ErrDispatcherClosed
	}
	if !d.dedup.add(ev.ID) {
		d.logger.Debug().Str("event_id", ev.ID).Msg("duplicate event dropped")
		return nil
	}

	select {
	case d.shards[shardFor(ev.ResourceID, len(d.shards))] <- ev:
		telemetry.DispatcherQueueDepth.Inc()
		return nil
	default:
		d.dedup.remove(ev.ID)
		telemetry.DispatcherDroppedTotal.Inc()
		return ErrDispatcherFull
	}
}

// Close stops accepting facts, drains what is buffered, then closes the sinks.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()

	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", s.Name(), err))
		}
	}
	d.logger.Info().Msg("event dispatcher stopped")
	return errors.Join(errs...)
}

func (d *Dispatcher) work(shard int, ch <-chan events.Event) {
	defer d.wg.Done()
	for ev := range ch {
		telemetry.DispatcherQueueDepth.Dec()
		for _, sink := range d.sinks {
			d.deliver(shard, sink, ev)
		}
	}
}

func (d *Dispatcher) deliver(shard int, sink Sink, ev events.Event) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.RetryInitial
	policy.MaxInterval = d.cfg.RetryMax
	policy.MaxElapsedTime = d.cfg.RetryMaxElapsed

	attempts := 0
	op := func() error {
		attempts++
		return sink.Deliver(d.ctx, ev)
	}
	err := backoff.Retry(op, backoff.WithContext(policy, d.ctx))
	if err != nil {
		telemetry.SinkDeliveriesTotal.WithLabelValues(sink.Name(), "failed").Inc()
		d.logger.Error().
			Err(err).
			Str("sink", sink.Name()).
			Str("event_id", ev.ID).
			Str("event_type", string(ev.Type)).
			Int("attempts", attempts).
			Msg("event delivery failed")
		return
	}

	telemetry.SinkDeliveriesTotal.WithLabelValues(sink.Name(), "delivered").Inc()
	d.logger.Debug().
		Int("shard", shard).
		Str("sink", sink.Name()).
		Str("event_id", ev.ID).
		Str("event_type", string(ev.Type)).
		Msg("event delivered")
}

func shardFor(resourceID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(resourceID))
	return int(h.Sum32() % uint32(n))
}

// window remembers the last n event ids.
type window struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

func newWindow(n int) *window {
	return &window{seen: make(map[string]struct{}, n), ring: make([]string, n)}
}

// add records id and reports whether it was new.
func (w *window) add(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[id]; ok {
		return false
	}
	if old := w.ring[w.next]; old != "" {
		delete(w.seen, old)
	}
	w.ring[w.next] = id
	w.next = (w.next + 1) % len(w.ring)
	w.seen[id] = struct{}{}
	return true
}

func (w *window) remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.seen, id)
}
