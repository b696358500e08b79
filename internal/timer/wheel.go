/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timer keeps offer confirmation deadlines. All deadlines share one
// underlying clock timer armed for the earliest of them.
package timer

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/clock"
	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
)

type item struct {
	entryID  string
	deadline time.Time
	onExpire func()
	seq      uint64
	index    int
}

type deadlines []*item

func (d deadlines) Len() int { return len(d) }
func (d deadlines) Less(i, j int) bool {
	if d[i].deadline.Equal(d[j].deadline) {
		return d[i].seq < d[j].seq
	}
	return d[i].deadline.Before(d[j].deadline)
}
func (d deadlines) Swap(i, j int) {
	d[i], d[j] = d[j], d[i]
	d[i].index = i
	d[j].index = j
}
func (d *deadlines) Push(x any) {
	it := x.(*item)
	it.index = len(*d)
	*d = append(*d, it)
}
func (d *deadlines) Pop() any {
	old := *d
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*d = old[:n-1]
	return it
}

// Wheel schedules cancellable per-entry deadlines.
type Wheel struct {
	mu      sync.Mutex
	clock   clock.Clock
	logger  zerolog.Logger
	items   map[string]*item
	queue   deadlines
	armed   clock.Timer
	armedAt time.Time
	seq     uint64
	closed  bool
}

// New creates a timer wheel driven by clk.
func New(clk clock.Clock, logger zerolog.Logger) *Wheel {
	return &Wheel{
		clock:  clk,
		logger: logger.With().Str("component", "confirmation_timer").Logger(),
		items:  make(map[string]*item),
	}
}

// Schedule arms onExpire for entryID at deadline, replacing any earlier
// deadline for the same entry. A deadline already passed fires on the next tick.
func (w *Wheel) Schedule(entryID string, deadline time.Time, onExpire func()) error {
	if entryID == "" || onExpire == nil {
		return fmt.Errorf("%w: entry id and callback required", models.ErrTimerScheduling)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("%w: timer wheel closed", models.ErrTimerScheduling)
	}

	if existing, ok := w.items[entryID]; ok {
		heap.Remove(&w.queue, existing.index)
	}
	w.seq++
	it := &item{entryID: entryID, deadline: deadline, onExpire: onExpire, seq: w.seq}
	heap.Push(&w.queue, it)
	w.items[entryID] = it
	telemetry.PendingTimers.Set(float64(len(w.items)))
	w.rearm()
	return nil
}

// Cancel removes the deadline of entryID. It reports whether one was pending.
func (w *Wheel) Cancel(entryID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	it, ok := w.items[entryID]
	if !ok {
		return false
	}
	heap.Remove(&w.queue, it.index)
	delete(w.items, entryID)
	telemetry.PendingTimers.Set(float64(len(w.items)))
	w.rearm()
	return true
}

// Pending returns the number of armed deadlines.
func (w *Wheel) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// Close stops the wheel. Pending callbacks never fire.
func (w *Wheel) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.armed != nil {
		w.armed.Stop()
		w.armed = nil
	}
	w.items = make(map[string]*item)
	w.queue = nil
	telemetry.PendingTimers.Set(0)
}

// rearm points the underlying timer at the earliest deadline. Callers hold w.mu.
func (w *Wheel) rearm() {
	if len(w.queue) == 0 {
		if w.armed != nil {
			w.armed.Stop()
			w.armed = nil
		}
		return
	}
	next := w.queue[0].deadline
	if w.armed != nil && w.armedAt.Equal(next) {
		return
	}
	if w.armed != nil {
		w.armed.Stop()
	}
	delay := next.Sub(w.clock.Now())
	if delay < 0 {
		delay = 0
	}
	w.armedAt = next
	w.armed = w.clock.AfterFunc(delay, w.tick)
}

func (w *Wheel) tick() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	now := w.clock.Now()
	var due []*item
	for len(w.queue) > 0 && !w.queue[0].deadline.After(now) {
		it := heap.Pop(&w.queue).(*item)
		delete(w.items, it.entryID)
		due = append(due, it)
	}
	w.armed = nil
	telemetry.PendingTimers.Set(float64(len(w.items)))
	w.rearm()
	w.mu.Unlock()

	for _, it := range due {
		w.logger.Debug().Str("entry_id", it.entryID).Time("deadline", it.deadline).Msg("confirmation deadline reached")
		it.onExpire()
	}
}
