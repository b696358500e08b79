/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
)

// EventType enumerates fact categories.
type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationConfirmed EventType = "reservation.confirmed"
	EventReservationRejected  EventType = "reservation.rejected"

	EventWaitingAdded     EventType = "waiting_list.added"
	EventWaitingNotified  EventType = "waiting_list.notified"
	EventWaitingConfirmed EventType = "waiting_list.confirmed"
	EventWaitingDeclined  EventType = "waiting_list.declined"
	EventWaitingExpired   EventType = "waiting_list.expired"
	EventWaitingCancelled EventType = "waiting_list.cancelled"

	EventConflictDetected EventType = "schedule.conflict_detected"
)

// AllTypes lists every fact type the engine emits.
var AllTypes = []EventType{
	EventReservationCreated,
	EventReservationCancelled,
	EventReservationConfirmed,
	EventReservationRejected,
	EventWaitingAdded,
	EventWaitingNotified,
	EventWaitingConfirmed,
	EventWaitingDeclined,
	EventWaitingExpired,
	EventWaitingCancelled,
	EventConflictDetected,
}

// Payload generic event payload.
type Payload map[string]any

// Event is one fact emitted after a committed state transition.
// ID is the idempotency key downstream consumers de-duplicate on.
type Event struct {
	ID         string    `json:"event_id"`
	Type       EventType `json:"type"`
	ResourceID string    `json:"resource_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    Payload   `json:"payload"`
}

// Subscriber receives events.
type Subscriber chan Event

// ErrSubscriberFull is returned by Deliver when a subscriber had no room.
var ErrSubscriberFull = errors.New("event subscriber full")

// maxPartial bounds the events Deliver remembers as half delivered.
const maxPartial = 1024

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber

	// partial maps an event id to the subscribers that already hold it,
	// so a retried Deliver reaches only the ones that were full.
	partialMu sync.Mutex
	partial   map[string]map[Subscriber]struct{}
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[EventType][]Subscriber),
		partial: make(map[string]map[Subscriber]struct{}),
	}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 64)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends the event to subscribers. Slow subscribers drop events and
// the drop is counted.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.send(ev, nil)
}

// send offers ev to every subscriber not in skip without blocking and returns
// the subscribers that received it plus the number that were full. Callers
// hold b.mu for reading so Unsubscribe cannot close a channel mid-send.
func (b *Bus) send(ev Event, skip map[Subscriber]struct{}) (map[Subscriber]struct{}, int) {
	got := make(map[Subscriber]struct{}, len(skip))
	for sub := range skip {
		got[sub] = struct{}{}
	}
	full := 0
	for _, sub := range b.subs[ev.Type] {
		if _, done := skip[sub]; done {
			continue
		}
		select {
		case sub <- ev:
			got[sub] = struct{}{}
		default:
			full++
		}
	}
	if full > 0 {
		telemetry.BusDroppedTotal.WithLabelValues(string(ev.Type)).Add(float64(full))
	}
	return got, full
}

// Name identifies the bus as a delivery sink.
func (b *Bus) Name() string {
	return "local"
}

// Deliver lets the bus act as a dispatcher sink. It returns ErrSubscriberFull
// when any subscriber had no room so the dispatcher retries; a retry skips the
// subscribers that already received the event.
func (b *Bus) Deliver(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.partialMu.Lock()
	held := b.partial[ev.ID]
	b.partialMu.Unlock()

	got, full := b.send(ev, held)

	b.partialMu.Lock()
	defer b.partialMu.Unlock()
	if full == 0 {
		delete(b.partial, ev.ID)
		return nil
	}
	if _, known := b.partial[ev.ID]; !known && len(b.partial) >= maxPartial {
		for id := range b.partial {
			delete(b.partial, id)
			break
		}
	}
	b.partial[ev.ID] = got
	return fmt.Errorf("%w: %d subscribers of %s missed event %s", ErrSubscriberFull, full, ev.Type, ev.ID)
}

// Close satisfies the sink contract; subscribers stay open.
func (b *Bus) Close() error {
	return nil
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}
