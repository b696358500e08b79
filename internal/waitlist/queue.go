/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package waitlist holds the per-resource waiting queues.
package waitlist

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/friendsincode/grimnir_reserve/internal/models"
)

// queue is the active (WAITING or NOTIFIED) entries of one resource in rank order.
type queue struct {
	mu       sync.Mutex
	active   []*models.WaitingEntry
	snapshot atomic.Pointer[[]models.WaitingEntry]
}

// Memory is an in-process WaitingQueue. Mutations for one resource are
// expected to arrive serialized; reads of Rank and Position never lock the queue.
type Memory struct {
	mu      sync.RWMutex
	queues  map[string]*queue
	entries map[string]*models.WaitingEntry
}

// NewMemory creates an empty waiting queue store.
func NewMemory() *Memory {
	return &Memory{
		queues:  make(map[string]*queue),
		entries: make(map[string]*models.WaitingEntry),
	}
}

func (m *Memory) queueFor(resourceID string, create bool) *queue {
	m.mu.RLock()
	q := m.queues[resourceID]
	m.mu.RUnlock()
	if q != nil || !create {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q = m.queues[resourceID]; q == nil {
		q = &queue{}
		empty := []models.WaitingEntry{}
		q.snapshot.Store(&empty)
		m.queues[resourceID] = q
	}
	return q
}

// Enqueue inserts a WAITING entry at its ranked position.
func (m *Memory) Enqueue(e models.WaitingEntry) error {
	if e.ID == "" || e.ResourceID == "" {
		return models.Invalid("entry id and resource id required")
	}
	if e.Status != models.WaitingStatusWaiting {
		return models.Invalid("new entries must be waiting, got %s", e.Status)
	}

	q := m.queueFor(e.ResourceID, true)
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.active {
		if existing.UserID == e.UserID &&
			existing.DesiredStart.Equal(e.DesiredStart) &&
			existing.DesiredEnd.Equal(e.DesiredEnd) {
			return fmt.Errorf("%w: entry %s already queued", models.ErrDuplicateEntry, existing.ID)
		}
	}

	m.mu.Lock()
	if _, ok := m.entries[e.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: id %s in use", models.ErrDuplicateEntry, e.ID)
	}
	stored := e
	m.entries[e.ID] = &stored
	m.mu.Unlock()

	idx := sort.Search(len(q.active), func(i int) bool {
		return stored.Ranks(*q.active[i])
	})
	q.active = append(q.active, nil)
	copy(q.active[idx+1:], q.active[idx:])
	q.active[idx] = &stored
	q.publish()
	return nil
}

// Update replaces the stored state of an entry. Entries moving to a terminal
// status leave the active queue but stay readable through Get.
func (m *Memory) Update(e models.WaitingEntry) error {
	m.mu.Lock()
	current, ok := m.entries[e.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrEntryNotFound, e.ID)
	}
	if current.ResourceID != e.ResourceID {
		m.mu.Unlock()
		return models.Invalid("entry %s cannot move between resources", e.ID)
	}
	m.mu.Unlock()

	q := m.queueFor(e.ResourceID, true)
	q.mu.Lock()
	defer q.mu.Unlock()

	m.mu.Lock()
	*current = e
	m.mu.Unlock()

	if e.Status.Terminal() {
		q.drop(e.ID)
	}
	q.publish()
	return nil
}

// Remove deletes an entry from the active queue and returns its last state.
func (m *Memory) Remove(entryID string) (models.WaitingEntry, error) {
	m.mu.RLock()
	current, ok := m.entries[entryID]
	m.mu.RUnlock()
	if !ok {
		return models.WaitingEntry{}, fmt.Errorf("%w: %s", models.ErrEntryNotFound, entryID)
	}

	q := m.queueFor(current.ResourceID, false)
	if q == nil {
		return *current, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drop(entryID)
	q.publish()
	return *current, nil
}

// Get returns an entry in any status.
func (m *Memory) Get(entryID string) (models.WaitingEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[entryID]
	if !ok {
		return models.WaitingEntry{}, false
	}
	return *e, true
}

// Active returns the WAITING and NOTIFIED entries of a resource in rank order.
func (m *Memory) Active(resourceID string) []models.WaitingEntry {
	q := m.queueFor(resourceID, false)
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.WaitingEntry, len(q.active))
	for i, e := range q.active {
		out[i] = *e
	}
	return out
}

// Resources lists resources that have ever had a queue.
func (m *Memory) Resources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rank returns the last published ranking of a resource. It may trail an
// in-flight mutation and is meant for display only.
func (m *Memory) Rank(resourceID string) []models.QueuedEntry {
	q := m.queueFor(resourceID, false)
	if q == nil {
		return []models.QueuedEntry{}
	}
	snap := *q.snapshot.Load()
	out := make([]models.QueuedEntry, len(snap))
	for i, e := range snap {
		out[i] = models.QueuedEntry{WaitingEntry: e, Position: i + 1}
	}
	return out
}

// Position returns the 1-based display position of an active entry.
func (m *Memory) Position(entryID string) (int, bool) {
	m.mu.RLock()
	e, ok := m.entries[entryID]
	var resourceID string
	if ok {
		resourceID = e.ResourceID
	}
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}

	q := m.queueFor(resourceID, false)
	if q == nil {
		return 0, false
	}
	for i, queued := range *q.snapshot.Load() {
		if queued.ID == entryID {
			return i + 1, true
		}
	}
	return 0, false
}

// Candidate is the entry selected for a freed interval and the slot it is offered.
type Candidate struct {
	Entry models.WaitingEntry
	Slot  models.Interval
}

// Eligibility tunes PeekEligible.
type Eligibility struct {
	// MinOverlap is the minimum freed/requested duration ratio for
	// time-flexible entries. Zero means 1.0.
	MinOverlap float64
	// Skip excludes entries already tried for this vacancy.
	Skip func(entryID string) bool
	// Fits reports whether a slot is still bookable.
	Fits func(slot models.Interval) bool
}

// PeekEligible walks the queue in rank order and returns the first WAITING
// entry compatible with freed. Entries whose max wait elapsed by now are
// returned in stale for the caller to expire; they are never offered.
func (m *Memory) PeekEligible(resourceID string, freed models.Interval, now time.Time, opts Eligibility) (Candidate, []models.WaitingEntry, bool) {
	q := m.queueFor(resourceID, false)
	if q == nil {
		return Candidate{}, nil, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var stale []models.WaitingEntry
	for _, e := range q.active {
		if e.Status != models.WaitingStatusWaiting {
			continue
		}
		if opts.Skip != nil && opts.Skip(e.ID) {
			continue
		}
		if e.WaitExceeded(now) {
			stale = append(stale, *e)
			continue
		}
		slot, ok := OfferSlot(*e, freed, opts.MinOverlap)
		if !ok {
			continue
		}
		if opts.Fits != nil && !opts.Fits(slot) {
			continue
		}
		return Candidate{Entry: *e, Slot: slot}, stale, true
	}
	return Candidate{}, stale, false
}

func (q *queue) drop(entryID string) {
	for i, e := range q.active {
		if e.ID == entryID {
			q.active = append(q.active[:i], q.active[i+1:]...)
			return
		}
	}
}

func (q *queue) publish() {
	snap := make([]models.WaitingEntry, len(q.active))
	for i, e := range q.active {
		snap[i] = *e
	}
	q.snapshot.Store(&snap)
}
