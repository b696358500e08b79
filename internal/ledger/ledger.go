/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ledger keeps the confirmed, non-overlapping reservations of each resource.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_reserve/internal/models"
)

// FreedInterval describes the interval released by a reservation.
type FreedInterval struct {
	ResourceID    string
	ReservationID string
	models.Interval
}

// book holds one resource's confirmed reservations sorted by start.
// Non-overlap implies the ends are sorted as well.
type book struct {
	mu     sync.RWMutex
	active []models.Reservation
}

// Memory is an in-memory TimeSlotLedger.
type Memory struct {
	mu       sync.RWMutex
	books    map[string]*book
	archive  map[string]models.Reservation
	location map[string]string // reservation id -> resource id
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		books:    make(map[string]*book),
		archive:  make(map[string]models.Reservation),
		location: make(map[string]string),
	}
}

func (m *Memory) bookFor(resourceID string, create bool) *book {
	m.mu.RLock()
	b, ok := m.books[resourceID]
	m.mu.RUnlock()
	if ok || !create {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.books[resourceID]; ok {
		return b
	}
	b = &book{}
	m.books[resourceID] = b
	return b
}

// IsFree reports whether [start,end) keeps at least buffer distance from
// every confirmed reservation on the resource.
func (m *Memory) IsFree(resourceID string, start, end time.Time, buffer time.Duration) bool {
	return len(m.Conflicts(resourceID, start, end, buffer)) == 0
}

// Conflicts returns the confirmed reservations that block [start,end).
func (m *Memory) Conflicts(resourceID string, start, end time.Time, buffer time.Duration) []models.Reservation {
	b := m.bookFor(resourceID, false)
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conflicts(models.Interval{Start: start, End: end}.Pad(buffer))
}

func (b *book) conflicts(padded models.Interval) []models.Reservation {
	// First reservation ending after the padded start.
	i := sort.Search(len(b.active), func(i int) bool {
		return b.active[i].EndsAt.After(padded.Start)
	})
	var out []models.Reservation
	for ; i < len(b.active) && b.active[i].StartsAt.Before(padded.End); i++ {
		out = append(out, b.active[i])
	}
	return out
}

// Commit inserts a confirmed reservation. The free check is repeated under
// the resource book lock, so a concurrent winner yields a ConflictError.
func (m *Memory) Commit(resourceID string, r models.Reservation, buffer time.Duration) error {
	if r.ResourceID != resourceID {
		return fmt.Errorf("commit %s: reservation belongs to resource %s", resourceID, r.ResourceID)
	}
	if !r.EndsAt.After(r.StartsAt) {
		return models.Invalid("reservation %s has empty interval", r.ID)
	}

	b := m.bookFor(resourceID, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	if blocking := b.conflicts(r.Interval().Pad(buffer)); len(blocking) > 0 {
		return &models.ConflictError{
			ResourceID: resourceID,
			Start:      r.StartsAt,
			End:        r.EndsAt,
			Conflicts:  blocking,
		}
	}

	r.Status = models.ReservationConfirmed
	idx := sort.Search(len(b.active), func(i int) bool {
		return !b.active[i].StartsAt.Before(r.StartsAt)
	})
	b.active = append(b.active, models.Reservation{})
	copy(b.active[idx+1:], b.active[idx:])
	b.active[idx] = r

	m.mu.Lock()
	m.location[r.ID] = resourceID
	m.mu.Unlock()
	return nil
}

// Release removes a confirmed reservation and returns it with the freed interval.
// The caller decides the archived status through Archive.
func (m *Memory) Release(resourceID, reservationID string) (models.Reservation, FreedInterval, error) {
	b := m.bookFor(resourceID, false)
	if b == nil {
		return models.Reservation{}, FreedInterval{}, models.ErrReservationNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.active {
		if r.ID != reservationID {
			continue
		}
		b.active = append(b.active[:i], b.active[i+1:]...)
		return r, FreedInterval{
			ResourceID:    resourceID,
			ReservationID: reservationID,
			Interval:      r.Interval(),
		}, nil
	}
	return models.Reservation{}, FreedInterval{}, models.ErrReservationNotFound
}

// Archive stores a released reservation for later lookup.
func (m *Memory) Archive(r models.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archive[r.ID] = r
	m.location[r.ID] = r.ResourceID
}

// Get looks a reservation up among active and archived reservations.
func (m *Memory) Get(reservationID string) (models.Reservation, bool) {
	m.mu.RLock()
	resourceID, ok := m.location[reservationID]
	archived, isArchived := m.archive[reservationID]
	m.mu.RUnlock()
	if !ok {
		return models.Reservation{}, false
	}
	if isArchived {
		return archived, true
	}

	b := m.bookFor(resourceID, false)
	if b == nil {
		return models.Reservation{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.active {
		if r.ID == reservationID {
			return r, true
		}
	}
	return models.Reservation{}, false
}

// Active returns a copy of the confirmed reservations of a resource in start order.
func (m *Memory) Active(resourceID string) []models.Reservation {
	b := m.bookFor(resourceID, false)
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Reservation, len(b.active))
	copy(out, b.active)
	return out
}

// Resources lists resource ids with a ledger book.
func (m *Memory) Resources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.books))
	for id := range m.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
