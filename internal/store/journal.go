/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists reservations and waiting entries with gorm.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_reserve/internal/booking"
	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const retryInterval = time.Second

// Store is a write-behind journal. Saves are coalesced by id so the latest
// state of each row wins, and flushed by Run in the background.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger

	mu           sync.Mutex
	reservations map[string]models.Reservation
	entries      map[string]models.WaitingEntry
	wake         chan struct{}
}

// New creates a store on an already migrated database.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:           db,
		logger:       logger.With().Str("component", "store").Logger(),
		reservations: make(map[string]models.Reservation),
		entries:      make(map[string]models.WaitingEntry),
		wake:         make(chan struct{}, 1),
	}
}

var _ booking.Journal = (*Store)(nil)

// SaveReservation queues an upsert of r.
func (s *Store) SaveReservation(r models.Reservation) {
	s.mu.Lock()
	s.reservations[r.ID] = r
	s.backlog()
	s.mu.Unlock()
	s.signal()
}

// SaveEntry queues an upsert of e.
func (s *Store) SaveEntry(e models.WaitingEntry) {
	s.mu.Lock()
	s.entries[e.ID] = e
	s.backlog()
	s.mu.Unlock()
	s.signal()
}

// Pending returns the number of rows not yet written.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations) + len(s.entries)
}

func (s *Store) backlog() {
	telemetry.JournalBacklog.Set(float64(len(s.reservations) + len(s.entries)))
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run flushes queued writes until ctx is cancelled, then drains what is left.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Flush(drainCtx); err != nil {
				s.logger.Error().Err(err).Int("pending", s.Pending()).Msg("journal drain failed")
				return err
			}
			return nil
		case <-s.wake:
		case <-ticker.C:
		}

		if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Int("pending", s.Pending()).Msg("journal flush failed, retrying")
		}
	}
}

// Flush writes every queued row in one transaction. On failure the rows are
// requeued unless a newer version was saved meanwhile.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	reservations, entries := s.reservations, s.entries
	if len(reservations) == 0 && len(entries) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.reservations = make(map[string]models.Reservation)
	s.entries = make(map[string]models.WaitingEntry)
	s.mu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range reservations {
			r := r
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&r).Error; err != nil {
				return fmt.Errorf("upsert reservation %s: %w", r.ID, err)
			}
		}
		for _, e := range entries {
			e := e
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&e).Error; err != nil {
				return fmt.Errorf("upsert waiting entry %s: %w", e.ID, err)
			}
		}
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		for id, r := range reservations {
			if _, newer := s.reservations[id]; !newer {
				s.reservations[id] = r
			}
		}
		for id, e := range entries {
			if _, newer := s.entries[id]; !newer {
				s.entries[id] = e
			}
		}
	}
	s.backlog()
	return err
}

// Load reads the state an engine needs to resume: confirmed reservations and
// entries still waiting or holding an offer.
func (s *Store) Load(ctx context.Context) (booking.Snapshot, error) {
	var snap booking.Snapshot

	if err := s.db.WithContext(ctx).
		Where("status = ?", models.ReservationConfirmed).
		Order("resource_id, starts_at").
		Find(&snap.Reservations).Error; err != nil {
		return booking.Snapshot{}, fmt.Errorf("load reservations: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Where("status IN ?", []models.WaitingStatus{models.WaitingStatusWaiting, models.WaitingStatusNotified}).
		Order("requested_at, id").
		Find(&snap.Entries).Error; err != nil {
		return booking.Snapshot{}, fmt.Errorf("load waiting entries: %w", err)
	}

	s.logger.Info().
		Int("reservations", len(snap.Reservations)).
		Int("entries", len(snap.Entries)).
		Msg("loaded persisted state")
	return snap, nil
}
