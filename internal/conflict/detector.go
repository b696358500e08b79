/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package conflict validates prospective reservations and commits them to the ledger.
package conflict

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/clock"
	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
)

// Ledger is the part of the TimeSlotLedger the detector needs.
type Ledger interface {
	Conflicts(resourceID string, start, end time.Time, buffer time.Duration) []models.Reservation
	Commit(resourceID string, r models.Reservation, buffer time.Duration) error
}

// Publisher accepts facts for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Request describes a prospective direct reservation.
type Request struct {
	ResourceID string
	UserID     string
	Start      time.Time
	End        time.Time
}

// Detector validates reservations against booking rules and existing bookings.
// Callers serialize calls per resource.
type Detector struct {
	ledger    Ledger
	rules     *RuleBook
	clock     clock.Clock
	publisher Publisher
	logger    zerolog.Logger
}

// NewDetector creates a conflict detector.
func NewDetector(ledger Ledger, rules *RuleBook, clk clock.Clock, publisher Publisher, logger zerolog.Logger) *Detector {
	return &Detector{
		ledger:    ledger,
		rules:     rules,
		clock:     clk,
		publisher: publisher,
		logger:    logger.With().Str("component", "conflict_detector").Logger(),
	}
}

// Rules returns the rules in effect for a resource.
func (d *Detector) Rules(resourceID string) Rules {
	return d.rules.For(resourceID)
}

// Validate checks duration bounds and the booking window without touching the ledger.
func (d *Detector) Validate(resourceID string, start, end time.Time) error {
	if resourceID == "" {
		return models.Invalid("resource id required")
	}
	if !end.After(start) {
		return models.Invalid("end must be after start")
	}

	rules := d.rules.For(resourceID)
	now := d.clock.Now()
	duration := end.Sub(start)

	if rules.MinDuration > 0 && duration < rules.MinDuration {
		return models.Invalid("duration %s below minimum %s", duration, rules.MinDuration)
	}
	if rules.MaxDuration > 0 && duration > rules.MaxDuration {
		return models.Invalid("duration %s above maximum %s", duration, rules.MaxDuration)
	}
	if start.Before(now.Add(rules.MinNotice)) {
		return models.Invalid("start must be at least %s from now", rules.MinNotice)
	}
	if rules.MaxAdvance > 0 && start.After(now.Add(rules.MaxAdvance)) {
		return models.Invalid("start is beyond the %s advance booking window", rules.MaxAdvance)
	}
	return nil
}

// RequestReservation validates and commits a direct reservation. On overlap it
// returns a *models.ConflictError and emits schedule.conflict_detected; it never
// enqueues the caller on the waiting list.
func (d *Detector) RequestReservation(ctx context.Context, req Request) (models.Reservation, error) {
	if req.UserID == "" {
		return models.Reservation{}, models.Invalid("user id required")
	}
	if err := d.Validate(req.ResourceID, req.Start, req.End); err != nil {
		telemetry.ReservationsTotal.WithLabelValues("invalid").Inc()
		return models.Reservation{}, err
	}

	now := d.clock.Now()
	r := models.Reservation{
		ID:         uuid.NewString(),
		ResourceID: req.ResourceID,
		UserID:     req.UserID,
		StartsAt:   req.Start,
		EndsAt:     req.End,
		Status:     models.ReservationPending,
		Source:     models.ReservationSourceDirect,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	committed, err := d.commit(ctx, r)
	if err != nil {
		return models.Reservation{}, err
	}
	telemetry.ReservationsTotal.WithLabelValues("confirmed").Inc()
	return committed, nil
}

// CommitPromoted commits the reservation of an accepted offer. Booking rules were
// checked when the entry joined, so only overlap is verified here.
func (d *Detector) CommitPromoted(ctx context.Context, entry models.WaitingEntry, slot models.Interval) (models.Reservation, error) {
	now := d.clock.Now()
	entryID := entry.ID
	r := models.Reservation{
		ID:             uuid.NewString(),
		ResourceID:     entry.ResourceID,
		UserID:         entry.UserID,
		StartsAt:       slot.Start,
		EndsAt:         slot.End,
		Status:         models.ReservationPending,
		Source:         models.ReservationSourceWaitingList,
		WaitingEntryID: &entryID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	committed, err := d.commit(ctx, r)
	if err != nil {
		return models.Reservation{}, err
	}
	telemetry.ReservationsTotal.WithLabelValues("promoted").Inc()
	return committed, nil
}

func (d *Detector) commit(ctx context.Context, r models.Reservation) (models.Reservation, error) {
	buffer := d.rules.For(r.ResourceID).Buffer

	if blocking := d.ledger.Conflicts(r.ResourceID, r.StartsAt, r.EndsAt, buffer); len(blocking) > 0 {
		return models.Reservation{}, d.conflict(ctx, &models.ConflictError{
			ResourceID: r.ResourceID,
			Start:      r.StartsAt,
			End:        r.EndsAt,
			Conflicts:  blocking,
		})
	}

	if err := d.ledger.Commit(r.ResourceID, r, buffer); err != nil {
		var conflictErr *models.ConflictError
		if errors.As(err, &conflictErr) {
			return models.Reservation{}, d.conflict(ctx, conflictErr)
		}
		return models.Reservation{}, err
	}

	r.Status = models.ReservationConfirmed
	d.emit(ctx, events.NewReservationCreated(r, d.clock.Now()))

	d.logger.Debug().
		Str("reservation_id", r.ID).
		Str("resource_id", r.ResourceID).
		Time("start", r.StartsAt).
		Time("end", r.EndsAt).
		Msg("reservation committed")
	return r, nil
}

func (d *Detector) conflict(ctx context.Context, err *models.ConflictError) error {
	telemetry.ConflictsTotal.WithLabelValues(err.ResourceID).Inc()
	d.emit(ctx, events.NewConflictDetected(err, d.clock.Now()))
	d.logger.Info().
		Str("resource_id", err.ResourceID).
		Time("start", err.Start).
		Time("end", err.End).
		Int("conflicts", len(err.Conflicts)).
		Msg("reservation conflict detected")
	return err
}

// emit hands a fact to the publisher. A reservation already committed stays
// committed when the fact cannot be enqueued; the failure is logged.
func (d *Detector) emit(ctx context.Context, ev events.Event) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, ev); err != nil {
		d.logger.Error().Err(err).Str("event_type", string(ev.Type)).Str("event_id", ev.ID).Msg("failed to enqueue event")
	}
}
