/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_reserve/internal/conflict"
	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
)

// RequestReservation books [start,end) directly. A conflict is returned to the
// caller; joining the waiting list is a separate decision.
func (e *Engine) RequestReservation(ctx context.Context, resourceID, userID string, start, end time.Time) (models.Reservation, error) {
	ctx, span := telemetry.StartCommandSpan(ctx, "request_reservation", resourceID)
	defer span.End()

	var out models.Reservation
	err := e.with(resourceID, func(st *resourceState) error {
		r, err := e.detector.RequestReservation(ctx, conflict.Request{
			ResourceID: resourceID,
			UserID:     userID,
			Start:      start,
			End:        end,
		})
		if err != nil {
			return err
		}
		e.journal.SaveReservation(r)
		out = r
		return nil
	})
	telemetry.RecordError(span, err)
	return out, err
}

// CancelReservation cancels a confirmed reservation and offers the freed
// interval to the waiting list.
func (e *Engine) CancelReservation(ctx context.Context, reservationID, cancelledBy, reason string) (models.Reservation, error) {
	return e.release(ctx, reservationID, cancelledBy, reason, models.ReservationCancelled)
}

// RejectReservation administratively rejects a confirmed reservation. The
// freed interval is promoted like a cancellation.
func (e *Engine) RejectReservation(ctx context.Context, reservationID, rejectedBy, reason string) (models.Reservation, error) {
	return e.release(ctx, reservationID, rejectedBy, reason, models.ReservationRejected)
}

func (e *Engine) release(ctx context.Context, reservationID, actor, reason string, status models.ReservationStatus) (models.Reservation, error) {
	existing, ok := e.ledger.Get(reservationID)
	if !ok {
		return models.Reservation{}, fmt.Errorf("%w: %s", models.ErrReservationNotFound, reservationID)
	}

	command := "cancel_reservation"
	if status == models.ReservationRejected {
		command = "reject_reservation"
	}
	ctx, span := telemetry.StartCommandSpan(ctx, command, existing.ResourceID)
	defer span.End()

	var out models.Reservation
	err := e.with(existing.ResourceID, func(st *resourceState) error {
		r, freed, err := e.ledger.Release(existing.ResourceID, reservationID)
		if err != nil {
			if errors.Is(err, models.ErrReservationNotFound) {
				current, _ := e.ledger.Get(reservationID)
				return fmt.Errorf("%w: reservation %s is %s", models.ErrInvalidStateTransition, reservationID, current.Status)
			}
			return err
		}

		now := e.clock.Now()
		r.Status = status
		r.CancelledAt = &now
		r.CancelledBy = actor
		r.CancelReason = reason
		r.UpdatedAt = now
		e.ledger.Archive(r)
		e.journal.SaveReservation(r)
		telemetry.ReservationsTotal.WithLabelValues(string(status)).Inc()

		if status == models.ReservationRejected {
			e.emit(ctx, events.NewReservationRejected(r.ResourceID, r.UserID, r.ID, "", reason, r.Interval(), now))
		} else {
			e.emit(ctx, events.NewReservationCancelled(r, now))
		}

		e.logger.Info().
			Str("reservation_id", r.ID).
			Str("resource_id", r.ResourceID).
			Str("status", string(status)).
			Str("by", actor).
			Msg("reservation released")

		e.onResourceFreed(ctx, st, freed)
		out = r
		return nil
	})
	telemetry.RecordError(span, err)
	return out, err
}

// JoinRequest carries the parameters of joinWaitingList.
type JoinRequest struct {
	ResourceID                 string
	UserID                     string
	DesiredStart               time.Time
	DesiredEnd                 time.Time
	Priority                   models.Priority
	AcceptAlternatives         bool
	AcceptAlternativeResources bool
	ConfirmationTimeLimit      int
	NotificationMethods        []models.NotificationMethod
	MaxWaitTimeHours           *int
}

func (e *Engine) validateJoin(req *JoinRequest) error {
	if req.UserID == "" {
		return models.Invalid("user id required")
	}
	if err := e.detector.Validate(req.ResourceID, req.DesiredStart, req.DesiredEnd); err != nil {
		return err
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !req.Priority.Valid() {
		return models.Invalid("unknown priority %q", req.Priority)
	}
	if req.ConfirmationTimeLimit == 0 {
		req.ConfirmationTimeLimit = e.cfg.DefaultConfirmationMinutes
	}
	if req.ConfirmationTimeLimit < 0 {
		return models.Invalid("confirmation time limit must be positive")
	}
	if req.MaxWaitTimeHours != nil && *req.MaxWaitTimeHours <= 0 {
		return models.Invalid("max wait time must be positive")
	}
	for _, m := range req.NotificationMethods {
		switch m {
		case models.NotificationEmail, models.NotificationSMS, models.NotificationPush, models.NotificationInApp:
		default:
			return models.Invalid("unknown notification method %q", m)
		}
	}
	if len(req.NotificationMethods) == 0 {
		req.NotificationMethods = []models.NotificationMethod{models.NotificationInApp}
	}
	return nil
}

// JoinWaitingList queues demand for a slot. A second active entry for the
// same user and desired interval fails with ErrDuplicateEntry.
func (e *Engine) JoinWaitingList(ctx context.Context, req JoinRequest) (models.WaitingEntry, error) {
	ctx, span := telemetry.StartCommandSpan(ctx, "join_waiting_list", req.ResourceID)
	defer span.End()

	if err := e.validateJoin(&req); err != nil {
		telemetry.RecordError(span, err)
		return models.WaitingEntry{}, err
	}

	var out models.WaitingEntry
	err := e.with(req.ResourceID, func(st *resourceState) error {
		now := e.clock.Now()
		entry := models.WaitingEntry{
			ID:                         uuid.NewString(),
			ResourceID:                 req.ResourceID,
			UserID:                     req.UserID,
			DesiredStart:               req.DesiredStart,
			DesiredEnd:                 req.DesiredEnd,
			Priority:                   req.Priority,
			AcceptAlternatives:         req.AcceptAlternatives,
			AcceptAlternativeResources: req.AcceptAlternativeResources,
			ConfirmationTimeLimit:      req.ConfirmationTimeLimit,
			Status:                     models.WaitingStatusWaiting,
			MaxWaitTimeHours:           req.MaxWaitTimeHours,
			NotificationMethods:        req.NotificationMethods,
			RequestedAt:                now,
			CreatedAt:                  now,
			UpdatedAt:                  now,
		}
		if err := e.queue.Enqueue(entry); err != nil {
			return err
		}

		telemetry.WaitingEntriesTotal.WithLabelValues(string(entry.Priority)).Inc()
		e.journal.SaveEntry(entry)
		e.emit(ctx, events.NewWaitingAdded(entry, now))
		e.logger.Info().
			Str("entry_id", entry.ID).
			Str("resource_id", entry.ResourceID).
			Str("user_id", entry.UserID).
			Str("priority", string(entry.Priority)).
			Msg("waiting entry added")
		out = entry
		return nil
	})
	telemetry.RecordError(span, err)
	return out, err
}

// WithdrawEntry cancels a WAITING or NOTIFIED entry on behalf of its user. A
// withdrawn offer is immediately re-offered to the next eligible entry.
func (e *Engine) WithdrawEntry(ctx context.Context, entryID string) (models.WaitingEntry, error) {
	entry, ok := e.queue.Get(entryID)
	if !ok {
		return models.WaitingEntry{}, fmt.Errorf("%w: %s", models.ErrEntryNotFound, entryID)
	}
	ctx, span := telemetry.StartCommandSpan(ctx, "withdraw_entry", entry.ResourceID)
	defer span.End()

	var out models.WaitingEntry
	err := e.with(entry.ResourceID, func(st *resourceState) error {
		entry, _ = e.queue.Get(entryID)
		if !models.CanTransition(entry.Status, models.WaitingStatusCancelled) {
			return e.invalidTransition(entry, "withdraw")
		}

		wasOffered := entry.Status == models.WaitingStatusNotified
		e.timers.Cancel(entry.ID)

		now := e.clock.Now()
		entry.Status = models.WaitingStatusCancelled
		entry.CancelledAt = &now
		entry.UpdatedAt = now
		if err := e.queue.Update(entry); err != nil {
			return err
		}
		e.journal.SaveEntry(entry)
		e.emit(ctx, events.NewWaitingTransition(events.EventWaitingCancelled, entry, "withdrawn", now))

		if wasOffered {
			telemetry.OffersTotal.WithLabelValues("withdrawn").Inc()
			e.settleOffer(ctx, st, entry.ID)
		}
		out = entry
		return nil
	})
	telemetry.RecordError(span, err)
	return out, err
}

func (e *Engine) invalidTransition(entry models.WaitingEntry, action string) error {
	e.logger.Warn().
		Str("entry_id", entry.ID).
		Str("resource_id", entry.ResourceID).
		Str("status", string(entry.Status)).
		Str("action", action).
		Msg("invalid state transition")
	return &models.TransitionError{EntryID: entry.ID, From: entry.Status, Action: action}
}

// emit publishes a fact whose state change is already committed. Failures
// are logged; callers that must compensate use publish instead.
func (e *Engine) emit(ctx context.Context, ev events.Event) {
	if err := e.publish(ctx, ev); err != nil {
		e.logger.Error().Err(err).Str("event_type", string(ev.Type)).Str("event_id", ev.ID).Msg("failed to enqueue event")
	}
}

func (e *Engine) publish(ctx context.Context, ev events.Event) error {
	if e.publisher == nil {
		return nil
	}
	return e.publisher.Publish(ctx, ev)
}
