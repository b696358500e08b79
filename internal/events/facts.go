/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_reserve/internal/models"
)

func newEvent(t EventType, resourceID string, at time.Time, payload Payload) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		ResourceID: resourceID,
		OccurredAt: at,
		Payload:    payload,
	}
}

func slot(i models.Interval) map[string]any {
	return map[string]any{"start": i.Start, "end": i.End}
}

// NewReservationCreated builds reservation.created.
func NewReservationCreated(r models.Reservation, at time.Time) Event {
	return newEvent(EventReservationCreated, r.ResourceID, at, Payload{
		"reservation_id": r.ID,
		"resource_id":    r.ResourceID,
		"user_id":        r.UserID,
		"start":          r.StartsAt,
		"end":            r.EndsAt,
		"source":         string(r.Source),
	})
}

// NewReservationCancelled builds reservation.cancelled.
func NewReservationCancelled(r models.Reservation, at time.Time) Event {
	return newEvent(EventReservationCancelled, r.ResourceID, at, Payload{
		"reservation_id": r.ID,
		"resource_id":    r.ResourceID,
		"user_id":        r.UserID,
		"reason":         r.CancelReason,
		"cancelled_by":   r.CancelledBy,
	})
}

// NewReservationConfirmed builds reservation.confirmed for an accepted offer.
func NewReservationConfirmed(r models.Reservation, entry models.WaitingEntry, at time.Time) Event {
	return newEvent(EventReservationConfirmed, r.ResourceID, at, Payload{
		"reservation_id":  r.ID,
		"resource_id":     r.ResourceID,
		"user_id":         r.UserID,
		"waiting_list_id": entry.ID,
		"start":           r.StartsAt,
		"end":             r.EndsAt,
	})
}

// NewReservationRejected builds reservation.rejected. reservationID is empty when
// a promoted offer lost its commit race and no reservation was created.
func NewReservationRejected(resourceID, userID, reservationID, entryID, reason string, interval models.Interval, at time.Time) Event {
	payload := Payload{
		"resource_id": resourceID,
		"user_id":     userID,
		"reason":      reason,
		"start":       interval.Start,
		"end":         interval.End,
	}
	if reservationID != "" {
		payload["reservation_id"] = reservationID
	}
	if entryID != "" {
		payload["waiting_list_id"] = entryID
	}
	return newEvent(EventReservationRejected, resourceID, at, payload)
}

// NewWaitingAdded builds waiting_list.added.
func NewWaitingAdded(e models.WaitingEntry, at time.Time) Event {
	return newEvent(EventWaitingAdded, e.ResourceID, at, Payload{
		"waiting_list_id": e.ID,
		"resource_id":     e.ResourceID,
		"user_id":         e.UserID,
		"requested_start": e.DesiredStart,
		"requested_end":   e.DesiredEnd,
		"priority":        string(e.Priority),
	})
}

// NewWaitingNotified builds waiting_list.notified, carrying what the notifier needs.
func NewWaitingNotified(e models.WaitingEntry, offer models.Offer, at time.Time) Event {
	methods := make([]string, 0, len(e.NotificationMethods))
	for _, m := range e.NotificationMethods {
		methods = append(methods, string(m))
	}
	return newEvent(EventWaitingNotified, e.ResourceID, at, Payload{
		"waiting_list_id":      e.ID,
		"resource_id":          e.ResourceID,
		"user_id":              e.UserID,
		"available_slot":       slot(offer.Slot),
		"notified_at":          offer.OfferedAt,
		"deadline":             offer.Deadline,
		"notification_methods": methods,
	})
}

// NewWaitingTransition builds the confirmed, declined, expired and cancelled facts.
func NewWaitingTransition(t EventType, e models.WaitingEntry, reason string, at time.Time) Event {
	payload := Payload{
		"waiting_list_id": e.ID,
		"resource_id":     e.ResourceID,
		"user_id":         e.UserID,
		"status":          string(e.Status),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if e.ReservationID != nil {
		payload["reservation_id"] = *e.ReservationID
	}
	methods := make([]string, 0, len(e.NotificationMethods))
	for _, m := range e.NotificationMethods {
		methods = append(methods, string(m))
	}
	payload["notification_methods"] = methods
	return newEvent(t, e.ResourceID, at, payload)
}

// NewConflictDetected builds schedule.conflict_detected.
func NewConflictDetected(err *models.ConflictError, at time.Time) Event {
	ids := make([]string, 0, len(err.Conflicts))
	for _, r := range err.Conflicts {
		ids = append(ids, r.ID)
	}
	return newEvent(EventConflictDetected, err.ResourceID, at, Payload{
		"resource_id":              err.ResourceID,
		"conflicting_reservations": ids,
		"time_slot":                slot(models.Interval{Start: err.Start, End: err.End}),
	})
}
