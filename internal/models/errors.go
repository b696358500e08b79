/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConflict indicates the requested interval overlaps a confirmed reservation.
	ErrConflict = errors.New("reservation conflict")

	// ErrCapacityExceeded is reserved for multi-unit resources.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrDuplicateEntry indicates the user already waits for the same slot.
	ErrDuplicateEntry = errors.New("duplicate waiting entry")

	// ErrEntryNotFound indicates the waiting entry does not exist.
	ErrEntryNotFound = errors.New("waiting entry not found")

	// ErrReservationNotFound indicates the reservation does not exist.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInvalidStateTransition indicates the action does not fit the current status.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrOfferExpired indicates an acceptance arrived after the offer deadline.
	ErrOfferExpired = errors.New("offer expired")

	// ErrTimerScheduling indicates the confirmation timer could not be armed.
	ErrTimerScheduling = errors.New("timer scheduling failure")

	// ErrInvalidRequest indicates the command failed validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// ConflictError carries the reservations that block a requested interval.
type ConflictError struct {
	ResourceID string
	Start      time.Time
	End        time.Time
	Conflicts  []Reservation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource %s: %s-%s overlaps %d reservation(s)",
		e.ResourceID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), len(e.Conflicts))
}

// Is makes errors.Is(err, ErrConflict) succeed.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransitionError describes a rejected waiting entry action.
type TransitionError struct {
	EntryID string
	From    WaitingStatus
	Action  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s waiting entry %s in status %s", e.Action, e.EntryID, e.From)
}

// Is makes errors.Is(err, ErrInvalidStateTransition) succeed.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// Invalid wraps ErrInvalidRequest with a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
