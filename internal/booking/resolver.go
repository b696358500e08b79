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

	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
)

// AcceptOffer turns an outstanding offer into a confirmed reservation. An
// offer answered after its deadline expires and yields ErrOfferExpired. If a
// direct booking took the slot first, the entry goes back to WAITING, the
// vacancy moves on, and the conflict is returned. Any other commit failure
// reverts the entry to WAITING and the vacancy moves on the same way.
func (e *Engine) AcceptOffer(ctx context.Context, entryID string) (models.Reservation, error) {
	entry, ok := e.queue.Get(entryID)
	if !ok {
		return models.Reservation{}, fmt.Errorf("%w: %s", models.ErrEntryNotFound, entryID)
	}
	ctx, span := telemetry.StartCommandSpan(ctx, "accept_offer", entry.ResourceID)
	defer span.End()

	var out models.Reservation
	err := e.with(entry.ResourceID, func(st *resourceState) error {
		entry, _ = e.queue.Get(entryID)
		if entry.Status != models.WaitingStatusNotified || entry.OfferDeadline == nil {
			return e.invalidTransition(entry, "accept")
		}

		now := e.clock.Now()
		if now.After(*entry.OfferDeadline) {
			e.expireOffer(ctx, st, entry, "deadline_passed")
			return fmt.Errorf("%w: entry %s deadline was %s", models.ErrOfferExpired, entryID, entry.OfferDeadline.Format(time.RFC3339))
		}
		e.timers.Cancel(entryID)

		slot := models.Interval{Start: *entry.OfferStart, End: *entry.OfferEnd}
		r, err := e.detector.CommitPromoted(ctx, entry, slot)
		if err != nil {
			if !errors.Is(err, models.ErrConflict) {
				e.logger.Error().Err(err).Str("entry_id", entryID).Str("resource_id", entry.ResourceID).Msg("commit of accepted offer failed, re-promoting")
				e.revertOffer(entry, st.current)
				if reverted, ok := e.queue.Get(entryID); ok {
					e.journal.SaveEntry(reverted)
				}
				e.settleOffer(ctx, st, entryID)
				return err
			}
			// The slot was booked directly while the offer was out.
			clearOffer(&entry)
			entry.Status = models.WaitingStatusWaiting
			entry.UpdatedAt = now
			if uerr := e.queue.Update(entry); uerr != nil {
				return uerr
			}
			e.journal.SaveEntry(entry)
			e.emit(ctx, events.NewReservationRejected(entry.ResourceID, entry.UserID, "", entry.ID, "slot_taken", slot, now))
			telemetry.OffersTotal.WithLabelValues("lost_race").Inc()
			e.logger.Warn().Str("entry_id", entryID).Str("resource_id", entry.ResourceID).Msg("accepted offer lost to a concurrent booking")
			e.settleOffer(ctx, st, entryID)
			return err
		}

		reservationID := r.ID
		entry.Status = models.WaitingStatusConfirmed
		entry.ConfirmedAt = &now
		entry.ReservationID = &reservationID
		entry.UpdatedAt = now
		if err := e.queue.Update(entry); err != nil {
			return err
		}

		e.journal.SaveReservation(r)
		e.journal.SaveEntry(entry)
		e.emit(ctx, events.NewReservationConfirmed(r, entry, now))
		e.emit(ctx, events.NewWaitingTransition(events.EventWaitingConfirmed, entry, "", now))
		telemetry.OffersTotal.WithLabelValues("accepted").Inc()
		e.logger.Info().
			Str("entry_id", entryID).
			Str("reservation_id", r.ID).
			Str("resource_id", r.ResourceID).
			Msg("offer accepted")

		if st.offered == entryID {
			e.advance(st)
			e.promote(ctx, st)
		}
		out = r
		return nil
	})
	telemetry.RecordError(span, err)
	return out, err
}

// DeclineOffer turns down an outstanding offer. The entry keeps its place
// (original requestedAt) when it accepts alternatives and its max wait has not
// elapsed; otherwise it is cancelled. Only entries that accept alternatives
// may decline any number of times. The vacancy is offered to the next entry.
func (e *Engine) DeclineOffer(ctx context.Context, entryID, reason string) (models.WaitingEntry, error) {
	entry, ok := e.queue.Get(entryID)
	if !ok {
		return models.WaitingEntry{}, fmt.Errorf("%w: %s", models.ErrEntryNotFound, entryID)
	}
	ctx, span := telemetry.StartCommandSpan(ctx, "decline_offer", entry.ResourceID)
	defer span.End()

	var out models.WaitingEntry
	err := e.with(entry.ResourceID, func(st *resourceState) error {
		entry, _ = e.queue.Get(entryID)
		if entry.Status != models.WaitingStatusNotified {
			return e.invalidTransition(entry, "decline")
		}
		e.timers.Cancel(entryID)

		now := e.clock.Now()
		clearOffer(&entry)
		entry.DeclineCount++
		entry.LastDeclineReason = reason
		entry.UpdatedAt = now
		if entry.AcceptAlternatives && !entry.WaitExceeded(now) {
			entry.Status = models.WaitingStatusWaiting
		} else {
			entry.Status = models.WaitingStatusCancelled
			entry.CancelledAt = &now
		}
		if err := e.queue.Update(entry); err != nil {
			return err
		}

		e.journal.SaveEntry(entry)
		e.emit(ctx, events.NewWaitingTransition(events.EventWaitingDeclined, entry, reason, now))
		if entry.Status == models.WaitingStatusCancelled {
			e.emit(ctx, events.NewWaitingTransition(events.EventWaitingCancelled, entry, "declined", now))
		}
		telemetry.OffersTotal.WithLabelValues("declined").Inc()
		e.logger.Info().
			Str("entry_id", entryID).
			Str("resource_id", entry.ResourceID).
			Str("status", string(entry.Status)).
			Msg("offer declined")

		e.settleOffer(ctx, st, entryID)
		out = entry
		return nil
	})
	telemetry.RecordError(span, err)
	return out, err
}

// HandleExpiry expires an unanswered offer and re-offers its vacancy. It is
// a no-op for entries no longer NOTIFIED, so repeated calls are harmless.
func (e *Engine) HandleExpiry(ctx context.Context, entryID string) error {
	entry, ok := e.queue.Get(entryID)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrEntryNotFound, entryID)
	}
	ctx, span := telemetry.StartCommandSpan(ctx, "handle_expiry", entry.ResourceID)
	defer span.End()

	return e.with(entry.ResourceID, func(st *resourceState) error {
		entry, _ = e.queue.Get(entryID)
		if entry.Status != models.WaitingStatusNotified {
			e.logger.Debug().Str("entry_id", entryID).Str("status", string(entry.Status)).Msg("expiry ignored")
			return nil
		}
		e.expireOffer(ctx, st, entry, "confirmation_timeout")
		return nil
	})
}

// onDeadline is the timer callback. The deadline must still match the
// entry's offer; anything else is a stale fire.
func (e *Engine) onDeadline(resourceID, entryID string, deadline time.Time) {
	ctx, span := telemetry.StartCommandSpan(context.Background(), "offer_deadline", resourceID)
	defer span.End()

	_ = e.with(resourceID, func(st *resourceState) error {
		entry, ok := e.queue.Get(entryID)
		if !ok || entry.Status != models.WaitingStatusNotified || entry.OfferDeadline == nil || !entry.OfferDeadline.Equal(deadline) {
			return nil
		}
		e.expireOffer(ctx, st, entry, "confirmation_timeout")
		return nil
	})
}

// expireOffer moves a NOTIFIED entry to EXPIRED and retries its vacancy.
// Callers hold st.mu.
func (e *Engine) expireOffer(ctx context.Context, st *resourceState, entry models.WaitingEntry, reason string) {
	e.timers.Cancel(entry.ID)

	now := e.clock.Now()
	entry.Status = models.WaitingStatusExpired
	entry.ExpiredAt = &now
	entry.UpdatedAt = now
	if err := e.queue.Update(entry); err != nil {
		e.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to expire offer")
		return
	}

	e.journal.SaveEntry(entry)
	e.emit(ctx, events.NewWaitingTransition(events.EventWaitingExpired, entry, reason, now))
	telemetry.OffersTotal.WithLabelValues("expired").Inc()
	e.logger.Info().
		Str("entry_id", entry.ID).
		Str("resource_id", entry.ResourceID).
		Str("reason", reason).
		Msg("offer expired")

	e.settleOffer(ctx, st, entry.ID)
}
