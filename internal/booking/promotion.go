/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package booking

import (
	"context"
	"time"

	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/ledger"
	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
	"github.com/friendsincode/grimnir_reserve/internal/waitlist"
)

// OnResourceFreed offers [start,end) on a resource to its waiting list. It is
// the entry point for intervals freed outside the engine's own commands.
func (e *Engine) OnResourceFreed(ctx context.Context, resourceID string, start, end time.Time) error {
	if resourceID == "" || !end.After(start) {
		return models.Invalid("freed interval must be non-empty")
	}
	ctx, span := telemetry.StartCommandSpan(ctx, "resource_freed", resourceID)
	defer span.End()
	return e.with(resourceID, func(st *resourceState) error {
		e.vacate(ctx, st, models.Interval{Start: start, End: end}, "")
		return nil
	})
}

func (e *Engine) onResourceFreed(ctx context.Context, st *resourceState, freed ledger.FreedInterval) {
	e.vacate(ctx, st, freed.Interval, freed.ReservationID)
}

// vacate queues a freed interval behind any vacancy still on offer. Callers hold st.mu.
func (e *Engine) vacate(ctx context.Context, st *resourceState, freed models.Interval, reservationID string) {
	v := &vacancy{
		freed:         freed,
		reservationID: reservationID,
		queuedAt:      e.clock.Now(),
		tried:         make(map[string]struct{}),
	}
	if st.current != nil {
		st.pending = append(st.pending, v)
		telemetry.PendingVacancies.WithLabelValues(st.id).Set(float64(len(st.pending)))
		e.logger.Debug().
			Str("resource_id", st.id).
			Time("start", freed.Start).
			Time("end", freed.End).
			Int("pending", len(st.pending)).
			Msg("vacancy queued behind outstanding offer")
		return
	}
	st.current = v
	e.promote(ctx, st)
}

// promote offers the current vacancy to the best eligible entry. A vacancy
// nobody can take is dropped, leaving it free for direct booking, and the
// next pending vacancy is tried. Callers hold st.mu.
func (e *Engine) promote(ctx context.Context, st *resourceState) {
	for st.current != nil && st.offered == "" {
		started := time.Now()
		offered := e.offerNext(ctx, st, st.current)
		telemetry.PromotionDuration.Observe(time.Since(started).Seconds())
		if offered {
			return
		}

		e.logger.Debug().
			Str("resource_id", st.id).
			Time("start", st.current.freed.Start).
			Time("end", st.current.freed.End).
			Msg("no eligible waiting entry for vacancy")
		e.advance(st)
	}
}

// advance retires the current vacancy and moves to the next pending one.
func (e *Engine) advance(st *resourceState) {
	st.current = nil
	st.offered = ""
	if len(st.pending) > 0 {
		st.current = st.pending[0]
		st.pending = st.pending[1:]
	}
	telemetry.PendingVacancies.WithLabelValues(st.id).Set(float64(len(st.pending)))
}

// settleOffer clears an offer that ended without a booking and retries the
// same vacancy with the remaining entries.
func (e *Engine) settleOffer(ctx context.Context, st *resourceState, entryID string) {
	if st.offered != entryID {
		return
	}
	st.offered = ""
	if st.current != nil {
		st.current.markTried(entryID)
	}
	e.promote(ctx, st)
}

// offerNext issues at most one offer for v. Infrastructure faults while
// issuing revert the entry and move on to the next candidate.
func (e *Engine) offerNext(ctx context.Context, st *resourceState, v *vacancy) bool {
	now := e.clock.Now()
	window := v.freed
	if window.Start.Before(now) {
		window.Start = now
	}
	if !window.Valid() {
		return false
	}

	buffer := e.detector.Rules(st.id).Buffer
	opts := waitlist.Eligibility{
		MinOverlap: e.cfg.AlternativeMinOverlap,
		Skip:       v.skip,
		Fits: func(slot models.Interval) bool {
			return e.ledger.IsFree(st.id, slot.Start, slot.End, buffer)
		},
	}

	for {
		candidate, stale, ok := e.queue.PeekEligible(st.id, window, now, opts)
		for _, s := range stale {
			e.expireWaiting(ctx, s, "max_wait_exceeded")
		}
		if !ok {
			return false
		}

		entry := candidate.Entry
		current, found := e.queue.Get(entry.ID)
		if !found || current.Status != models.WaitingStatusWaiting {
			v.markTried(entry.ID)
			continue
		}

		deadline := now.Add(entry.ConfirmationWindow())
		offerStart, offerEnd := candidate.Slot.Start, candidate.Slot.End
		entry.Status = models.WaitingStatusNotified
		entry.NotifiedAt = &now
		entry.OfferStart = &offerStart
		entry.OfferEnd = &offerEnd
		entry.OfferDeadline = &deadline
		entry.UpdatedAt = now
		if err := e.queue.Update(entry); err != nil {
			e.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to mark entry notified")
			v.markTried(entry.ID)
			continue
		}

		resourceID, entryID := entry.ResourceID, entry.ID
		if err := e.timers.Schedule(entryID, deadline, func() { e.onDeadline(resourceID, entryID, deadline) }); err != nil {
			e.logger.Error().Err(err).Str("entry_id", entryID).Msg("timer scheduling failed, re-promoting")
			e.revertOffer(entry, v)
			continue
		}

		offer := models.Offer{
			EntryID:    entryID,
			ResourceID: resourceID,
			UserID:     entry.UserID,
			Freed:      v.freed,
			Slot:       candidate.Slot,
			OfferedAt:  now,
			Deadline:   deadline,
		}
		if err := e.publish(ctx, events.NewWaitingNotified(entry, offer, now)); err != nil {
			e.logger.Error().Err(err).Str("entry_id", entryID).Msg("notified event not enqueued, re-promoting")
			e.timers.Cancel(entryID)
			e.revertOffer(entry, v)
			continue
		}

		st.offered = entryID
		e.journal.SaveEntry(entry)
		telemetry.OffersTotal.WithLabelValues("issued").Inc()
		e.logger.Info().
			Str("entry_id", entryID).
			Str("resource_id", resourceID).
			Str("user_id", entry.UserID).
			Time("slot_start", offerStart).
			Time("slot_end", offerEnd).
			Time("deadline", deadline).
			Msg("offer issued")
		return true
	}
}

// revertOffer puts an entry whose offer could not be armed or committed back into WAITING.
func (e *Engine) revertOffer(entry models.WaitingEntry, v *vacancy) {
	clearOffer(&entry)
	entry.Status = models.WaitingStatusWaiting
	entry.UpdatedAt = e.clock.Now()
	if err := e.queue.Update(entry); err != nil {
		e.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to revert offer")
	}
	if v != nil {
		v.markTried(entry.ID)
	}
	telemetry.OffersTotal.WithLabelValues("reverted").Inc()
}

// expireWaiting moves a WAITING entry that can no longer be served to EXPIRED.
func (e *Engine) expireWaiting(ctx context.Context, entry models.WaitingEntry, reason string) {
	if entry.Status != models.WaitingStatusWaiting {
		return
	}
	now := e.clock.Now()
	entry.Status = models.WaitingStatusExpired
	entry.ExpiredAt = &now
	entry.UpdatedAt = now
	if err := e.queue.Update(entry); err != nil {
		e.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to expire entry")
		return
	}
	e.journal.SaveEntry(entry)
	e.emit(ctx, events.NewWaitingTransition(events.EventWaitingExpired, entry, reason, now))
	e.logger.Info().
		Str("entry_id", entry.ID).
		Str("resource_id", entry.ResourceID).
		Str("reason", reason).
		Msg("waiting entry expired")
}

func clearOffer(entry *models.WaitingEntry) {
	entry.OfferStart = nil
	entry.OfferEnd = nil
	entry.OfferDeadline = nil
}
