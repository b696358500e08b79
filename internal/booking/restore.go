/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package booking

import (
	"context"
	"fmt"

	"github.com/friendsincode/grimnir_reserve/internal/models"
)

// Snapshot is persisted state loaded at startup.
type Snapshot struct {
	Reservations []models.Reservation
	Entries      []models.WaitingEntry
}

// RestoreStats summarizes a restore.
type RestoreStats struct {
	Reservations int
	Entries      int
	Offers       int
	Expired      int
	Skipped      int
}

// Restore rebuilds the ledger and queues from a snapshot. Outstanding offers
// get their timers re-armed; offers whose deadline passed while the process was
// down expire immediately and their vacancy is re-offered. Restore must run
// before the engine serves commands.
func (e *Engine) Restore(ctx context.Context, snap Snapshot) (RestoreStats, error) {
	var stats RestoreStats

	for _, r := range snap.Reservations {
		if r.Status != models.ReservationConfirmed {
			e.ledger.Archive(r)
			continue
		}
		buffer := e.detector.Rules(r.ResourceID).Buffer
		if err := e.ledger.Commit(r.ResourceID, r, buffer); err != nil {
			e.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("skipping reservation on restore")
			stats.Skipped++
			continue
		}
		stats.Reservations++
	}

	var offered []models.WaitingEntry
	for _, entry := range snap.Entries {
		if !entry.Status.Active() {
			continue
		}
		queued := entry
		queued.Status = models.WaitingStatusWaiting
		if err := e.queue.Enqueue(queued); err != nil {
			e.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("skipping waiting entry on restore")
			stats.Skipped++
			continue
		}
		stats.Entries++
		if entry.Status == models.WaitingStatusNotified {
			offered = append(offered, entry)
		}
	}

	for _, entry := range offered {
		entry := entry
		err := e.with(entry.ResourceID, func(st *resourceState) error {
			return e.restoreOffer(ctx, st, entry, &stats)
		})
		if err != nil {
			return stats, fmt.Errorf("restore offer %s: %w", entry.ID, err)
		}
	}

	e.logger.Info().
		Int("reservations", stats.Reservations).
		Int("entries", stats.Entries).
		Int("offers", stats.Offers).
		Int("expired", stats.Expired).
		Int("skipped", stats.Skipped).
		Msg("engine state restored")
	return stats, nil
}

func (e *Engine) restoreOffer(ctx context.Context, st *resourceState, entry models.WaitingEntry, stats *RestoreStats) error {
	if current, ok := e.queue.Get(entry.ID); !ok || current.Status != models.WaitingStatusWaiting {
		// Already re-offered by an earlier expiry in this restore.
		return nil
	}
	if entry.OfferStart == nil || entry.OfferEnd == nil || entry.OfferDeadline == nil || st.offered != "" {
		// Malformed or a second offer on the resource: back to the queue.
		clearOffer(&entry)
		entry.Status = models.WaitingStatusWaiting
		if err := e.queue.Update(entry); err != nil {
			return err
		}
		e.journal.SaveEntry(entry)
		return nil
	}

	if err := e.queue.Update(entry); err != nil {
		return err
	}
	st.current = &vacancy{
		freed:    models.Interval{Start: *entry.OfferStart, End: *entry.OfferEnd},
		queuedAt: e.clock.Now(),
		tried:    make(map[string]struct{}),
	}
	st.offered = entry.ID

	deadline := *entry.OfferDeadline
	if !e.clock.Now().Before(deadline) {
		e.expireOffer(ctx, st, entry, "deadline_passed")
		stats.Expired++
		return nil
	}

	resourceID, entryID := entry.ResourceID, entry.ID
	if err := e.timers.Schedule(entryID, deadline, func() { e.onDeadline(resourceID, entryID, deadline) }); err != nil {
		e.logger.Error().Err(err).Str("entry_id", entryID).Msg("timer scheduling failed on restore, re-promoting")
		st.offered = ""
		e.revertOffer(entry, st.current)
		e.promote(ctx, st)
		return nil
	}
	stats.Offers++
	return nil
}
