/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package booking

import (
	"context"

	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
)

// Sweep expires waiting entries that can no longer be served: their max wait
// elapsed, or their desired start passed and they do not accept alternatives.
// Offers past their deadline are expired too, in case a timer was lost.
// It returns the number of entries expired.
func (e *Engine) Sweep(ctx context.Context) int {
	ctx, span := telemetry.StartCommandSpan(ctx, "sweep", "*")
	defer span.End()

	expired := 0
	for _, resourceID := range e.queue.Resources() {
		_ = e.with(resourceID, func(st *resourceState) error {
			now := e.clock.Now()
			for _, queued := range e.queue.Active(resourceID) {
				// Re-read: an expiry earlier in this pass may have promoted it.
				entry, ok := e.queue.Get(queued.ID)
				if !ok {
					continue
				}
				switch {
				case entry.Status == models.WaitingStatusNotified:
					if entry.OfferDeadline != nil && now.After(*entry.OfferDeadline) {
						e.expireOffer(ctx, st, entry, "confirmation_timeout")
						expired++
					}
				case entry.WaitExceeded(now):
					e.expireWaiting(ctx, entry, "max_wait_exceeded")
					expired++
				case !entry.AcceptAlternatives && entry.DesiredStart.Before(now):
					e.expireWaiting(ctx, entry, "desired_time_passed")
					expired++
				}
			}
			return nil
		})
	}

	if expired > 0 {
		telemetry.SweepExpiredTotal.Add(float64(expired))
		e.logger.Info().Int("expired", expired).Msg("waiting list sweep complete")
	}
	return expired
}
