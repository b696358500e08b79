/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package waitlist

import (
	"github.com/friendsincode/grimnir_reserve/internal/models"
)

// OfferSlot decides whether entry e can be offered part of freed and which slot.
// An entry whose desired interval fits inside freed is offered exactly that.
// A time-flexible entry is offered min(requested, freed) duration starting as
// close to its desired start as freed allows, provided the freed duration is
// at least minOverlap times the requested duration.
func OfferSlot(e models.WaitingEntry, freed models.Interval, minOverlap float64) (models.Interval, bool) {
	desired := e.Desired()
	if !desired.Valid() || !freed.Valid() {
		return models.Interval{}, false
	}
	if freed.Contains(desired) {
		return desired, true
	}
	if !e.AcceptAlternatives {
		return models.Interval{}, false
	}

	if minOverlap <= 0 {
		minOverlap = 1.0
	}
	requested := desired.Duration()
	if float64(freed.Duration()) < minOverlap*float64(requested) {
		return models.Interval{}, false
	}

	length := requested
	if freed.Duration() < length {
		length = freed.Duration()
	}
	start := desired.Start
	if start.Before(freed.Start) {
		start = freed.Start
	}
	if start.Add(length).After(freed.End) {
		start = freed.End.Add(-length)
	}
	return models.Interval{Start: start, End: start.Add(length)}, true
}
