package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/conflict"
	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/ledger"
	"github.com/friendsincode/grimnir_reserve/internal/models"
)

func TestTimerFailureRepromotes(t *testing.T) {
	timers := newStubTimers()
	h := newHarness(t, withTimers(timers))
	r := h.book("owner", at(10, 0), at(12, 0))
	first := h.join("u1", models.PriorityHigh, at(10, 0), at(12, 0))
	second := h.join("u2", models.PriorityLow, at(10, 0), at(12, 0))
	timers.failFor[first.ID] = true

	if _, err := h.engine.CancelReservation(context.Background(), r.ID, "owner", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	h.expectStatus(first.ID, models.WaitingStatusWaiting)
	h.expectStatus(second.ID, models.WaitingStatusNotified)
	if got, _ := h.queue.Get(first.ID); got.OfferDeadline != nil {
		t.Fatal("reverted entry must not keep offer fields")
	}
	for _, ev := range h.rec.got {
		if ev.Type == events.EventWaitingNotified && ev.Payload["waiting_list_id"] == first.ID {
			t.Fatal("no notified fact may be emitted for a reverted offer")
		}
	}
}

func TestNotifiedEnqueueFailureRepromotes(t *testing.T) {
	h := newHarness(t)
	r := h.book("owner", at(10, 0), at(12, 0))
	first := h.join("u1", models.PriorityHigh, at(10, 0), at(12, 0))
	second := h.join("u2", models.PriorityLow, at(10, 0), at(12, 0))

	failed := false
	h.rec.fail = func(ev events.Event) error {
		if ev.Type == events.EventWaitingNotified && !failed {
			failed = true
			return errors.New("dispatcher full")
		}
		return nil
	}

	_, _ = h.engine.CancelReservation(context.Background(), r.ID, "owner", "")
	h.expectStatus(first.ID, models.WaitingStatusWaiting)
	h.expectStatus(second.ID, models.WaitingStatusNotified)
	if h.wheel.Pending() != 1 {
		t.Fatalf("expected the failed offer's timer cancelled, %d pending", h.wheel.Pending())
	}
}

func TestAcceptLosesRaceToDirectBooking(t *testing.T) {
	h := newHarness(t)
	r := h.book("owner", at(10, 0), at(12, 0))
	e1 := h.join("u1", models.PriorityHigh, at(10, 0), at(11, 0))
	e2 := h.join("u2", models.PriorityLow, at(11, 0), at(12, 0))
	_, _ = h.engine.CancelReservation(context.Background(), r.ID, "owner", "")
	h.expectStatus(e1.ID, models.WaitingStatusNotified)

	h.book("walk-in", at(10, 0), at(11, 0))

	_, err := h.engine.AcceptOffer(context.Background(), e1.ID)
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	h.expectStatus(e1.ID, models.WaitingStatusWaiting)
	h.expectStatus(e2.ID, models.WaitingStatusNotified)
	if h.rec.count(events.EventReservationRejected) != 1 {
		t.Fatalf("expected rejected fact for lost race, got %v", h.rec.types())
	}
}

func TestFreedIntervalsQueueBehindOutstandingOffer(t *testing.T) {
	h := newHarness(t)
	morning := h.book("owner", at(10, 0), at(11, 0))
	afternoon := h.book("owner", at(14, 0), at(15, 0))
	e1 := h.join("u1", models.PriorityHigh, at(10, 0), at(11, 0))
	e2 := h.join("u2", models.PriorityLow, at(14, 0), at(15, 0))

	_, _ = h.engine.CancelReservation(context.Background(), morning.ID, "owner", "")
	_, _ = h.engine.CancelReservation(context.Background(), afternoon.ID, "owner", "")

	h.expectStatus(e1.ID, models.WaitingStatusNotified)
	h.expectStatus(e2.ID, models.WaitingStatusWaiting)
	if st := h.engine.Locks().Status("R1"); st.PendingVacancies != 1 || st.OfferedEntryID != e1.ID {
		t.Fatalf("unexpected resource status %+v", st)
	}

	if _, err := h.engine.AcceptOffer(context.Background(), e1.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	h.expectStatus(e2.ID, models.WaitingStatusNotified)
	if st := h.engine.Locks().Status("R1"); st.PendingVacancies != 0 || st.OfferedEntryID != e2.ID {
		t.Fatalf("unexpected resource status after accept %+v", st)
	}
}

func TestAlternativeSlotOffered(t *testing.T) {
	h := newHarness(t)
	r := h.book("owner", at(13, 0), at(15, 0))
	flexible := h.join("u1", models.PriorityMedium, at(12, 30), at(13, 30), func(req *JoinRequest) {
		req.AcceptAlternatives = true
	})
	rigid := h.join("u2", models.PriorityUrgent, at(12, 30), at(13, 30))

	_, _ = h.engine.CancelReservation(context.Background(), r.ID, "owner", "")
	h.expectStatus(rigid.ID, models.WaitingStatusWaiting)
	h.expectStatus(flexible.ID, models.WaitingStatusNotified)

	got, _ := h.queue.Get(flexible.ID)
	if !got.OfferStart.Equal(at(13, 0)) || !got.OfferEnd.Equal(at(14, 0)) {
		t.Fatalf("expected 13:00-14:00 offer, got %s-%s", got.OfferStart.Format("15:04"), got.OfferEnd.Format("15:04"))
	}

	res, err := h.engine.AcceptOffer(context.Background(), flexible.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !res.StartsAt.Equal(at(13, 0)) || !res.EndsAt.Equal(at(14, 0)) {
		t.Fatalf("reservation should cover the offered slot, got %+v", res)
	}
}

func TestBufferAppliesToPromotedSlots(t *testing.T) {
	h := newHarness(t, withRules("R1", conflict.Rules{Buffer: 15 * time.Minute}))
	h.book("neighbour", at(12, 0), at(13, 0))

	if _, err := h.engine.RequestReservation(context.Background(), "R1", "u9", at(11, 50), at(11, 55)); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected buffer conflict, got %v", err)
	}

	tight := h.join("u1", models.PriorityUrgent, at(11, 0), at(11, 55))
	fine := h.join("u2", models.PriorityLow, at(10, 0), at(11, 0))

	if err := h.engine.OnResourceFreed(context.Background(), "R1", at(10, 0), at(11, 55)); err != nil {
		t.Fatalf("freed: %v", err)
	}
	h.expectStatus(tight.ID, models.WaitingStatusWaiting)
	h.expectStatus(fine.ID, models.WaitingStatusNotified)
}

func TestPastPartOfFreedIntervalNotOffered(t *testing.T) {
	h := newHarness(t)
	r := h.book("owner", at(9, 0), at(12, 0))
	early := h.join("u1", models.PriorityUrgent, at(9, 0), at(10, 0))
	later := h.join("u2", models.PriorityLow, at(11, 0), at(12, 0))

	h.clock.Set(at(9, 30))
	_, _ = h.engine.CancelReservation(context.Background(), r.ID, "owner", "")
	h.expectStatus(early.ID, models.WaitingStatusWaiting)
	h.expectStatus(later.ID, models.WaitingStatusNotified)
}

func TestStaleEntriesExpireDuringPromotion(t *testing.T) {
	h := newHarness(t)
	r := h.book("owner", at(20, 0), at(21, 0))
	stale := h.join("u1", models.PriorityUrgent, at(20, 0), at(21, 0), func(req *JoinRequest) {
		hours := 1
		req.MaxWaitTimeHours = &hours
	})
	fresh := h.join("u2", models.PriorityLow, at(20, 0), at(21, 0))

	h.clock.Advance(2 * time.Hour)
	_, _ = h.engine.CancelReservation(context.Background(), r.ID, "owner", "")
	h.expectStatus(stale.ID, models.WaitingStatusExpired)
	h.expectStatus(fresh.ID, models.WaitingStatusNotified)
}

func TestSweep(t *testing.T) {
	h := newHarness(t)
	hours := 1
	bounded := h.join("u1", models.PriorityMedium, at(20, 0), at(21, 0), func(req *JoinRequest) {
		req.MaxWaitTimeHours = &hours
	})
	passed := h.join("u2", models.PriorityMedium, at(9, 0), at(10, 0))
	flexible := h.join("u3", models.PriorityMedium, at(9, 0), at(10, 0), func(req *JoinRequest) {
		req.AcceptAlternatives = true
	})
	open := h.join("u4", models.PriorityMedium, at(20, 0), at(21, 0))

	h.clock.Set(at(9, 30))
	if n := h.engine.Sweep(context.Background()); n != 2 {
		t.Fatalf("expected 2 expired entries, got %d", n)
	}
	h.expectStatus(bounded.ID, models.WaitingStatusExpired)
	h.expectStatus(passed.ID, models.WaitingStatusExpired)
	h.expectStatus(flexible.ID, models.WaitingStatusWaiting)
	h.expectStatus(open.ID, models.WaitingStatusWaiting)

	if n := h.engine.Sweep(context.Background()); n != 0 {
		t.Fatalf("second sweep should expire nothing, got %d", n)
	}
}

func TestJoinValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		req  JoinRequest
	}{
		{"missing user", JoinRequest{ResourceID: "R1", DesiredStart: at(10, 0), DesiredEnd: at(11, 0)}},
		{"empty interval", JoinRequest{ResourceID: "R1", UserID: "u", DesiredStart: at(10, 0), DesiredEnd: at(10, 0)}},
		{"bad priority", JoinRequest{ResourceID: "R1", UserID: "u", DesiredStart: at(10, 0), DesiredEnd: at(11, 0), Priority: "vip"}},
		{"bad method", JoinRequest{ResourceID: "R1", UserID: "u", DesiredStart: at(10, 0), DesiredEnd: at(11, 0),
			NotificationMethods: []models.NotificationMethod{"pigeon"}}},
		{"negative limit", JoinRequest{ResourceID: "R1", UserID: "u", DesiredStart: at(10, 0), DesiredEnd: at(11, 0), ConfirmationTimeLimit: -5}},
		{"in the past", JoinRequest{ResourceID: "R1", UserID: "u", DesiredStart: at(7, 0), DesiredEnd: at(7, 30)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.engine.JoinWaitingList(context.Background(), tt.req); !errors.Is(err, models.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	e := h.join("u1", "", at(10, 0), at(11, 0), func(req *JoinRequest) {
		req.ConfirmationTimeLimit = 0
		req.NotificationMethods = nil
	})
	if e.Priority != models.PriorityMedium || e.ConfirmationTimeLimit != 30 || len(e.NotificationMethods) != 1 {
		t.Fatalf("expected defaults applied, got %+v", e)
	}
}

func TestAvailabilityAndReads(t *testing.T) {
	h := newHarness(t)
	r := h.book("owner", at(10, 0), at(12, 0))

	busy, err := h.engine.Availability("R1", at(11, 0), at(13, 0))
	if err != nil || busy.Free || len(busy.Conflicts) != 1 {
		t.Fatalf("expected busy slot, got %+v (%v)", busy, err)
	}
	free, _ := h.engine.Availability("R1", at(12, 0), at(13, 0))
	if !free.Free {
		t.Fatal("adjacent half-open slot should be free")
	}
	if _, err := h.engine.Availability("R1", at(13, 0), at(12, 0)); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}

	if got := h.engine.Reservations("R1"); len(got) != 1 || got[0].ID != r.ID {
		t.Fatalf("unexpected reservations %v", got)
	}

	a := h.join("u1", models.PriorityLow, at(10, 0), at(12, 0))
	b := h.join("u2", models.PriorityUrgent, at(10, 0), at(12, 0))
	entry, err := h.engine.GetEntry(a.ID)
	if err != nil || entry.Position != 2 {
		t.Fatalf("expected low entry at position 2, got %d (%v)", entry.Position, err)
	}
	if rank := h.engine.Rank("R1"); len(rank) != 2 || rank[0].ID != b.ID {
		t.Fatalf("unexpected rank %v", rank)
	}
	if _, err := h.engine.GetEntry("missing"); !errors.Is(err, models.ErrEntryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExternalFreedInterval(t *testing.T) {
	h := newHarness(t)
	e := h.join("u1", models.PriorityMedium, at(10, 0), at(11, 0))
	if err := h.engine.OnResourceFreed(context.Background(), "R1", at(10, 0), at(12, 0)); err != nil {
		t.Fatalf("freed: %v", err)
	}
	h.expectStatus(e.ID, models.WaitingStatusNotified)
	if err := h.engine.OnResourceFreed(context.Background(), "R1", at(12, 0), at(12, 0)); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

type failingCommits struct {
	*ledger.Memory
	err error
}

func (f failingCommits) Commit(string, models.Reservation, time.Duration) error {
	return f.err
}

func TestAcceptCommitFailureRepromotes(t *testing.T) {
	h := newHarness(t)
	r := h.book("owner", at(10, 0), at(12, 0))
	first := h.join("u1", models.PriorityHigh, at(10, 0), at(12, 0))
	second := h.join("u2", models.PriorityLow, at(10, 0), at(12, 0))

	if _, err := h.engine.CancelReservation(context.Background(), r.ID, "owner", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	h.expectStatus(first.ID, models.WaitingStatusNotified)

	storeDown := errors.New("ledger unavailable")
	h.engine.detector = conflict.NewDetector(failingCommits{Memory: h.ledger, err: storeDown},
		conflict.NewRuleBook(conflict.Rules{}), h.clock, h.rec, zerolog.Nop())

	if _, err := h.engine.AcceptOffer(context.Background(), first.ID); !errors.Is(err, storeDown) {
		t.Fatalf("expected commit error, got %v", err)
	}

	h.expectStatus(first.ID, models.WaitingStatusWaiting)
	h.expectStatus(second.ID, models.WaitingStatusNotified)
	h.assertSingleOffer()
	if got, _ := h.queue.Get(first.ID); got.OfferDeadline != nil {
		t.Fatal("reverted entry must not keep offer fields")
	}
	if h.wheel.Pending() != 1 {
		t.Fatalf("expected one armed deadline, got %d", h.wheel.Pending())
	}
	if saved := h.journal.entries[first.ID]; saved.Status != models.WaitingStatusWaiting {
		t.Fatalf("journal holds %s for reverted entry", saved.Status)
	}
}
