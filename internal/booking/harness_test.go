package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/clock"
	"github.com/friendsincode/grimnir_reserve/internal/conflict"
	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/ledger"
	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/friendsincode/grimnir_reserve/internal/timer"
	"github.com/friendsincode/grimnir_reserve/internal/waitlist"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

type recorder struct {
	mu   sync.Mutex
	got  []events.Event
	fail func(events.Event) error
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(ev); err != nil {
			return err
		}
	}
	r.got = append(r.got, ev)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.got))
	for i, ev := range r.got {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) count(t events.EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

type memJournal struct {
	mu           sync.Mutex
	reservations map[string]models.Reservation
	entries      map[string]models.WaitingEntry
}

func newMemJournal() *memJournal {
	return &memJournal{
		reservations: make(map[string]models.Reservation),
		entries:      make(map[string]models.WaitingEntry),
	}
}

func (j *memJournal) SaveReservation(r models.Reservation) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reservations[r.ID] = r
}

func (j *memJournal) SaveEntry(e models.WaitingEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.ID] = e
}

func (j *memJournal) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	var snap Snapshot
	for _, r := range j.reservations {
		snap.Reservations = append(snap.Reservations, r)
	}
	for _, e := range j.entries {
		snap.Entries = append(snap.Entries, e)
	}
	return snap
}

type harness struct {
	t       *testing.T
	clock   *clock.Fake
	ledger  *ledger.Memory
	queue   *waitlist.Memory
	wheel   *timer.Wheel
	rec     *recorder
	journal *memJournal
	engine  *Engine
}

type option func(*Deps, *conflict.RuleBook)

func withTimers(timers Timers) option {
	return func(d *Deps, _ *conflict.RuleBook) { d.Timers = timers }
}

func withRules(resourceID string, r conflict.Rules) option {
	return func(_ *Deps, book *conflict.RuleBook) { _ = book.Set(resourceID, r) }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	clk := clock.NewFake(base)
	led := ledger.NewMemory()
	q := waitlist.NewMemory()
	wheel := timer.New(clk, zerolog.Nop())
	rec := &recorder{}
	journal := newMemJournal()
	rules := conflict.NewRuleBook(conflict.Rules{})

	deps := Deps{
		Ledger:    led,
		Queue:     q,
		Timers:    wheel,
		Publisher: rec,
		Journal:   journal,
		Clock:     clk,
		Logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&deps, rules)
	}
	deps.Detector = conflict.NewDetector(led, rules, clk, rec, zerolog.Nop())

	return &harness{
		t:       t,
		clock:   clk,
		ledger:  led,
		queue:   q,
		wheel:   wheel,
		rec:     rec,
		journal: journal,
		engine:  New(DefaultConfig(), deps),
	}
}

func (h *harness) book(user string, start, end time.Time) models.Reservation {
	h.t.Helper()
	r, err := h.engine.RequestReservation(context.Background(), "R1", user, start, end)
	if err != nil {
		h.t.Fatalf("book %s %s-%s: %v", user, start.Format("15:04"), end.Format("15:04"), err)
	}
	return r
}

func (h *harness) join(user string, p models.Priority, start, end time.Time, mutate ...func(*JoinRequest)) models.WaitingEntry {
	h.t.Helper()
	req := JoinRequest{
		ResourceID:            "R1",
		UserID:                user,
		DesiredStart:          start,
		DesiredEnd:            end,
		Priority:              p,
		ConfirmationTimeLimit: 10,
		NotificationMethods:   []models.NotificationMethod{models.NotificationEmail},
	}
	for _, m := range mutate {
		m(&req)
	}
	e, err := h.engine.JoinWaitingList(context.Background(), req)
	if err != nil {
		h.t.Fatalf("join %s: %v", user, err)
	}
	return e
}

func (h *harness) status(entryID string) models.WaitingStatus {
	h.t.Helper()
	e, ok := h.queue.Get(entryID)
	if !ok {
		h.t.Fatalf("entry %s not found", entryID)
	}
	return e.Status
}

func (h *harness) expectStatus(entryID string, want models.WaitingStatus) {
	h.t.Helper()
	if got := h.status(entryID); got != want {
		h.t.Fatalf("entry %s: status %s, want %s", entryID, got, want)
	}
}

// notified counts NOTIFIED entries on R1.
func (h *harness) notified() int {
	n := 0
	for _, e := range h.queue.Active("R1") {
		if e.Status == models.WaitingStatusNotified {
			n++
		}
	}
	return n
}

func (h *harness) assertSingleOffer() {
	h.t.Helper()
	if n := h.notified(); n > 1 {
		h.t.Fatalf("expected at most one NOTIFIED entry, found %d", n)
	}
}

// stubTimers records schedules without ever firing.
type stubTimers struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	failFor   map[string]bool
	err       error
}

func newStubTimers() *stubTimers {
	return &stubTimers{scheduled: make(map[string]time.Time), failFor: make(map[string]bool)}
}

func (s *stubTimers) Schedule(entryID string, deadline time.Time, _ func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[entryID] || s.err != nil {
		return models.ErrTimerScheduling
	}
	s.scheduled[entryID] = deadline
	return nil
}

func (s *stubTimers) Cancel(entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scheduled[entryID]
	delete(s.scheduled, entryID)
	return ok
}
