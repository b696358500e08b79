package waitlist

import (
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_reserve/internal/models"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func entry(id, user string, p models.Priority, requested time.Time, start, end time.Time) models.WaitingEntry {
	return models.WaitingEntry{
		ID:                    id,
		ResourceID:            "R1",
		UserID:                user,
		DesiredStart:          start,
		DesiredEnd:            end,
		Priority:              p,
		ConfirmationTimeLimit: 10,
		Status:                models.WaitingStatusWaiting,
		RequestedAt:           requested,
	}
}

func TestRankOrdersByPriorityThenArrival(t *testing.T) {
	q := NewMemory()
	t1, t2, t3 := base, base.Add(time.Minute), base.Add(2*time.Minute)

	for _, e := range []models.WaitingEntry{
		entry("low", "u1", models.PriorityLow, t1, at(10, 0), at(12, 0)),
		entry("high-late", "u3", models.PriorityHigh, t3, at(10, 0), at(12, 0)),
		entry("high-early", "u2", models.PriorityHigh, t2, at(10, 0), at(12, 0)),
		entry("urgent", "u4", models.PriorityUrgent, t3, at(10, 0), at(12, 0)),
	} {
		if err := q.Enqueue(e); err != nil {
			t.Fatalf("enqueue %s: %v", e.ID, err)
		}
	}

	want := []string{"urgent", "high-early", "high-late", "low"}
	ranked := q.Rank("R1")
	if len(ranked) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(ranked))
	}
	for i, id := range want {
		if ranked[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i+1, id, ranked[i].ID)
		}
		if ranked[i].Position != i+1 {
			t.Errorf("entry %s: expected position %d, got %d", id, i+1, ranked[i].Position)
		}
	}

	if pos, ok := q.Position("high-late"); !ok || pos != 3 {
		t.Errorf("expected high-late at position 3, got %d (found=%v)", pos, ok)
	}
}

func TestPeekEligibleFairness(t *testing.T) {
	q := NewMemory()
	t1, t2, t3 := base, base.Add(time.Minute), base.Add(2*time.Minute)
	_ = q.Enqueue(entry("low", "u1", models.PriorityLow, t1, at(10, 0), at(12, 0)))
	_ = q.Enqueue(entry("high-t3", "u3", models.PriorityHigh, t3, at(10, 0), at(12, 0)))
	_ = q.Enqueue(entry("high-t2", "u2", models.PriorityHigh, t2, at(10, 0), at(12, 0)))

	freed := models.Interval{Start: at(10, 0), End: at(12, 0)}
	tried := map[string]bool{}
	var order []string
	for {
		c, _, ok := q.PeekEligible("R1", freed, base, Eligibility{Skip: func(id string) bool { return tried[id] }})
		if !ok {
			break
		}
		order = append(order, c.Entry.ID)
		tried[c.Entry.ID] = true
	}

	want := []string{"high-t2", "high-t3", "low"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestEnqueueDuplicate(t *testing.T) {
	q := NewMemory()
	first := entry("e1", "u1", models.PriorityMedium, base, at(10, 0), at(12, 0))
	if err := q.Enqueue(first); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	second := entry("e2", "u1", models.PriorityHigh, base.Add(time.Minute), at(10, 0), at(12, 0))
	if err := q.Enqueue(second); !errors.Is(err, models.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}

	other := entry("e3", "u2", models.PriorityMedium, base, at(10, 0), at(12, 0))
	if err := q.Enqueue(other); err != nil {
		t.Fatalf("different user should be accepted: %v", err)
	}

	first.Status = models.WaitingStatusCancelled
	if err := q.Update(first); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := q.Enqueue(second); err != nil {
		t.Fatalf("rejoin after cancel should be accepted: %v", err)
	}
}

func TestPeekEligibleSkipsNotifiedAndStale(t *testing.T) {
	q := NewMemory()
	hours := 1
	stale := entry("stale", "u1", models.PriorityUrgent, base, at(10, 0), at(11, 0))
	stale.MaxWaitTimeHours = &hours
	notified := entry("notified", "u2", models.PriorityHigh, base, at(10, 0), at(11, 0))
	fresh := entry("fresh", "u3", models.PriorityLow, base.Add(90*time.Minute), at(10, 0), at(11, 0))
	for _, e := range []models.WaitingEntry{stale, notified, fresh} {
		if err := q.Enqueue(e); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	notified.Status = models.WaitingStatusNotified
	if err := q.Update(notified); err != nil {
		t.Fatalf("update: %v", err)
	}

	now := base.Add(2 * time.Hour)
	c, staleList, ok := q.PeekEligible("R1", models.Interval{Start: at(10, 0), End: at(11, 0)}, now, Eligibility{})
	if !ok || c.Entry.ID != "fresh" {
		t.Fatalf("expected fresh, got %+v (ok=%v)", c.Entry.ID, ok)
	}
	if len(staleList) != 1 || staleList[0].ID != "stale" {
		t.Fatalf("expected stale entry reported, got %v", staleList)
	}
}

func TestPeekEligibleRespectsFits(t *testing.T) {
	q := NewMemory()
	_ = q.Enqueue(entry("e1", "u1", models.PriorityHigh, base, at(10, 0), at(11, 0)))
	_ = q.Enqueue(entry("e2", "u2", models.PriorityLow, base, at(11, 0), at(12, 0)))

	blocked := models.Interval{Start: at(10, 0), End: at(11, 0)}
	c, _, ok := q.PeekEligible("R1", models.Interval{Start: at(10, 0), End: at(12, 0)}, base, Eligibility{
		Fits: func(slot models.Interval) bool { return !slot.Overlaps(blocked) },
	})
	if !ok || c.Entry.ID != "e2" {
		t.Fatalf("expected e2, got %s (ok=%v)", c.Entry.ID, ok)
	}
}

func TestRemoveAndGet(t *testing.T) {
	q := NewMemory()
	e := entry("e1", "u1", models.PriorityMedium, base, at(10, 0), at(12, 0))
	_ = q.Enqueue(e)

	removed, err := q.Remove("e1")
	if err != nil || removed.ID != "e1" {
		t.Fatalf("remove: %v", err)
	}
	if len(q.Rank("R1")) != 0 {
		t.Fatal("expected empty rank after remove")
	}
	if _, err := q.Remove("missing"); !errors.Is(err, models.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if err := q.Update(entry("missing", "u", models.PriorityLow, base, at(1, 0), at(2, 0))); !errors.Is(err, models.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound on update, got %v", err)
	}
	if _, ok := q.Get("e1"); !ok {
		t.Fatal("removed entry should stay readable")
	}
}
