package clock

import (
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	c.AfterFunc(10*time.Minute, func() { order = append(order, "b") })
	c.AfterFunc(5*time.Minute, func() { order = append(order, "a") })
	c.AfterFunc(time.Hour, func() { order = append(order, "late") })

	c.Advance(15 * time.Minute)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected firing order: %v", order)
	}
	if got := c.Now(); !got.Equal(start.Add(15 * time.Minute)) {
		t.Fatalf("unexpected now: %v", got)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", c.Pending())
	}
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))
	fired := false
	timer := c.AfterFunc(time.Minute, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("expected Stop to report an active timer")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(time.Hour)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeChainedCallbacksFireWithinAdvance(t *testing.T) {
	c := NewFake(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))
	count := 0
	var schedule func()
	schedule = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Minute, schedule)
		}
	}
	c.AfterFunc(time.Minute, schedule)

	c.Advance(10 * time.Minute)
	if count != 3 {
		t.Fatalf("expected 3 chained firings, got %d", count)
	}
}
