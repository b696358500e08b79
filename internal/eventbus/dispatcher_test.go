package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/events"
)

type recordingSink struct {
	mu       sync.Mutex
	got      []events.Event
	failures int
	block    chan struct{}
	closed   bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, ev events.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("transient")
	}
	s.got = append(s.got, ev)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.got...)
}

func testConfig() Config {
	return Config{
		Workers:         4,
		Buffer:          256,
		DedupWindow:     16,
		RetryInitial:    time.Millisecond,
		RetryMax:        5 * time.Millisecond,
		RetryMaxElapsed: time.Second,
	}
}

func fact(id, resourceID string) events.Event {
	return events.Event{ID: id, Type: events.EventReservationCreated, ResourceID: resourceID, OccurredAt: time.Now()}
}

func TestDispatcherPreservesPerResourceOrder(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()
	const perResource = 20
	if perShard := cfg.Buffer / cfg.Workers; perShard < 3*perResource {
		t.Fatalf("shard capacity %d cannot hold a burst of %d", perShard, 3*perResource)
	}
	d := NewDispatcher(cfg, zerolog.Nop(), sink)

	for i := 0; i < perResource; i++ {
		for _, r := range []string{"R1", "R2", "R3"} {
			if err := d.Publish(context.Background(), fact(fmt.Sprintf("%s-%02d", r, i), r)); err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := sink.events()
	if len(got) != 60 {
		t.Fatalf("expected 60 deliveries, got %d", len(got))
	}
	last := map[string]string{}
	for _, ev := range got {
		if prev, ok := last[ev.ResourceID]; ok && ev.ID < prev {
			t.Fatalf("out of order for %s: %s after %s", ev.ResourceID, ev.ID, prev)
		}
		last[ev.ResourceID] = ev.ID
	}
	if !sink.closed {
		t.Error("expected sink closed")
	}
}

func TestDispatcherDeduplicatesByEventID(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(testConfig(), zerolog.Nop(), sink)

	ev := fact("same", "R1")
	for i := 0; i < 3; i++ {
		if err := d.Publish(context.Background(), ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	_ = d.Close()

	if n := len(sink.events()); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	sink := &recordingSink{failures: 2}
	d := NewDispatcher(testConfig(), zerolog.Nop(), sink)

	if err := d.Publish(context.Background(), fact("e1", "R1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	_ = d.Close()

	if n := len(sink.events()); n != 1 {
		t.Fatalf("expected delivery after retries, got %d", n)
	}
}

func TestDispatcherRejectsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.Buffer = 1
	d := NewDispatcher(cfg, zerolog.Nop(), sink)

	var full error
	for i := 0; i < 10 && full == nil; i++ {
		full = d.Publish(context.Background(), fact(fmt.Sprintf("e%d", i), "R1"))
	}
	if !errors.Is(full, ErrDispatcherFull) {
		t.Fatalf("expected ErrDispatcherFull, got %v", full)
	}

	close(sink.block)
	_ = d.Close()

	if err := d.Publish(context.Background(), fact("late", "R1")); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestShardForIsStable(t *testing.T) {
	for _, r := range []string{"R1", "lab-2", "room-305"} {
		if shardFor(r, 8) != shardFor(r, 8) {
			t.Fatalf("unstable shard for %s", r)
		}
	}
}
