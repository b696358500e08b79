package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/events"
)

func TestRedisSinkOpensCircuit(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	cfg := DefaultRedisConfig()
	cfg.MaxFailures = 2
	cfg.CheckInterval = time.Minute
	sink := NewRedisSink(client, cfg, zerolog.Nop())

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return now }

	ev := events.Event{ID: "e1", Type: events.EventWaitingNotified, ResourceID: "R1"}
	for i := 0; i < 2; i++ {
		if err := sink.Deliver(context.Background(), ev); err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("attempt %d: expected connection error, got %v", i, err)
		}
	}
	if err := sink.Deliver(context.Background(), ev); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := sink.Deliver(context.Background(), ev); errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected circuit to half-open after check interval")
	}
}

func TestRedisSinkChannelNames(t *testing.T) {
	sink := NewRedisSink(nil, RedisConfig{}, zerolog.Nop())
	if got := sink.channel(events.EventReservationCreated); got != "reserve:events:reservation.created" {
		t.Fatalf("unexpected channel %q", got)
	}
}

func TestNATSSubject(t *testing.T) {
	ev := events.Event{Type: events.EventWaitingExpired}
	if got := Subject("reserve.events", ev); got != "reserve.events.waiting_list.expired" {
		t.Fatalf("unexpected subject %q", got)
	}
}
