package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) Sweep(context.Context) int {
	c.calls.Add(1)
	return 1
}

type fakeElector struct {
	leader atomic.Bool
	ch     chan bool
}

func (f *fakeElector) IsLeader() bool        { return f.leader.Load() }
func (f *fakeElector) LeaderCh() <-chan bool { return f.ch }

func (f *fakeElector) set(v bool) {
	f.leader.Store(v)
	f.ch <- v
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestServiceSweepsImmediatelyAndPeriodically(t *testing.T) {
	sw := &countingSweeper{}
	svc := New(sw, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return sw.calls.Load() >= 3 })
	cancel()
	<-done
}

func TestLeaderAwareFollowsLeadership(t *testing.T) {
	sw := &countingSweeper{}
	elector := &fakeElector{ch: make(chan bool)}
	la := NewLeaderAware(New(sw, time.Hour, zerolog.Nop()), elector, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = la.Run(ctx)
		close(done)
	}()

	if la.Running() {
		t.Fatal("follower must not sweep")
	}

	elector.set(true)
	waitFor(t, func() bool { return la.Running() && sw.calls.Load() == 1 })

	elector.set(false)
	waitFor(t, func() bool { return !la.Running() })

	cancel()
	<-done
	if sw.calls.Load() != 1 {
		t.Fatalf("sweeps = %d, want 1", sw.calls.Load())
	}
}
