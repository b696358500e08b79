package store

import (
	"context"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_reserve/internal/config"
	"github.com/friendsincode/grimnir_reserve/internal/db"
	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/rs/zerolog"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Connect(config.DatabaseSQLite, ":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(database, zerolog.Nop())
}

func reservation(id string, status models.ReservationStatus, startHour int) models.Reservation {
	return models.Reservation{
		ID:         id,
		ResourceID: "R1",
		UserID:     "u-" + id,
		StartsAt:   base.Add(time.Duration(startHour) * time.Hour),
		EndsAt:     base.Add(time.Duration(startHour+1) * time.Hour),
		Status:     status,
		Source:     models.ReservationSourceDirect,
	}
}

func entry(id string, status models.WaitingStatus) models.WaitingEntry {
	return models.WaitingEntry{
		ID:                    id,
		ResourceID:            "R1",
		UserID:                "u-" + id,
		DesiredStart:          base.Add(2 * time.Hour),
		DesiredEnd:            base.Add(3 * time.Hour),
		Priority:              models.PriorityMedium,
		ConfirmationTimeLimit: 30,
		Status:                status,
		NotificationMethods:   []models.NotificationMethod{models.NotificationInApp},
		RequestedAt:           base,
	}
}

func TestFlushUpsertsLatestState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := reservation("r1", models.ReservationConfirmed, 1)
	s.SaveReservation(r)
	if s.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", s.Pending())
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if s.Pending() != 0 {
		t.Fatalf("pending after flush = %d", s.Pending())
	}

	r.Status = models.ReservationCancelled
	r.CancelReason = "changed plans"
	s.SaveReservation(r)
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	var got models.Reservation
	if err := s.db.First(&got, "id = ?", "r1").Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Status != models.ReservationCancelled || got.CancelReason != "changed plans" {
		t.Fatalf("upsert did not update row: %+v", got)
	}
}

func TestSavesCoalesceByID(t *testing.T) {
	s := newTestStore(t)

	e := entry("e1", models.WaitingStatusWaiting)
	s.SaveEntry(e)
	e.Status = models.WaitingStatusNotified
	deadline := base.Add(30 * time.Minute)
	e.OfferDeadline = &deadline
	s.SaveEntry(e)

	if s.Pending() != 1 {
		t.Fatalf("pending = %d, want 1 coalesced row", s.Pending())
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var got models.WaitingEntry
	if err := s.db.First(&got, "id = ?", "e1").Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Status != models.WaitingStatusNotified || got.OfferDeadline == nil || !got.OfferDeadline.Equal(deadline) {
		t.Fatalf("expected latest state, got status=%s deadline=%v", got.Status, got.OfferDeadline)
	}
}

func TestLoadReturnsResumableState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SaveReservation(reservation("r1", models.ReservationConfirmed, 1))
	s.SaveReservation(reservation("r2", models.ReservationCancelled, 2))
	s.SaveReservation(reservation("r3", models.ReservationConfirmed, 4))
	s.SaveEntry(entry("e1", models.WaitingStatusWaiting))
	s.SaveEntry(entry("e2", models.WaitingStatusNotified))
	s.SaveEntry(entry("e3", models.WaitingStatusExpired))
	s.SaveEntry(entry("e4", models.WaitingStatusConfirmed))
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	snap, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Reservations) != 2 || snap.Reservations[0].ID != "r1" || snap.Reservations[1].ID != "r3" {
		t.Fatalf("unexpected reservations: %+v", snap.Reservations)
	}
	ids := map[string]bool{}
	for _, e := range snap.Entries {
		ids[e.ID] = true
	}
	if len(ids) != 2 || !ids["e1"] || !ids["e2"] {
		t.Fatalf("unexpected entries: %v", ids)
	}
}

func TestRunDrainsOnCancel(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.SaveReservation(reservation("r1", models.ReservationConfirmed, 1))
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	var count int64
	s.db.Model(&models.Reservation{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected drained row, got %d", count)
	}
}
