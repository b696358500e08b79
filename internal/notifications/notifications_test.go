package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/models"
)

type call struct {
	userID   string
	methods  []string
	template Template
	data     map[string]any
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []call
	got   chan struct{}
}

func (f *fakeNotifier) Notify(_ context.Context, userID string, methods []string, template Template, data map[string]any) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{userID, methods, template, data})
	f.mu.Unlock()
	f.got <- struct{}{}
	return nil
}

func TestServiceMapsFactsToTemplates(t *testing.T) {
	bus := events.NewBus()
	fake := &fakeNotifier{got: make(chan struct{}, 8)}
	svc := NewService(bus, fake, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	entry := models.WaitingEntry{
		ID:                  "e1",
		ResourceID:          "R1",
		UserID:              "u1",
		NotificationMethods: []models.NotificationMethod{models.NotificationEmail},
	}
	offer := models.Offer{
		EntryID:   "e1",
		Slot:      models.Interval{Start: at, End: at.Add(time.Hour)},
		OfferedAt: at,
		Deadline:  at.Add(30 * time.Minute),
	}
	bus.Publish(events.NewWaitingNotified(entry, offer, at))
	// Not mapped to a template.
	bus.Publish(events.NewWaitingAdded(entry, at))

	select {
	case <-fake.got:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier not called")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(fake.calls))
	}
	c := fake.calls[0]
	if c.userID != "u1" || c.template != TemplateOfferAvailable {
		t.Fatalf("unexpected call: %+v", c)
	}
	if len(c.methods) != 1 || c.methods[0] != "email" {
		t.Fatalf("unexpected methods: %v", c.methods)
	}
	if _, ok := c.data["deadline"]; !ok {
		t.Fatalf("expected deadline in data: %v", c.data)
	}
	if _, ok := c.data["notification_methods"]; ok {
		t.Fatal("methods should not be repeated in data")
	}
}

func TestWebhookNotifierSignsPayload(t *testing.T) {
	var received WebhookPayload
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		signature = r.Header.Get("X-Grimnir-Signature")
		if signature != Sign(body, "s3cret") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "s3cret", zerolog.Nop())
	err := n.Notify(context.Background(), "u1", []string{"sms"}, TemplateOfferExpired, map[string]any{"waiting_list_id": "e1"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.UserID != "u1" || received.Template != TemplateOfferExpired {
		t.Fatalf("unexpected payload: %+v", received)
	}
	if received.Data["waiting_list_id"] != "e1" {
		t.Fatalf("unexpected data: %v", received.Data)
	}
}

func TestWebhookNotifierRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "", zerolog.Nop())
	if err := n.Notify(context.Background(), "u1", nil, TemplateOfferConfirmed, nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", attempts.Load())
	}
}

func TestWebhookNotifierDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "", zerolog.Nop())
	if err := n.Notify(context.Background(), "u1", nil, TemplateOfferConfirmed, nil); err == nil {
		t.Fatal("expected error")
	}
	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", attempts.Load())
	}
}
