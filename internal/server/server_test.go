package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/auth"
	"github.com/friendsincode/grimnir_reserve/internal/config"
	"github.com/friendsincode/grimnir_reserve/internal/logbuffer"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:           "development",
		HTTPBind:              "127.0.0.1",
		HTTPPort:              0,
		MetricsBind:           "127.0.0.1:0",
		DBBackend:             config.DatabaseMemory,
		MaxBookingMinutes:     480,
		MaxAdvanceDays:        3650,
		ConfirmationMinutes:   30,
		AlternativeMinOverlap: 1.0,
		SweepInterval:         time.Minute,
		EventWorkers:          2,
		EventBuffer:           64,
	}
}

func TestNewServesHealthAndAPI(t *testing.T) {
	srv, err := New(testConfig(), logbuffer.New(100), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Close()

	rr := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("healthz: %d %s", rr.Code, rr.Body.String())
	}

	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Hour)
	body := `{"start":"` + start.Format(time.RFC3339) + `","end":"` + start.Add(time.Hour).Format(time.RFC3339) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/resources/room-1/reservations", bytes.NewBufferString(body))
	req.Header.Set(auth.HeaderUserID, "alice")
	rr = httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create reservation: %d %s", rr.Code, rr.Body.String())
	}
	if got := len(srv.Engine().Reservations("room-1")); got != 1 {
		t.Fatalf("expected 1 reservation, got %d", got)
	}
}

func TestNewRestoresFromSQLite(t *testing.T) {
	cfg := testConfig()
	cfg.DBBackend = config.DatabaseSQLite
	cfg.DBDSN = filepath.Join(t.TempDir(), "reserve.db")

	srv, err := New(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	res, err := srv.Engine().RequestReservation(ctx, "room-1", "alice", start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	srv, err = New(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer srv.Close()
	got, err := srv.Engine().GetReservation(res.ID)
	if err != nil {
		t.Fatalf("expected reservation to survive restart: %v", err)
	}
	if got.UserID != "alice" {
		t.Fatalf("restored reservation for %q, want alice", got.UserID)
	}
}

func TestNewRejectsBadRulesFile(t *testing.T) {
	cfg := testConfig()
	cfg.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(cfg, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing rules file")
	}
}
