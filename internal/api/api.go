/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the reservation and waiting list commands over JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/auth"
	"github.com/friendsincode/grimnir_reserve/internal/booking"
	"github.com/friendsincode/grimnir_reserve/internal/logbuffer"
	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
)

// RankReader serves waiting list views, possibly from a cache.
type RankReader interface {
	Rank(ctx context.Context, resourceID string) []models.QueuedEntry
}

type engineRanks struct{ engine *booking.Engine }

func (r engineRanks) Rank(_ context.Context, resourceID string) []models.QueuedEntry {
	return r.engine.Rank(resourceID)
}

// Options configure optional collaborators.
type Options struct {
	JWTSecret []byte
	Ranks     RankReader
	LogBuffer *logbuffer.Buffer
	// RateLimit is commands per second per user; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// API exposes HTTP handlers.
type API struct {
	engine    *booking.Engine
	ranks     RankReader
	logBuffer *logbuffer.Buffer
	jwtSecret []byte
	limiter   *userLimiter
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(engine *booking.Engine, opts Options, logger zerolog.Logger) *API {
	ranks := opts.Ranks
	if ranks == nil {
		ranks = engineRanks{engine: engine}
	}
	return &API{
		engine:    engine,
		ranks:     ranks,
		logBuffer: opts.LogBuffer,
		jwtSecret: opts.JWTSecret,
		limiter:   newUserLimiter(opts.RateLimit, opts.RateBurst),
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Handler builds the full router with middleware.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.TracingMiddleware)
	r.Use(telemetry.MetricsMiddleware)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", a.handleHealth)
	a.Routes(r)
	return r
}

// Routes registers the /api/v1 endpoints.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))
			pr.Use(a.rateLimit)

			pr.Route("/resources/{resourceID}", func(r chi.Router) {
				r.Get("/reservations", a.handleReservationsList)
				r.Post("/reservations", a.handleReservationsCreate)
				r.Get("/availability", a.handleAvailability)
				r.Get("/waiting-list", a.handleWaitingList)
				r.Post("/waiting-list", a.handleWaitingListJoin)
			})

			pr.Route("/reservations/{reservationID}", func(r chi.Router) {
				r.Get("/", a.handleReservationGet)
				r.Post("/cancel", a.handleReservationCancel)
				r.With(a.requireRole(auth.RoleAdmin)).Post("/reject", a.handleReservationReject)
			})

			pr.Route("/waiting-list/{entryID}", func(r chi.Router) {
				r.Get("/", a.handleEntryGet)
				r.Delete("/", a.handleEntryWithdraw)
				r.Post("/accept", a.handleEntryAccept)
				r.Post("/decline", a.handleEntryDecline)
			})

			pr.With(a.requireRole(auth.RoleAdmin)).Get("/admin/resources", a.handleResourceStatus)
			pr.With(a.requireRole(auth.RoleAdmin)).Get("/admin/logs", a.handleLogs)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := auth.ClaimsFromContext(r.Context())
			if !claims.HasRole(role) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// canActFor reports whether the caller owns a record or is an admin.
func canActFor(r *http.Request, ownerID string) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return false
	}
	return claims.UserID == ownerID || claims.HasRole(auth.RoleAdmin)
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return models.Invalid("malformed body: %v", err)
	}
	return nil
}

func parseTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, models.Invalid("%s required", field)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, models.Invalid("%s must be RFC 3339", field)
	}
	return t.UTC(), nil
}

// errorStatus maps domain errors to HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrReservationNotFound):
		return http.StatusNotFound, "reservation_not_found"
	case errors.Is(err, models.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, models.ErrDuplicateEntry):
		return http.StatusConflict, "duplicate_entry"
	case errors.Is(err, models.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, models.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, models.ErrOfferExpired):
		return http.StatusGone, "offer_expired"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= 500 {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, code)
		return
	}

	body := map[string]any{"error": code, "message": err.Error()}
	var conflict *models.ConflictError
	if errors.As(err, &conflict) {
		ids := make([]string, 0, len(conflict.Conflicts))
		for _, c := range conflict.Conflicts {
			ids = append(ids, c.ID)
		}
		body["conflicting_reservations"] = ids
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
