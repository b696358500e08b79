/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_reserve/internal/auth"
	"github.com/friendsincode/grimnir_reserve/internal/booking"
	"github.com/friendsincode/grimnir_reserve/internal/logbuffer"
	"github.com/friendsincode/grimnir_reserve/internal/models"
)

type joinRequest struct {
	RequestedStart             string   `json:"requested_start"`
	RequestedEnd               string   `json:"requested_end"`
	Priority                   string   `json:"priority"`
	AcceptAlternatives         bool     `json:"accept_alternatives"`
	AcceptAlternativeResources bool     `json:"accept_alternative_resources"`
	ConfirmationTimeLimit      int      `json:"confirmation_time_limit_minutes"`
	NotificationMethods        []string `json:"notification_methods"`
	MaxWaitTimeHours           *int     `json:"max_wait_time_hours"`
}

func (a *API) handleWaitingListJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	start, err := parseTime("requested_start", req.RequestedStart)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	end, err := parseTime("requested_end", req.RequestedEnd)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	priority, ok := models.ParsePriority(req.Priority)
	if !ok {
		a.fail(w, r, models.Invalid("unknown priority %q", req.Priority))
		return
	}
	methods := make([]models.NotificationMethod, 0, len(req.NotificationMethods))
	for _, m := range req.NotificationMethods {
		methods = append(methods, models.NotificationMethod(m))
	}

	entry, err := a.engine.JoinWaitingList(r.Context(), booking.JoinRequest{
		ResourceID:                 chi.URLParam(r, "resourceID"),
		UserID:                     auth.UserID(r.Context()),
		DesiredStart:               start,
		DesiredEnd:                 end,
		Priority:                   priority,
		AcceptAlternatives:         req.AcceptAlternatives,
		AcceptAlternativeResources: req.AcceptAlternativeResources,
		ConfirmationTimeLimit:      req.ConfirmationTimeLimit,
		NotificationMethods:        methods,
		MaxWaitTimeHours:           req.MaxWaitTimeHours,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	queued, err := a.engine.GetEntry(entry.ID)
	if err != nil {
		queued = models.QueuedEntry{WaitingEntry: entry}
	}
	writeJSON(w, http.StatusCreated, queued)
}

func (a *API) handleWaitingList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ranks.Rank(r.Context(), chi.URLParam(r, "resourceID")))
}

func (a *API) handleEntryGet(w http.ResponseWriter, r *http.Request) {
	entry, err := a.engine.GetEntry(chi.URLParam(r, "entryID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ownedEntry loads the entry and checks the caller may act on it.
func (a *API) ownedEntry(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "entryID")
	entry, err := a.engine.GetEntry(id)
	if err != nil {
		a.fail(w, r, err)
		return "", false
	}
	if !canActFor(r, entry.UserID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return "", false
	}
	return id, true
}

func (a *API) handleEntryWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ownedEntry(w, r)
	if !ok {
		return
	}
	entry, err := a.engine.WithdrawEntry(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleEntryAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ownedEntry(w, r)
	if !ok {
		return
	}
	res, err := a.engine.AcceptOffer(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleEntryDecline(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ownedEntry(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	entry, err := a.engine.DeclineOffer(r.Context(), id, req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleResourceStatus(w http.ResponseWriter, r *http.Request) {
	locks := a.engine.Locks()
	out := make([]booking.ResourceStatus, 0)
	for _, id := range locks.Resources() {
		out = append(out, locks.Status(id))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusOK, []logbuffer.LogEntry{})
		return
	}
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		ResourceID: q.Get("resource_id"),
		Search:     q.Get("search"),
		Descending: true,
		Limit:      200,
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		params.Limit = v
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": a.logBuffer.Query(params),
		"stats":   a.logBuffer.Stats(),
	})
}
