/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_reserve/internal/auth"
)

type reservationRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleReservationsCreate(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	start, err := parseTime("start", req.Start)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	end, err := parseTime("end", req.End)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.engine.RequestReservation(r.Context(), chi.URLParam(r, "resourceID"), auth.UserID(r.Context()), start, end)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleReservationsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Reservations(chi.URLParam(r, "resourceID")))
}

func (a *API) handleAvailability(w http.ResponseWriter, r *http.Request) {
	start, err := parseTime("start", r.URL.Query().Get("start"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	end, err := parseTime("end", r.URL.Query().Get("end"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	avail, err := a.engine.Availability(chi.URLParam(r, "resourceID"), start, end)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

func (a *API) handleReservationGet(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.GetReservation(chi.URLParam(r, "reservationID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleReservationCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reservationID")
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	existing, err := a.engine.GetReservation(id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !canActFor(r, existing.UserID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	res, err := a.engine.CancelReservation(r.Context(), id, auth.UserID(r.Context()), req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleReservationReject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.engine.RejectReservation(r.Context(), chi.URLParam(r, "reservationID"), auth.UserID(r.Context()), req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
