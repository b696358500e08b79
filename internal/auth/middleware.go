/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"strings"
)

// Header names accepted when no signing key is configured.
const (
	HeaderUserID = "X-User-ID"
	HeaderRoles  = "X-User-Roles"
)

// Middleware injects claims into the request context. With a signing key it
// requires a valid Bearer token; without one it trusts the X-User-ID header,
// which is only suitable behind an authenticating proxy.
func Middleware(jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claims *Claims
			if len(jwtSecret) > 0 {
				token := extractToken(r)
				if token == "" {
					unauthorized(w)
					return
				}
				parsed, err := Parse(jwtSecret, token)
				if err != nil {
					unauthorized(w)
					return
				}
				claims = parsed
			} else {
				userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
				if userID == "" {
					unauthorized(w)
					return
				}
				claims = &Claims{UserID: userID, Roles: splitRoles(r.Header.Get(HeaderRoles))}
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

func splitRoles(v string) []string {
	var roles []string
	for _, role := range strings.Split(v, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
