/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications turns engine facts into user-facing messages.
package notifications

import (
	"context"

	"github.com/rs/zerolog"
)

// Template names the message a notifier renders.
type Template string

const (
	TemplateOfferAvailable       Template = "offer_available"
	TemplateOfferExpired         Template = "offer_expired"
	TemplateOfferConfirmed       Template = "offer_confirmed"
	TemplateReservationCreated   Template = "reservation_created"
	TemplateReservationCancelled Template = "reservation_cancelled"
)

// Notifier delivers one message to one user over the given methods.
type Notifier interface {
	Notify(ctx context.Context, userID string, methods []string, template Template, data map[string]any) error
}

// LogNotifier writes each notification as a structured log line. It is the
// default when no webhook is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "log_notifier").Logger()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, userID string, methods []string, template Template, data map[string]any) error {
	n.logger.Info().
		Str("user_id", userID).
		Strs("methods", methods).
		Str("template", string(template)).
		Interface("data", data).
		Msg("notification")
	return nil
}
