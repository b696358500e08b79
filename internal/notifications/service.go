/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notifications

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/events"
	"github.com/friendsincode/grimnir_reserve/internal/telemetry"
)

var templates = map[events.EventType]Template{
	events.EventWaitingNotified:      TemplateOfferAvailable,
	events.EventWaitingExpired:       TemplateOfferExpired,
	events.EventWaitingConfirmed:     TemplateOfferConfirmed,
	events.EventReservationCreated:   TemplateReservationCreated,
	events.EventReservationCancelled: TemplateReservationCancelled,
}

// Service forwards facts from the bus to a Notifier.
type Service struct {
	bus      *events.Bus
	notifier Notifier
	logger   zerolog.Logger
	subs     map[events.EventType]events.Subscriber
}

// NewService subscribes to the notifiable fact types. Facts published before
// Start runs are buffered by the subscriptions.
func NewService(bus *events.Bus, notifier Notifier, logger zerolog.Logger) *Service {
	s := &Service{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With().Str("component", "notifications").Logger(),
		subs:     make(map[events.EventType]events.Subscriber, len(templates)),
	}
	for t := range templates {
		s.subs[t] = bus.Subscribe(t)
	}
	return s
}

// Start delivers notifications until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	merged := make(chan events.Event, 64)
	for _, sub := range s.subs {
		go func(sub events.Subscriber) {
			for ev := range sub {
				select {
				case merged <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}
	defer func() {
		for t, sub := range s.subs {
			s.bus.Unsubscribe(t, sub)
		}
	}()

	s.logger.Info().Msg("notification service started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("notification service stopping")
			return
		case ev := <-merged:
			s.handle(ctx, ev)
		}
	}
}

func (s *Service) handle(ctx context.Context, ev events.Event) {
	template, ok := templates[ev.Type]
	if !ok {
		return
	}
	userID, _ := ev.Payload["user_id"].(string)
	if userID == "" {
		s.logger.Warn().Str("event_id", ev.ID).Str("type", string(ev.Type)).Msg("fact without user id, not notifying")
		return
	}
	methods, _ := ev.Payload["notification_methods"].([]string)

	data := make(map[string]any, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		if k == "notification_methods" {
			continue
		}
		data[k] = v
	}
	data["event_id"] = ev.ID

	if err := s.notifier.Notify(ctx, userID, methods, template, data); err != nil {
		telemetry.NotificationsTotal.WithLabelValues(string(template), "failed").Inc()
		s.logger.Error().Err(err).
			Str("event_id", ev.ID).
			Str("user_id", userID).
			Str("template", string(template)).
			Msg("notification failed")
		return
	}
	telemetry.NotificationsTotal.WithLabelValues(string(template), "sent").Inc()
}
