/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReservationsTotal counts reservation requests by outcome.
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_reservations_total",
			Help: "Reservation requests by outcome (confirmed, promoted, invalid, cancelled, rejected)",
		},
		[]string{"outcome"},
	)

	// ConflictsTotal counts detected schedule conflicts per resource.
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_conflicts_total",
			Help: "Reservation conflicts detected",
		},
		[]string{"resource_id"},
	)

	// WaitingEntriesTotal counts waiting list joins by priority.
	WaitingEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_waiting_entries_total",
			Help: "Waiting list entries created",
		},
		[]string{"priority"},
	)

	// OffersTotal counts offers by outcome (issued, accepted, declined, expired, withdrawn, lost_race, reverted).
	OffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_offers_total",
			Help: "Waiting list offers by outcome",
		},
		[]string{"outcome"},
	)

	// PendingTimers tracks armed confirmation deadlines.
	PendingTimers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grimnir_reserve_pending_timers",
			Help: "Outstanding offer confirmation timers",
		},
	)

	// PendingVacancies tracks freed intervals waiting behind an outstanding offer.
	PendingVacancies = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grimnir_reserve_pending_vacancies",
			Help: "Freed intervals queued per resource",
		},
		[]string{"resource_id"},
	)

	// PromotionDuration measures one promotion pass.
	PromotionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grimnir_reserve_promotion_duration_seconds",
			Help:    "Time spent selecting and offering a freed interval",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// SweepExpiredTotal counts entries expired by the max-wait sweep.
	SweepExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_sweep_expired_total",
			Help: "Waiting entries expired by the periodic sweep",
		},
	)

	// DispatcherQueueDepth tracks facts awaiting delivery.
	DispatcherQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grimnir_reserve_dispatcher_queue_depth",
			Help: "Events buffered in the dispatcher",
		},
	)

	// DispatcherDroppedTotal counts facts refused at enqueue.
	DispatcherDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_dispatcher_dropped_total",
			Help: "Events refused because the dispatcher was full or closed",
		},
	)

	// BusDroppedTotal counts in-process deliveries refused by a full subscriber.
	BusDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_bus_dropped_total",
			Help: "Events a full local subscriber could not take, by event type",
		},
		[]string{"type"},
	)

	// SinkDeliveriesTotal counts sink deliveries by result.
	SinkDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_sink_deliveries_total",
			Help: "Event deliveries per sink (delivered, failed, duplicate)",
		},
		[]string{"sink", "result"},
	)

	// NotificationsTotal counts notifier calls.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_notifications_total",
			Help: "Notifications dispatched by template and result",
		},
		[]string{"template", "result"},
	)

	// LeaderElectionStatus is 1 when this instance runs the sweeper.
	LeaderElectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grimnir_reserve_leader_election_status",
			Help: "Leader election status (1=leader, 0=follower)",
		},
		[]string{"instance_id"},
	)

	// LeaderElectionChanges counts leadership transitions.
	LeaderElectionChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_leader_election_changes_total",
			Help: "Leadership acquired or lost",
		},
		[]string{"instance_id", "change"},
	)

	// APIRequestDuration tracks API request latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grimnir_reserve_api_request_duration_seconds",
			Help:    "API request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIRequestsTotal counts API requests.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_api_requests_total",
			Help: "API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIActiveConnections tracks in-flight API requests.
	APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grimnir_reserve_api_active_connections",
			Help: "In-flight API requests",
		},
	)

	// DatabaseQueryDuration tracks gorm operation latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grimnir_reserve_database_query_duration_seconds",
			Help:    "Database operation duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation", "table"},
	)

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimnir_reserve_database_errors_total",
			Help: "Database errors",
		},
		[]string{"operation", "type"},
	)

	// DatabaseConnectionsActive tracks open pool connections.
	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grimnir_reserve_database_connections_active",
			Help: "Open database connections",
		},
	)

	// JournalBacklog tracks persistence writes not yet flushed.
	JournalBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grimnir_reserve_journal_backlog",
			Help: "Queued persistence writes",
		},
	)
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
