// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runtracker_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Run lifecycle
	RunTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_run_transitions_total",
			Help: "Run status transitions by target status",
		},
		[]string{"status"},
	)

	PositionsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtracker_positions_recorded_total",
			Help: "Total number of GPS positions stored",
		},
	)

	ChallengesAwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtracker_challenges_awarded_total",
			Help: "Challenges awarded by name",
		},
		[]string{"challenge"},
	)

	ItemsCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtracker_items_collected_total",
			Help: "Collectible items picked up by athletes",
		},
	)

	NotificationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtracker_notifications_failed_total",
			Help: "Challenge notification e-mails that could not be sent",
		},
	)

	// 0 = closed, 1 = half-open, 2 = open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runtracker_circuit_breaker_state",
			Help: "Circuit breaker state by name",
		},
		[]string{"name"},
	)
)

// RecordAPIRequest records one served request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
