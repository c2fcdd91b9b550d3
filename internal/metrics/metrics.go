// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts handled requests by route pattern and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermaclinic_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dermaclinic_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// AuthFailuresTotal counts rejected credentials.
	// Labels:
	//   - reason: "missing_token", "token_expired", "token_invalid", "forbidden",
	//     "invalid_credentials", "refresh_revoked"
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermaclinic_auth_failures_total",
			Help: "Total number of authentication and authorization failures",
		},
		[]string{"reason"},
	)

	// EmbeddedSaveDuration measures the full-file rewrite after each local-mode write.
	EmbeddedSaveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dermaclinic_embedded_save_duration_seconds",
			Help:    "Duration of full database file rewrites in local mode",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	AppointmentConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dermaclinic_appointment_conflicts_total",
			Help: "Appointments created while overlapping another booking for the same staff member",
		},
	)

	RefreshTokensSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dermaclinic_refresh_tokens_swept_total",
			Help: "Expired refresh token records deleted by the sweeper",
		},
	)

	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermaclinic_backups_total",
			Help: "Scheduled database backups by outcome",
		},
		[]string{"outcome"},
	)
)
