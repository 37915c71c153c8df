package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoleResolutions counts terminal resolver outcomes by how the role was obtained.
	RoleResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidmarket_role_resolutions_total",
			Help: "Terminal session resolver outcomes",
		},
		[]string{"outcome"},
	)
	// BackendRequests counts calls to the hosted backend by operation and status class.
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidmarket_backend_requests_total",
			Help: "Requests issued to the hosted backend",
		},
		[]string{"op", "status"},
	)
	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bidmarket_backend_request_duration_seconds",
			Help:    "Hosted backend request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	// ListingActions counts accept/claim/propose/submit actions by result.
	ListingActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidmarket_listing_actions_total",
			Help: "Mutating marketplace actions",
		},
		[]string{"action", "result"},
	)
	ActiveEnvironments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bidmarket_active_environments",
			Help: "Browser environments currently held in memory",
		},
	)
)
