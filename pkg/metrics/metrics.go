package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPRequestsTotal counts handled HTTP requests by method, route and status
var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authkit_http_requests_total",
		Help: "Total number of HTTP requests handled",
	},
	[]string{"method", "route", "status"},
)

// HTTPRequestDuration records request latency distribution per route
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "authkit_http_request_duration_seconds",
		Help:    "Latency in seconds to handle HTTP requests",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)

// HTTPRequestsInFlight tracks requests currently being handled
var HTTPRequestsInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "authkit_http_requests_in_flight",
		Help: "Number of HTTP requests currently in flight",
	},
)

// AuthAttemptsTotal counts authentication attempts by outcome (success/failure)
var AuthAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authkit_auth_attempts_total",
		Help: "Total number of authentication attempts by outcome",
	},
	[]string{"outcome"},
)

// RateLimitRejections counts requests rejected by the rate limiter per class
var RateLimitRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authkit_rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter",
	},
	[]string{"class"},
)

// SessionsActive tracks the number of active sessions
var SessionsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "authkit_sessions_active",
		Help: "Number of currently active sessions",
	},
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authkit_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authkit_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authkit_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight)
	prometheus.MustRegister(AuthAttemptsTotal, RateLimitRejections, SessionsActive)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
