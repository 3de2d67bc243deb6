package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessiond_sessions_total",
			Help: "Number of sessions by lifecycle status",
		},
		[]string{"status"},
	)

	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessiond_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsTerminated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessiond_sessions_terminated_total",
			Help: "Total number of sessions terminated",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_api_requests_total",
			Help: "Total number of API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessiond_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)

	// Chat routing metrics
	ChatMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_chat_messages_total",
			Help: "Total number of chat messages by outcome (processed or queued)",
		},
		[]string{"outcome"},
	)

	// Backup metrics
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_backups_total",
			Help: "Total number of pre-termination backups by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SessionsCreated)
	prometheus.MustRegister(SessionsTerminated)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(ChatMessages)
	prometheus.MustRegister(BackupsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
