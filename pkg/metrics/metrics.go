package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Enrollment metrics
	EnrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_enrollments_total",
			Help: "Total number of enrollment attempts by outcome",
		},
		[]string{"outcome"},
	)

	AgentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_agents_total",
			Help: "Number of live agents in the keystore",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_client_queue_depth",
			Help: "Accepted connections waiting for the dispatcher",
		},
	)

	QueueDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_client_queue_drops_total",
			Help: "Connections rejected because the client queue was full",
		},
	)

	// Writer metrics
	FlushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_keystore_flushes_total",
			Help: "Total number of keystore flushes",
		},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_keystore_flush_duration_seconds",
			Help:    "Keystore flush duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_keystore_flush_errors_total",
			Help: "Flush failures by stage (keys, timestamps, database)",
		},
		[]string{"stage"},
	)

	// TLS metrics
	HandshakeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_tls_handshake_errors_total",
			Help: "Failed TLS handshakes on the enrollment port",
		},
	)
)

// Enrollment outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeReused    = "reused"
	OutcomeRejected  = "rejected"
	OutcomeForwarded = "forwarded"
	OutcomeError     = "error"
)

// Register registers all metrics with the default registry
func Register() {
	prometheus.MustRegister(
		EnrollmentsTotal,
		AgentsTotal,
		QueueDepth,
		QueueDropsTotal,
		FlushesTotal,
		FlushDuration,
		FlushErrorsTotal,
		HandshakeErrorsTotal,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
