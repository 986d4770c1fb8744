package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec

	// WebhookEvents counts inbound events by type and disposition
	// (processed, duplicate, stale, invalid, retryable).
	WebhookEvents *prometheus.CounterVec

	DialAttempts     *prometheus.CounterVec
	PaymentDecisions *prometheus.CounterVec

	BillingSeconds prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions not yet in a terminal state.",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Call sessions created.",
		}),
		SessionsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Call sessions reaching a terminal state, by status.",
		}, []string{"status"}),
		WebhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound telephony webhook events by type and disposition.",
		}, []string{"type", "disposition"}),
		DialAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_attempts_total",
			Help:      "Outbound leg attempts by role.",
		}, []string{"role"}),
		PaymentDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_decisions_total",
			Help:      "Exactly-once payment decisions by outcome.",
		}, []string{"decision"}),
		BillingSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "billing_seconds",
			Help:      "Billable overlap duration per completed session in seconds.",
			Buckets:   []float64{0, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
