package runner

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the runner's Prometheus instruments.
type Metrics struct {
	Passes        *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Failures      prometheus.Counter
	Notifications prometheus.Counter
	Duration      prometheus.Histogram
}

// NewMetrics creates the runner metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refi_runner_passes_total",
				Help: "Evaluation passes by result.",
			},
			[]string{"result"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refi_alert_transitions_total",
				Help: "Persisted alert state transitions.",
			},
			[]string{"from", "to"},
		),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refi_alert_evaluation_failures_total",
			Help: "Alerts that could not be evaluated.",
		}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refi_notifications_sent_total",
			Help: "Notifications delivered to the webhook.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "refi_runner_pass_duration_seconds",
			Help:    "Wall time of an evaluation pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Passes, m.Transitions, m.Failures, m.Notifications, m.Duration)
	return m
}
