package trigger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks webhook deliveries and run outcomes.
type Metrics struct {
	DeliveriesReceived prometheus.Counter
	DeliveriesRejected *prometheus.CounterVec
	RunsStarted        prometheus.Counter
	RunsSucceeded      prometheus.Counter
	RunsFailed         prometheus.Counter
	RunDuration        prometheus.Histogram
	QueueDepth         prometheus.Gauge
}

// NewMetrics builds and registers the listener metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DeliveriesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conveyor",
			Subsystem: "webhook",
			Name:      "deliveries_received_total",
			Help:      "Webhook deliveries accepted for processing.",
		}),
		DeliveriesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conveyor",
			Subsystem: "webhook",
			Name:      "deliveries_rejected_total",
			Help:      "Webhook deliveries rejected, by reason.",
		}, []string{"reason"}),
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conveyor",
			Subsystem: "runs",
			Name:      "started_total",
			Help:      "Pipeline runs started by the worker.",
		}),
		RunsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conveyor",
			Subsystem: "runs",
			Name:      "succeeded_total",
			Help:      "Pipeline runs that finished successfully.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conveyor",
			Subsystem: "runs",
			Name:      "failed_total",
			Help:      "Pipeline runs that failed or timed out.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conveyor",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conveyor",
			Subsystem: "webhook",
			Name:      "queue_depth",
			Help:      "Pending run requests in the trigger queue.",
		}),
	}

	reg.MustRegister(
		m.DeliveriesReceived,
		m.DeliveriesRejected,
		m.RunsStarted,
		m.RunsSucceeded,
		m.RunsFailed,
		m.RunDuration,
		m.QueueDepth,
	)
	return m
}
