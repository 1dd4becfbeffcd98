package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hydroalert"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingestion pipeline.
type Metrics struct {
	ReadingsReceived *prometheus.CounterVec // labels: source={http,kafka,mqtt}
	ReadingsRejected prometheus.Counter
	ReadingsAccepted prometheus.Counter
	IngestDuration   prometheus.Histogram
	StoreErrors      *prometheus.CounterVec // labels: op

	// Window processing metrics.
	WindowsAggregated   prometheus.Counter
	AggregationFailures prometheus.Counter
	PendingAggregates   prometheus.Gauge
	ActiveLanes         prometheus.Gauge

	// Alerting metrics.
	NotificationsEmitted    *prometheus.CounterVec // labels: severity, reason
	NotificationsSuppressed prometheus.Counter
	Predictions             *prometheus.CounterVec // labels: outcome={emitted,none,error}

	// Fan-out metrics.
	DispatchDropped prometheus.Counter
	DispatchErrors  *prometheus.CounterVec // labels: task

	StaleSwept    prometheus.Counter
	PolicyReloads *prometheus.CounterVec // labels: outcome={applied,rejected}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ReadingsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_received_total",
			Help:      "Raw readings received by source.",
		}, []string{"source"}),
		ReadingsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Readings rejected by the noise filter.",
		}),
		ReadingsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_accepted_total",
			Help:      "Readings accepted into a sliding window.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of the synchronous part of an ingest call.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3},
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Persistence failures by operation.",
		}, []string{"op"}),
		WindowsAggregated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_aggregated_total",
			Help:      "Completed windows persisted as aggregated readings.",
		}),
		AggregationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_failures_total",
			Help:      "Window jobs that failed with an invariant violation or exhausted retries.",
		}),
		PendingAggregates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_aggregates",
			Help:      "Aggregated readings waiting to be persisted after a store failure.",
		}),
		ActiveLanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_lanes",
			Help:      "Devices with window jobs queued or running.",
		}),
		NotificationsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_emitted_total",
			Help:      "Alerts emitted by severity and gate reason.",
		}, []string{"severity", "reason"}),
		NotificationsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_suppressed_total",
			Help:      "Alerts suppressed by the cooldown gate.",
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Trend prediction attempts by outcome.",
		}, []string{"outcome"}),
		DispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dropped_total",
			Help:      "Fire-and-forget tasks dropped because the dispatch queue was full.",
		}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Failed publish and notify tasks.",
		}, []string{"task"}),
		StaleSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_statuses_swept_total",
			Help:      "Latest-status entries removed by the stale sweeper.",
		}),
		PolicyReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_reloads_total",
			Help:      "Deployment policy reload attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReadingsReceived,
		m.ReadingsRejected,
		m.ReadingsAccepted,
		m.IngestDuration,
		m.StoreErrors,
		m.WindowsAggregated,
		m.AggregationFailures,
		m.PendingAggregates,
		m.ActiveLanes,
		m.NotificationsEmitted,
		m.NotificationsSuppressed,
		m.Predictions,
		m.DispatchDropped,
		m.DispatchErrors,
		m.StaleSwept,
		m.PolicyReloads,
	}
}
