// Package telemetry provides observability primitives for the flightvars bridge.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the bridge.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
	ActiveStreams   prometheus.Gauge

	WorkersRunning   *prometheus.GaugeVec
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	PollsTotal       *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	ShutdownFailures *prometheus.CounterVec

	VarChanges         *prometheus.CounterVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	JournalQueueLength prometheus.Gauge
	JournalDropped     prometheus.Counter
	WebhookDeliveries  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flightvars",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "flightvars",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flightvars",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flightvars",
			Name:      "active_streams",
			Help:      "Number of open server-sent event streams.",
		}),

		WorkersRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flightvars",
			Name:      "workers_running",
			Help:      "Number of running actor workers.",
		}, []string{"worker"}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flightvars",
			Name:      "commands_total",
			Help:      "Total commands dispatched to actor handlers.",
		}, []string{"worker"}),

		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "flightvars",
			Name:                            "command_duration_seconds",
			Help:                            "Time spent inside handler command calls.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"worker"}),

		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flightvars",
			Name:      "polls_total",
			Help:      "Total idle polling ticks delivered to actor handlers.",
		}, []string{"worker"}),

		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flightvars",
			Name:      "delivery_failures_total",
			Help:      "Commands that could not be enqueued because the worker was gone.",
		}, []string{"worker"}),

		ShutdownFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flightvars",
			Name:      "shutdown_failures_total",
			Help:      "Failures observed while shutting down actor workers.",
		}, []string{"worker", "stage"}),

		VarChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flightvars",
			Name:      "var_changes_total",
			Help:      "Variable value changes detected by polling.",
		}, []string{"kind"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flightvars",
			Name:      "cache_hits_total",
			Help:      "Total value cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flightvars",
			Name:      "cache_misses_total",
			Help:      "Total value cache misses.",
		}),

		JournalQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flightvars",
			Name:      "journal_queue_length",
			Help:      "Current number of change events waiting to be journaled.",
		}),

		JournalDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flightvars",
			Name:      "journal_dropped_total",
			Help:      "Change events dropped because the journal queue was full.",
		}),

		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flightvars",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.ActiveStreams,
		m.WorkersRunning,
		m.CommandsTotal,
		m.CommandDuration,
		m.PollsTotal,
		m.DeliveryFailures,
		m.ShutdownFailures,
		m.VarChanges,
		m.CacheHits,
		m.CacheMisses,
		m.JournalQueueLength,
		m.JournalDropped,
		m.WebhookDeliveries,
	)

	return m
}
