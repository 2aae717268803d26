package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core pipeline metrics every deployment exports.
type Metrics struct {
	// Event pipeline
	EventsReceived  *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	EventDuration   *prometheus.HistogramVec
	DuplicatesTotal prometheus.Counter

	// Flow execution
	ExecutionsTotal   *prometheus.CounterVec
	NodeExecutions    *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Provider calls
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	// NATS
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates all core pipeline metrics, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "swoopin",
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Events received, by trigger type and source",
			},
			[]string{"trigger", "source"},
		),
		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "swoopin",
				Subsystem: "events",
				Name:      "processed_total",
				Help:      "Events processed, by trigger type and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		EventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "swoopin",
				Subsystem: "events",
				Name:      "duration_seconds",
				Help:      "End-to-end event processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		DuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swoopin",
				Subsystem: "events",
				Name:      "duplicates_total",
				Help:      "Events dropped as duplicates",
			},
		),
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "swoopin",
				Subsystem: "flow",
				Name:      "executions_total",
				Help:      "Flow executions, by status",
			},
			[]string{"status"},
		),
		NodeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "swoopin",
				Subsystem: "flow",
				Name:      "node_executions_total",
				Help:      "Node executions, by subtype and status",
			},
			[]string{"subtype", "status"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "swoopin",
				Subsystem: "flow",
				Name:      "execution_duration_seconds",
				Help:      "Flow execution duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
			[]string{"status"},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "swoopin",
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Outbound provider calls, by provider, operation and status",
			},
			[]string{"provider", "operation", "status"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "swoopin",
				Subsystem: "provider",
				Name:      "call_duration_seconds",
				Help:      "Outbound provider call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "swoopin",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swoopin",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "NATS reconnections",
			},
		),
	}
}

func (m *Metrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.EventsReceived,
		m.EventsProcessed,
		m.EventDuration,
		m.DuplicatesTotal,
		m.ExecutionsTotal,
		m.NodeExecutions,
		m.ExecutionDuration,
		m.ProviderCalls,
		m.ProviderDuration,
		m.NATSConnected,
		m.NATSReconnects,
	)
}

// RecordEventReceived counts one received event.
func (m *Metrics) RecordEventReceived(trigger, source string) {
	m.EventsReceived.WithLabelValues(trigger, source).Inc()
}

// RecordEventProcessed counts one processed event with its outcome.
func (m *Metrics) RecordEventProcessed(trigger, outcome string, duration time.Duration) {
	m.EventsProcessed.WithLabelValues(trigger, outcome).Inc()
	m.EventDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordDuplicate counts one dropped duplicate.
func (m *Metrics) RecordDuplicate() {
	m.DuplicatesTotal.Inc()
}

// RecordExecution counts one flow execution.
func (m *Metrics) RecordExecution(status string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	m.ExecutionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNodeExecution counts one node execution.
func (m *Metrics) RecordNodeExecution(subtype, status string) {
	m.NodeExecutions.WithLabelValues(subtype, status).Inc()
}

// RecordProviderCall counts one outbound provider call.
func (m *Metrics) RecordProviderCall(provider, operation, status string, duration time.Duration) {
	m.ProviderCalls.WithLabelValues(provider, operation, status).Inc()
	m.ProviderDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordNATSStatus sets the NATS connection gauge.
func (m *Metrics) RecordNATSStatus(connected bool) {
	if connected {
		m.NATSConnected.Set(1)
	} else {
		m.NATSConnected.Set(0)
	}
}

// RecordNATSReconnect counts one NATS reconnection.
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}
