// Package metrics wires the mapping orchestrator's counters and gauges into
// prometheus/client_golang, exposed over /metrics the way dep2p and
// zombar-tunnelmesh both expose their own instrumentation endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's instrumentation. Safe for concurrent use
// — every field is a prometheus collector, which are themselves
// concurrency-safe.
type Metrics struct {
	ActiveMappings   prometheus.Gauge
	ProtocolAttempts *prometheus.CounterVec
	ProtocolSuccess  *prometheus.CounterVec
	ProbeDuration    *prometheus.HistogramVec
}

// New registers and returns a fresh Metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveMappings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portkeeper",
			Name:      "active_mappings",
			Help:      "Number of port mappings currently tracked in the registry.",
		}),
		ProtocolAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portkeeper",
			Name:      "protocol_attempts_total",
			Help:      "Number of add/delete attempts per protocol.",
		}, []string{"protocol", "operation"}),
		ProtocolSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portkeeper",
			Name:      "protocol_success_total",
			Help:      "Number of successful add/delete attempts per protocol.",
		}, []string{"protocol", "operation"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portkeeper",
			Name:      "probe_duration_seconds",
			Help:      "Duration of protocol-support probes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol"}),
	}
	reg.MustRegister(m.ActiveMappings, m.ProtocolAttempts, m.ProtocolSuccess, m.ProbeDuration)
	return m
}
