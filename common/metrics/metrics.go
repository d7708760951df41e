// Package metrics exposes the scheduler and journal's Prometheus
// instrumentation, following the source repo's posture of capturing
// lifecycle timings around node execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the engine's Prometheus collectors. A process wires one
// instance and passes it to the scheduler/journal constructors.
type Registry struct {
	NodeDuration     *prometheus.HistogramVec
	NodeResult       *prometheus.CounterVec
	ReadySetSize     prometheus.Histogram
	ActiveExecutions prometheus.Gauge
	JournalAppends   prometheus.Counter
}

// NewRegistry creates and registers the engine's collectors against reg.
// Pass prometheus.NewRegistry() in tests to avoid polluting the default
// registry; pass prometheus.DefaultRegisterer in production.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workflow_node_duration_seconds",
			Help:    "Duration of a single node execution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_type"}),
		NodeResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_node_result_total",
			Help: "Count of node executions by terminal status.",
		}, []string{"node_type", "status"}),
		ReadySetSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workflow_ready_set_size",
			Help:    "Number of nodes dispatched per scheduler iteration.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workflow_active_executions",
			Help: "Number of executions currently running.",
		}),
		JournalAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_journal_appends_total",
			Help: "Count of event records appended to the journal.",
		}),
	}

	reg.MustRegister(m.NodeDuration, m.NodeResult, m.ReadySetSize, m.ActiveExecutions, m.JournalAppends)
	return m
}

// Noop returns a Registry that is wired to a private, never-observed
// registry — used where the caller does not care about metrics (tests).
func Noop() *Registry {
	return NewRegistry(prometheus.NewRegistry())
}

// ObserveNode records one node's terminal outcome and wall time.
func (m *Registry) ObserveNode(nodeType, status string, started time.Time) {
	if m == nil {
		return
	}
	m.NodeDuration.WithLabelValues(nodeType).Observe(time.Since(started).Seconds())
	m.NodeResult.WithLabelValues(nodeType, status).Inc()
}
