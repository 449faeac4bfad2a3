// Package metrics defines the Prometheus collectors recorded by the
// executor. Collectors are registered on a caller-supplied registry so tests
// and multiple app instances do not share global state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Node outcome labels.
const (
	StatusDone    = "done"
	StatusCached  = "cached"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Metrics groups the executor's collectors.
type Metrics struct {
	NodesTotal   *prometheus.CounterVec
	NodeDuration *prometheus.HistogramVec
	RunsTotal    *prometheus.CounterVec
	BusyWorkers  prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "levelflow_nodes_total",
			Help: "Node instances processed, by runner type and outcome.",
		}, []string{"workflow", "runner", "status"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "levelflow_node_duration_seconds",
			Help:    "Wall time of node handler calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"workflow", "runner"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "levelflow_workflow_runs_total",
			Help: "Workflow runs, by outcome.",
		}, []string{"workflow", "status"}),
		BusyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "levelflow_busy_workers",
			Help: "Workers currently executing a node.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.NodesTotal, m.NodeDuration, m.RunsTotal, m.BusyWorkers)
	}
	return m
}

// ObserveNode records one node outcome.
func (m *Metrics) ObserveNode(workflow, runner, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.NodesTotal.WithLabelValues(workflow, runner, status).Inc()
	if status == StatusDone || status == StatusFailed {
		m.NodeDuration.WithLabelValues(workflow, runner).Observe(elapsed.Seconds())
	}
}

// ObserveRun records one workflow outcome.
func (m *Metrics) ObserveRun(workflow string, err error) {
	if m == nil {
		return
	}
	status := StatusDone
	if err != nil {
		status = StatusFailed
	}
	m.RunsTotal.WithLabelValues(workflow, status).Inc()
}

// WorkerBusy adjusts the busy worker gauge by delta.
func (m *Metrics) WorkerBusy(delta float64) {
	if m == nil {
		return
	}
	m.BusyWorkers.Add(delta)
}
