// Package metrics provides Prometheus metrics for the indexing pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name
const Namespace = "nodequeue"

// Metrics holds all Prometheus metrics of the indexer.
type Metrics struct {
	// Queue metrics
	JobsEnqueued *prometheus.CounterVec
	JobsExecuted *prometheus.CounterVec
	QueueJobs    *prometheus.GaugeVec

	// Index metrics
	NodesIndexed prometheus.Counter
	NodesRemoved prometheus.Counter
	NodesSkipped *prometheus.CounterVec

	// Throughput
	IndexThroughput prometheus.Gauge

	// Incremental producer
	Watermark prometheus.Gauge

	registry prometheus.Gatherer
}

// New registers the metrics with reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_enqueued_total",
				Help:      "Total number of jobs submitted to a queue",
			},
			[]string{"queue", "type"},
		),
		JobsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_executed_total",
				Help:      "Total number of job executions by result",
			},
			[]string{"queue", "result"},
		),
		QueueJobs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "queue_jobs",
				Help:      "Jobs per queue and state at the last status check",
			},
			[]string{"queue", "state"},
		),
		NodesIndexed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "nodes_indexed_total",
				Help:      "Total number of nodes written to the search index",
			},
		),
		NodesRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "nodes_removed_total",
				Help:      "Total number of node documents removed from the search index",
			},
		),
		NodesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "nodes_skipped_total",
				Help:      "Total number of nodes skipped during execution or change detection",
			},
			[]string{"reason"},
		),
		IndexThroughput: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "index_throughput_nodes_per_second",
				Help:      "Nodes per second of the last executed index job",
			},
		),
		Watermark: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "watermark_unix_seconds",
				Help:      "Last checked timestamp of the incremental producer",
			},
		),
		registry: reg,
	}
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncJobsEnqueued counts a submitted job.
func (m *Metrics) IncJobsEnqueued(queue, jobType string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(queue, jobType).Inc()
}

// IncJobsExecuted counts an execution with result "success" or "failure".
func (m *Metrics) IncJobsExecuted(queue, result string) {
	if m == nil {
		return
	}
	m.JobsExecuted.WithLabelValues(queue, result).Inc()
}

// SetQueueJobs records the per-state counts of a queue.
func (m *Metrics) SetQueueJobs(queue string, ready, reserved, failed int) {
	if m == nil {
		return
	}
	m.QueueJobs.WithLabelValues(queue, "ready").Set(float64(ready))
	m.QueueJobs.WithLabelValues(queue, "reserved").Set(float64(reserved))
	m.QueueJobs.WithLabelValues(queue, "failed").Set(float64(failed))
}

// AddNodesIndexed adds to the indexed node counter.
func (m *Metrics) AddNodesIndexed(n int) {
	if m == nil {
		return
	}
	m.NodesIndexed.Add(float64(n))
}

// AddNodesRemoved adds to the removed node counter.
func (m *Metrics) AddNodesRemoved(n int) {
	if m == nil {
		return
	}
	m.NodesRemoved.Add(float64(n))
}

// IncNodesSkipped counts a skipped node.
func (m *Metrics) IncNodesSkipped(reason string) {
	if m == nil {
		return
	}
	m.NodesSkipped.WithLabelValues(reason).Inc()
}

// SetIndexThroughput sets the current processing rate.
func (m *Metrics) SetIndexThroughput(rate float64) {
	if m == nil {
		return
	}
	m.IndexThroughput.Set(rate)
}

// SetWatermark records the watermark as unix seconds.
func (m *Metrics) SetWatermark(unixSeconds float64) {
	if m == nil {
		return
	}
	m.Watermark.Set(unixSeconds)
}
