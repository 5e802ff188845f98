// metrics.go - Prometheus metrics for the shielded-pool daemon
package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shieldpool/internal/orchestrator"
	"shieldpool/internal/pool"
)

const metricsNamespace = "shieldpool"

// Metrics implements orchestrator.Observer on a private registry.
type Metrics struct {
	registry   *prometheus.Registry
	stages     *prometheus.CounterVec
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	setupTime  prometheus.Histogram
}

var _ orchestrator.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stage_entered_total",
			Help:      "Operation stages entered, by kind and stage.",
		}, []string{"kind", "stage"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Finished operations, by kind and outcome category.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of finished operations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"kind"}),
		setupTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_setup_seconds",
			Help:      "Time spent compiling circuits and loading or generating keys.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	m.registry.MustRegister(m.stages, m.operations, m.duration, m.setupTime)
	return m
}

// StageEntered implements orchestrator.Observer.
func (m *Metrics) StageEntered(op orchestrator.Operation, stage orchestrator.Stage) {
	m.stages.WithLabelValues(string(op.Kind), string(stage)).Inc()
}

// OperationFinished implements orchestrator.Observer.
func (m *Metrics) OperationFinished(op orchestrator.Operation, err error, elapsed time.Duration) {
	outcome := "confirmed"
	if err != nil {
		outcome = orchestrator.CategoryOf(err).String()
	}
	m.operations.WithLabelValues(string(op.Kind), outcome).Inc()
	m.duration.WithLabelValues(string(op.Kind)).Observe(elapsed.Seconds())
}

// RecordCircuitSetup records how long prover initialisation took.
func (m *Metrics) RecordCircuitSetup(d time.Duration) {
	m.setupTime.Observe(d.Seconds())
}

// WatchPool exports pool status as gauges read at scrape time.
func (m *Metrics) WatchPool(p *pool.Pool) {
	gauge := func(name, help string, read func(pool.Status) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(p.Status()) })
	}
	m.registry.MustRegister(
		gauge("balance", "Total shielded value held by the pool.", func(s pool.Status) float64 { return float64(s.Balance) }),
		gauge("leaves", "Leaves appended to the pool tree.", func(s pool.Status) float64 { return float64(s.LeafCount) }),
		gauge("rejected", "Submissions rejected by the pool.", func(s pool.Status) float64 { return float64(s.Stats.Rejected) }),
		gauge("paused", "1 while the pool is paused.", func(s pool.Status) float64 {
			if s.Paused {
				return 1
			}
			return 0
		}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
