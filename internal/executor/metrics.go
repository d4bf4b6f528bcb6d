package executor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the execution-lifecycle counters/gauges, registered on a
// Prometheus Registerer only when NewMetrics is given a non-nil one; no
// configuration key turns this on. Nil-safe: every method on a nil
// *Metrics is a no-op, so variants can hold one unconditionally and only
// pay for registration when a caller actually wants metrics.
type Metrics struct {
	submitted prometheus.Counter
	succeeded prometheus.Counter
	failed    prometheus.Counter
	running   prometheus.Gauge
}

// NewMetrics constructs and registers the execution-lifecycle metrics
// against reg. Pass nil to get an unregistered Metrics whose values are
// counted but never exposed; every variant in this repository passes nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreeval_executions_submitted_total",
			Help: "Total Executions submitted to an executor variant.",
		}),
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreeval_executions_succeeded_total",
			Help: "Total Executions that reached status succeeded.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreeval_executions_failed_total",
			Help: "Total Executions that reached status failed.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coreeval_executions_running",
			Help: "Executions currently in status running on this process.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.submitted, m.succeeded, m.failed, m.running)
	}

	return m
}

// ObserveSubmitted records one Job handed to Submit. Exported because every
// variant subpackage calls it from its own Submit implementation.
func (m *Metrics) ObserveSubmitted() {
	if m == nil {
		return
	}

	m.submitted.Inc()
}

func (m *Metrics) incRunning() {
	if m == nil {
		return
	}

	m.running.Inc()
}

func (m *Metrics) decRunning() {
	if m == nil {
		return
	}

	m.running.Dec()
}

func (m *Metrics) incSucceeded() {
	if m == nil {
		return
	}

	m.succeeded.Inc()
}

func (m *Metrics) incFailed() {
	if m == nil {
		return
	}

	m.failed.Inc()
}
