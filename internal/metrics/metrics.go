// Package metrics exposes Prometheus instruments for the dispatch pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

type Metrics struct {
	outcomes       *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	auditFailures  prometheus.Counter
}

// New registers the dispatch instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "outcomes_total",
			Help:      "Dispatches by terminal state.",
		}, []string{"state"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "gateway_send_seconds",
			Help:      "Latency of gateway send calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "audit_write_failures_total",
			Help:      "Audit log writes that failed after a committed send.",
		}),
	}
	reg.MustRegister(m.outcomes, m.gatewayLatency, m.auditFailures)
	return m
}

// Nil-safe so callers that run without metrics need no branches.

func (m *Metrics) ObserveOutcome(state dispatch.State) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) ObserveGateway(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayLatency.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// Outcomes exposes the outcome counter for tests and dashboards.
func (m *Metrics) Outcomes() *prometheus.CounterVec { return m.outcomes }
