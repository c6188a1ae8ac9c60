// Package telemetry wires the ambient observability surface: Prometheus
// metrics served over HTTP and OpenTelemetry stdout exporters for traces
// and metrics, used in development and for operators without a
// dedicated collector.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the gateway records.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveSessions    prometheus.Gauge
	PolicyVerdicts    *prometheus.CounterVec
	L2ClassifyTotal   *prometheus.CounterVec
	EscalationsTotal  *prometheus.CounterVec
	AuditDropsTotal   prometheus.Counter
	RateLimitRejected *prometheus.CounterVec
}

// NewMetrics creates and registers every metric with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentfirewall",
				Name:      "requests_total",
				Help:      "Total number of MCP requests dispatched",
			},
			[]string{"method"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentfirewall",
				Name:      "request_duration_seconds",
				Help:      "End-to-end dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentfirewall",
				Name:      "active_sessions",
				Help:      "Number of sessions currently tracked",
			},
		),
		PolicyVerdicts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentfirewall",
				Name:      "policy_verdicts_total",
				Help:      "Total policy verdicts by outcome",
			},
			[]string{"verdict"}, // allow/block/escalate
		),
		L2ClassifyTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentfirewall",
				Name:      "l2_classify_total",
				Help:      "Total L2 semantic classification calls by outcome",
			},
			[]string{"result"}, // yes/no/unknown/timeout
		),
		EscalationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentfirewall",
				Name:      "escalations_total",
				Help:      "Total escalations by resolution",
			},
			[]string{"resolution"}, // allow/block/timeout
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentfirewall",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
		RateLimitRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentfirewall",
				Name:      "rate_limit_rejected_total",
				Help:      "Total requests rejected by the rate limiter",
			},
			[]string{"scope"}, // session/agent
		),
	}
}
