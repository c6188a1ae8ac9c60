package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal not initialized")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration not initialized")
	}
	if m.ActiveSessions == nil {
		t.Error("ActiveSessions not initialized")
	}
	if m.PolicyVerdicts == nil {
		t.Error("PolicyVerdicts not initialized")
	}
	if m.L2ClassifyTotal == nil {
		t.Error("L2ClassifyTotal not initialized")
	}
	if m.EscalationsTotal == nil {
		t.Error("EscalationsTotal not initialized")
	}
	if m.AuditDropsTotal == nil {
		t.Error("AuditDropsTotal not initialized")
	}
	if m.RateLimitRejected == nil {
		t.Error("RateLimitRejected not initialized")
	}
}

func TestRecorder_ObserveRequestAndVerdict(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := NewRecorder(m)

	r.ObserveRequest("tools/call", 0)
	count := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("tools/call"))
	if count != 1 {
		t.Errorf("RequestsTotal = %v, want 1", count)
	}

	r.ObserveVerdict("block")
	verdicts := testutil.ToFloat64(m.PolicyVerdicts.WithLabelValues("block"))
	if verdicts != 1 {
		t.Errorf("PolicyVerdicts = %v, want 1", verdicts)
	}
}

func TestRecorder_ObserveVerdictIgnoresEmpty(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := NewRecorder(m)

	r.ObserveVerdict("")

	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, mf := range gathered {
		if mf.GetName() == "agentfirewall_policy_verdicts_total" && len(mf.GetMetric()) != 0 {
			t.Error("expected no policy_verdicts_total series for an empty verdict")
		}
	}
}
