package dispatch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/escalation"
	"github.com/IsaacHuo/agent-firewall/internal/domain/policy"
)

func TestEscalationInterceptor_SkipsNonEscalateVerdict(t *testing.T) {
	hub := escalation.NewHub(4)
	next := &recordingInterceptor{}
	e := NewEscalationInterceptor(hub, time.Second, next, slog.Default())

	rc := testEnv("tools/call")
	rc.Verdict = &Verdict{Action: ActionForward, PolicyVerdict: policy.Allow, Reason: "clean"}

	if err := e.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if rc.Verdict.Reason != "clean" {
		t.Error("non-escalate verdict must not be touched")
	}
}

func TestEscalationInterceptor_OperatorAllowOverridesVerdict(t *testing.T) {
	hub := escalation.NewHub(4)
	_, events := hub.RegisterOperator()
	next := &recordingInterceptor{}
	e := NewEscalationInterceptor(hub, time.Second, next, slog.Default())

	rc := testEnv("tools/call")
	rc.Verdict = &Verdict{Action: ActionReject, PolicyVerdict: policy.Escalate, Reason: "l1_high_uncertain"}

	done := make(chan error, 1)
	go func() { done <- e.Handle(context.Background(), rc) }()

	ev := <-events
	if err := hub.Respond(escalation.Response{RequestID: ev.RequestID, Action: escalation.ActionAllow, Operator: "op-1"}); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if rc.Verdict.Action != ActionForward || rc.Verdict.HumanActor != "op-1" {
		t.Errorf("Verdict = %+v, want forward with human actor op-1", rc.Verdict)
	}
	if !next.called {
		t.Fatal("next not called")
	}
}

func TestEscalationInterceptor_DeadlineResolvesBlock(t *testing.T) {
	hub := escalation.NewHub(4)
	next := &recordingInterceptor{}
	e := NewEscalationInterceptor(hub, 20*time.Millisecond, next, slog.Default())

	rc := testEnv("tools/call")
	rc.Verdict = &Verdict{Action: ActionReject, PolicyVerdict: policy.Escalate, Reason: "l1_high_uncertain"}

	if err := e.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if rc.Verdict.Action != ActionReject || rc.Verdict.Reason != "escalation_timeout" {
		t.Errorf("Verdict = %+v, want reject/escalation_timeout", rc.Verdict)
	}
}
