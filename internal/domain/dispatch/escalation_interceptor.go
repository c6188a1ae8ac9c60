package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/escalation"
	"github.com/IsaacHuo/agent-firewall/internal/domain/policy"
)

// EscalationInterceptor hands an ESCALATE verdict off to the escalation
// hub and replaces it with the human resolution. The original L1/L2
// findings on rc are untouched — only rc.Verdict.Action/PolicyVerdict/
// Reason/HumanActor/DecidedAt change, so the audit record can show both
// the machine findings and the human override.
//
// Position in chain: after Policy, before Audit.
type EscalationInterceptor struct {
	hub      *escalation.Hub
	deadline time.Duration
	next     Interceptor
	logger   *slog.Logger
}

// NewEscalationInterceptor creates an EscalationInterceptor. deadline
// defaults to escalation.DefaultDeadline when <= 0.
func NewEscalationInterceptor(hub *escalation.Hub, deadline time.Duration, next Interceptor, logger *slog.Logger) *EscalationInterceptor {
	if deadline <= 0 {
		deadline = escalation.DefaultDeadline
	}
	return &EscalationInterceptor{hub: hub, deadline: deadline, next: next, logger: logger}
}

// Handle waits on the escalation hub when rc's policy verdict is
// ESCALATE, and overwrites rc.Verdict with the hub's resolution.
func (e *EscalationInterceptor) Handle(ctx context.Context, rc *RequestContext) error {
	if rc.Verdict == nil || rc.Verdict.PolicyVerdict != policy.Escalate {
		return e.next.Handle(ctx, rc)
	}

	event := escalation.Event{
		RequestID: rc.Env.RequestID,
		SessionID: rc.Env.SessionID,
		AgentID:   rc.Env.AgentID,
		Method:    rc.Env.Method,
		L1Level:   string(rc.L1.Level),
		L1Patterns: rc.L1.Patterns,
		Reason:    rc.Verdict.Reason,
		CreatedAt: time.Now(),
	}

	resolution, err := e.hub.Await(ctx, event, e.deadline)
	if err != nil {
		e.logger.Warn("escalation wait abandoned", "request_id", rc.Env.RequestID, "error", err)
		rc.Verdict.Action = ActionReject
		rc.Verdict.PolicyVerdict = policy.Block
		rc.Verdict.Reason = "escalation_abandoned"
		return e.next.Handle(ctx, rc)
	}

	action := ActionReject
	policyVerdict := policy.Block
	if resolution.Action == escalation.ActionAllow {
		action = ActionForward
		policyVerdict = policy.Allow
	}

	rc.Verdict.Action = action
	rc.Verdict.PolicyVerdict = policyVerdict
	rc.Verdict.Reason = resolution.Reason
	rc.Verdict.HumanActor = resolution.Operator
	rc.Verdict.DecidedAt = time.Now()

	return e.next.Handle(ctx, rc)
}

var _ Interceptor = (*EscalationInterceptor)(nil)
