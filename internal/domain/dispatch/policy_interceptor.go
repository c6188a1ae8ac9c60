package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/policy"
)

// PolicyInterceptor applies the policy engine to the L1/L2 findings
// gathered by Analysis, producing a tentative Verdict. An ESCALATE
// decision is not yet terminal: the Escalation stage replaces it with
// the human resolution, but Reason/PolicyVerdict stay attached to the
// original decision until then.
//
// Position in chain: after Analysis, before Escalation.
type PolicyInterceptor struct {
	engine policy.Engine
	next   Interceptor
	logger *slog.Logger
}

// NewPolicyInterceptor creates a PolicyInterceptor.
func NewPolicyInterceptor(engine policy.Engine, next Interceptor, logger *slog.Logger) *PolicyInterceptor {
	return &PolicyInterceptor{engine: engine, next: next, logger: logger}
}

// Handle evaluates rc's L1/L2 findings through the policy engine, unless
// a prior stage already decided the request.
func (p *PolicyInterceptor) Handle(ctx context.Context, rc *RequestContext) error {
	if rc.Decided() {
		return p.next.Handle(ctx, rc)
	}

	evalCtx := policy.EvaluationContext{
		Method:      rc.Env.Method,
		MethodClass: rc.MethodClass,
		ToolName:    rc.ToolName,
		SessionID:   rc.Env.SessionID,
		AgentID:     rc.Env.AgentID,
		RequestTime: rc.ArrivalTime,
		L1Level:     rc.L1.Level,
		L1Patterns:  rc.L1.Patterns,
		L2Finding:   rc.L2,
	}

	decision, err := p.engine.Evaluate(ctx, evalCtx)
	if err != nil {
		p.logger.Error("policy evaluation failed, failing open", "session_id", rc.Env.SessionID, "error", err)
		rc.Verdict = &Verdict{Action: ActionForward, PolicyVerdict: policy.Allow, Reason: "policy_error_fail_open", DecidedAt: time.Now()}
		return p.next.Handle(ctx, rc)
	}

	action := ActionForward
	if decision.Verdict == policy.Block {
		action = ActionReject
	} else if decision.Verdict == policy.Escalate {
		// Tentative: Escalation resolves the final Action.
		action = ActionReject
	}

	rc.Verdict = &Verdict{
		Action:        action,
		PolicyVerdict: decision.Verdict,
		Reason:        decision.Reason,
		DecidedAt:     decision.DecidedAt,
	}

	return p.next.Handle(ctx, rc)
}

var _ Interceptor = (*PolicyInterceptor)(nil)
