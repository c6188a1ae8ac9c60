package dispatch

import (
	"context"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
	"github.com/IsaacHuo/agent-firewall/internal/domain/policy"
)

// ValidationInterceptor classifies the envelope's method and, for safe
// methods, short-circuits the rest of the chain to a tentative ALLOW —
// the Analysis, Policy, and Escalation stages skip their own work once
// Decided() is true, but SessionObserve and Audit still run.
//
// Position in chain: first. Structural JSON-RPC validation (parse
// errors, unknown methods) happens earlier, at the transport boundary,
// before an envelope is even constructed — see
// internal/domain/validation.
type ValidationInterceptor struct {
	next Interceptor
}

// NewValidationInterceptor creates a ValidationInterceptor.
func NewValidationInterceptor(next Interceptor) *ValidationInterceptor {
	return &ValidationInterceptor{next: next}
}

// Handle classifies rc.Env.Method and passes to the next stage.
func (v *ValidationInterceptor) Handle(ctx context.Context, rc *RequestContext) error {
	rc.ArrivalTime = time.Now()
	rc.MethodClass = envelope.ClassifyMethod(rc.Env.Method)

	if rc.MethodClass == envelope.Safe {
		rc.Verdict = &Verdict{Action: ActionForward, PolicyVerdict: policy.Allow, Reason: "safe_method", DecidedAt: rc.ArrivalTime}
	}

	return v.next.Handle(ctx, rc)
}

var _ Interceptor = (*ValidationInterceptor)(nil)
