package policy

import (
	"context"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
	"github.com/IsaacHuo/agent-firewall/internal/domain/l2"
	"github.com/IsaacHuo/agent-firewall/internal/domain/threat"
)

// EvaluationContext is the full set of inputs to one policy evaluation:
// the fixed table's three inputs (method class, L1 level, L2 finding) plus
// the CEL-visible variables custom rules may reference.
type EvaluationContext struct {
	Method      string
	MethodClass envelope.MethodClass
	ToolName    string
	SessionID   string
	AgentID     string
	RequestTime time.Time

	L1Level    threat.Level
	L1Patterns []string

	L2Finding l2.Finding
}

// policyDecisionKey is the context key type for policy decisions.
type policyDecisionKey struct{}

// WithDecision stores a policy decision in the context. No stage of the
// current dispatch chain calls it or DecisionFromContext; the stages share
// the verdict through the RequestContext instead.
func WithDecision(ctx context.Context, d *Decision) context.Context {
	return context.WithValue(ctx, policyDecisionKey{}, d)
}

// DecisionFromContext retrieves a policy decision from the context.
// Returns nil if no decision is stored.
func DecisionFromContext(ctx context.Context) *Decision {
	d, _ := ctx.Value(policyDecisionKey{}).(*Decision)
	return d
}
