// Package dispatch implements the central orchestrator: a chain of
// interceptor stages that carries one envelope from ingress to a final
// forward-or-reject verdict, exactly the way the teacher's
// proxy.MessageInterceptor chain wraps IP/user rate limiting, auth, and
// audit around a passthrough core.
package dispatch

import (
	"context"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
	"github.com/IsaacHuo/agent-firewall/internal/domain/l1"
	"github.com/IsaacHuo/agent-firewall/internal/domain/l2"
	"github.com/IsaacHuo/agent-firewall/internal/domain/policy"
)

// Action is the terminal disposition of an envelope.
type Action string

const (
	ActionForward Action = "forward"
	ActionReject  Action = "reject"
)

// RejectCode is the JSON-RPC error code used when synthesizing a reject
// response at the terminal stage.
const RejectCode = -32001

// Verdict is the outcome of running one envelope through the chain. A
// stage sets it once a disposition is known; later stages may replace it
// (Escalation's human resolution replaces Policy's tentative ESCALATE).
type Verdict struct {
	Action        Action
	PolicyVerdict policy.Verdict
	Reason        string
	// HumanActor is the operator id that resolved an escalation, empty
	// otherwise.
	HumanActor string
	DecidedAt  time.Time
}

// RequestContext is the mutable record threaded through the interceptor
// chain for one envelope, playing the role the teacher's mcp.Message
// (with its attached Session) plays in the proxy chain.
type RequestContext struct {
	Env         *envelope.Envelope
	MethodClass envelope.MethodClass

	L1 l1.Finding
	L2 l2.Finding

	// ToolName is the "name" field of a tools/call request's params, empty
	// for every other method. Populated by Analysis so Policy can surface
	// it to CEL rules without re-parsing params.
	ToolName string

	Verdict *Verdict

	// ArrivalTime is stamped by the Validation stage for audit latency
	// accounting.
	ArrivalTime time.Time
}

// Decided reports whether a prior stage already produced a final
// disposition.
func (rc *RequestContext) Decided() bool {
	return rc.Verdict != nil
}

// Interceptor is one stage of the dispatch chain.
type Interceptor interface {
	Handle(ctx context.Context, rc *RequestContext) error
}
