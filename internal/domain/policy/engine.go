package policy

import (
	"context"
	"sort"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/l2"
	"github.com/IsaacHuo/agent-firewall/internal/domain/threat"
)

// Engine evaluates an EvaluationContext against an optional ordered set of
// CEL custom rules, falling back to the fixed decision table when no
// custom rule matches.
type Engine interface {
	Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error)
}

// RuleEvaluator compiles and runs a single Rule's CEL condition against an
// EvaluationContext. Implementations live in the outbound cel adapter.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, rule Rule, evalCtx EvaluationContext) (bool, error)
}

// engine is the default Engine: a priority-ordered custom-rule pre-pass
// in front of the fixed table.
type engine struct {
	rules     []Rule
	evaluator RuleEvaluator
}

// NewEngine builds an Engine from custom rules (sorted ascending by
// Priority) and the evaluator used to run their CEL conditions. A nil
// evaluator or empty rule set means every evaluation falls straight
// through to the fixed table.
func NewEngine(rules []Rule, evaluator RuleEvaluator) Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &engine{rules: sorted, evaluator: evaluator}
}

func (e *engine) Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error) {
	if e.evaluator != nil {
		for _, rule := range e.rules {
			matched, err := e.evaluator.Evaluate(ctx, rule, evalCtx)
			if err != nil {
				// A broken custom rule must not take the gateway down or
				// silently widen access: skip it and fall through to the
				// rules below, and ultimately the fixed table.
				continue
			}
			if matched {
				return Decision{
					Verdict:     rule.Verdict,
					Reason:      rule.Reason,
					MatchedRule: rule.Name,
					DecidedAt:   time.Now().UTC(),
				}, nil
			}
		}
	}

	verdict, reason := Decide(evalCtx.L1Level, evalCtx.L2Finding)
	return Decision{Verdict: verdict, Reason: reason, DecidedAt: time.Now().UTC()}, nil
}

// Decide applies the fixed L1/L2 decision table. It is pure and
// side-effect free so it can be tested exhaustively without any CEL or
// network dependency. unknown L2 findings never trigger BLOCK on their
// own: confidence comparisons are inclusive at the lower bound.
func Decide(l1Level threat.Level, finding l2.Finding) (Verdict, string) {
	injected := finding.IsInjection == l2.InjectionYes
	conf := finding.Confidence

	switch l1Level {
	case threat.Critical:
		return Block, "l1_critical"

	case threat.High:
		switch {
		case injected && conf >= 0.7:
			return Block, "l1_high_l2_injection"
		default:
			return Escalate, "l1_high_uncertain"
		}

	case threat.Medium:
		switch {
		case injected && conf >= 0.8:
			return Block, "l1_medium_l2_injection"
		case injected:
			return Escalate, "l1_medium_l2_low_confidence"
		default:
			return Allow, "l1_medium_no_injection"
		}

	default: // threat.Low, threat.None
		switch {
		case injected && conf >= 0.9:
			return Block, "l2_high_confidence_injection"
		case injected && conf >= 0.7:
			return Escalate, "l2_uncertain_injection"
		default:
			return Allow, "clean"
		}
	}
}
