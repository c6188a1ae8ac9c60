// Package policy implements the fixed decision table that turns L1/L2
// findings into a verdict, plus an optional CEL custom-rule pre-pass that
// can short-circuit the table.
package policy

import "time"

// Verdict is the three-way outcome of policy evaluation.
type Verdict string

const (
	Allow    Verdict = "allow"
	Block    Verdict = "block"
	Escalate Verdict = "escalate"
)

// Rule is an operator-authored CEL custom rule evaluated before the fixed
// table. The first rule (by ascending Priority) whose Condition evaluates
// true wins and short-circuits the table entirely.
type Rule struct {
	// Name is a human-readable identifier used in Decision.MatchedRule and
	// in audit records.
	Name string
	// Priority orders evaluation; lower runs first.
	Priority int
	// Condition is a CEL boolean expression over the evaluation context
	// variables (see EvaluationContext).
	Condition string
	// Verdict is the outcome when Condition evaluates true.
	Verdict Verdict
	// Reason is recorded on the Decision when this rule matches.
	Reason string
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Verdict Verdict
	// Reason is a short machine-readable explanation, e.g.
	// "l1_critical", "l2_high_confidence_injection", "rate_limited",
	// or the Reason of a matched custom rule.
	Reason string
	// MatchedRule is the name of the custom rule that produced this
	// decision, empty when the fixed table decided instead.
	MatchedRule string
	// DecidedAt is when the decision was produced (UTC).
	DecidedAt time.Time
}
