// Package cel provides the CEL-based expression evaluator used by the
// policy engine's custom-rule pre-pass.
package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/IsaacHuo/agent-firewall/internal/domain/policy"
)

// NewPolicyEnvironment creates a CEL environment with the variables and
// functions custom rules can reference: the method being dispatched, the
// session/agent identifiers, and the L1/L2 findings the fixed table
// itself decides on.
func NewPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("method", cel.StringType),
		cel.Variable("method_class", cel.StringType),
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("agent_id", cel.StringType),

		cel.Variable("l1_level", cel.StringType),
		cel.Variable("l1_patterns", cel.ListType(cel.StringType)),

		cel.Variable("l2_is_injection", cel.StringType),
		cel.Variable("l2_confidence", cel.DoubleType),
		cel.Variable("l2_reasoning", cel.StringType),

		// glob: pattern matching against tool_name, e.g. glob("file_*", tool_name).
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// BuildActivation turns an EvaluationContext into the variable bindings a
// compiled CEL program expects.
func BuildActivation(evalCtx policy.EvaluationContext) map[string]any {
	patterns := evalCtx.L1Patterns
	if patterns == nil {
		patterns = []string{}
	}
	return map[string]any{
		"method":          evalCtx.Method,
		"method_class":    string(evalCtx.MethodClass),
		"tool_name":       evalCtx.ToolName,
		"session_id":      evalCtx.SessionID,
		"agent_id":        evalCtx.AgentID,
		"l1_level":        string(evalCtx.L1Level),
		"l1_patterns":     patterns,
		"l2_is_injection": string(evalCtx.L2Finding.IsInjection),
		"l2_confidence":   evalCtx.L2Finding.Confidence,
		"l2_reasoning":    evalCtx.L2Finding.Reasoning,
	}
}
