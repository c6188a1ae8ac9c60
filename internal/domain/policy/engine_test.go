package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/IsaacHuo/agent-firewall/internal/domain/l2"
	"github.com/IsaacHuo/agent-firewall/internal/domain/threat"
)

func TestDecide_CriticalAlwaysBlocks(t *testing.T) {
	v, _ := Decide(threat.Critical, l2.Unknown("test"))
	if v != Block {
		t.Errorf("Verdict = %v, want block", v)
	}
}

func TestDecide_HighInjectionAboveThresholdBlocks(t *testing.T) {
	v, _ := Decide(threat.High, l2.Finding{IsInjection: l2.InjectionYes, Confidence: 0.7})
	if v != Block {
		t.Errorf("Verdict = %v, want block", v)
	}
}

func TestDecide_HighInjectionBelowThresholdEscalates(t *testing.T) {
	v, _ := Decide(threat.High, l2.Finding{IsInjection: l2.InjectionYes, Confidence: 0.69})
	if v != Escalate {
		t.Errorf("Verdict = %v, want escalate", v)
	}
}

func TestDecide_HighNotInjectionEscalates(t *testing.T) {
	v, _ := Decide(threat.High, l2.Finding{IsInjection: l2.InjectionNo, Confidence: 0.99})
	if v != Escalate {
		t.Errorf("Verdict = %v, want escalate", v)
	}
}

func TestDecide_HighUnknownEscalates(t *testing.T) {
	v, _ := Decide(threat.High, l2.Unknown("test"))
	if v != Escalate {
		t.Errorf("Verdict = %v, want escalate", v)
	}
}

func TestDecide_MediumInjectionAboveThresholdBlocks(t *testing.T) {
	v, _ := Decide(threat.Medium, l2.Finding{IsInjection: l2.InjectionYes, Confidence: 0.8})
	if v != Block {
		t.Errorf("Verdict = %v, want block", v)
	}
}

func TestDecide_MediumInjectionBelowThresholdEscalates(t *testing.T) {
	v, _ := Decide(threat.Medium, l2.Finding{IsInjection: l2.InjectionYes, Confidence: 0.79})
	if v != Escalate {
		t.Errorf("Verdict = %v, want escalate", v)
	}
}

func TestDecide_MediumNotInjectionAllows(t *testing.T) {
	v, reason := Decide(threat.Medium, l2.Finding{IsInjection: l2.InjectionNo, Confidence: 0.99})
	if v != Allow {
		t.Errorf("Verdict = %v, want allow", v)
	}
	if reason == "" {
		t.Error("Reason is empty, want audited-allow reason")
	}
}

func TestDecide_MediumUnknownAllows(t *testing.T) {
	v, _ := Decide(threat.Medium, l2.Unknown("test"))
	if v != Allow {
		t.Errorf("Verdict = %v, want allow", v)
	}
}

func TestDecide_LowInjectionAboveThresholdBlocks(t *testing.T) {
	v, _ := Decide(threat.Low, l2.Finding{IsInjection: l2.InjectionYes, Confidence: 0.9})
	if v != Block {
		t.Errorf("Verdict = %v, want block", v)
	}
}

func TestDecide_LowInjectionMidRangeEscalates(t *testing.T) {
	v, _ := Decide(threat.Low, l2.Finding{IsInjection: l2.InjectionYes, Confidence: 0.7})
	if v != Escalate {
		t.Errorf("Verdict = %v, want escalate", v)
	}
}

func TestDecide_LowInjectionBelowRangeAllows(t *testing.T) {
	v, _ := Decide(threat.Low, l2.Finding{IsInjection: l2.InjectionYes, Confidence: 0.69})
	if v != Allow {
		t.Errorf("Verdict = %v, want allow", v)
	}
}

func TestDecide_NoneNotInjectionAllows(t *testing.T) {
	v, _ := Decide(threat.None, l2.Unknown("test"))
	if v != Allow {
		t.Errorf("Verdict = %v, want allow", v)
	}
}

type stubEvaluator struct {
	matchName string
	err       error
}

func (s *stubEvaluator) Evaluate(ctx context.Context, rule Rule, evalCtx EvaluationContext) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return rule.Name == s.matchName, nil
}

func TestEngine_CustomRuleShortCircuitsTable(t *testing.T) {
	rules := []Rule{
		{Name: "allow-read-only", Priority: 1, Condition: "true", Verdict: Allow, Reason: "read_only_tool"},
	}
	e := NewEngine(rules, &stubEvaluator{matchName: "allow-read-only"})

	d, err := e.Evaluate(context.Background(), EvaluationContext{L1Level: threat.Critical, L2Finding: l2.Unknown("test")})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Verdict != Allow || d.MatchedRule != "allow-read-only" {
		t.Errorf("got %+v, want allow via custom rule despite CRITICAL L1", d)
	}
}

func TestEngine_NoMatchFallsThroughToTable(t *testing.T) {
	rules := []Rule{
		{Name: "never-matches", Priority: 1, Condition: "false", Verdict: Block, Reason: "n/a"},
	}
	e := NewEngine(rules, &stubEvaluator{matchName: "something-else"})

	d, err := e.Evaluate(context.Background(), EvaluationContext{L1Level: threat.None, L2Finding: l2.Unknown("test")})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Verdict != Allow || d.MatchedRule != "" {
		t.Errorf("got %+v, want allow via fixed table", d)
	}
}

func TestEngine_BrokenRuleIsSkippedNotFatal(t *testing.T) {
	rules := []Rule{
		{Name: "broken", Priority: 1, Condition: "not valid cel", Verdict: Block, Reason: "n/a"},
	}
	e := NewEngine(rules, &stubEvaluator{err: errors.New("compile error")})

	d, err := e.Evaluate(context.Background(), EvaluationContext{L1Level: threat.None, L2Finding: l2.Unknown("test")})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Verdict != Allow {
		t.Errorf("Verdict = %v, want allow (fixed table fallback after broken rule)", d.Verdict)
	}
}

func TestEngine_RulesEvaluatedInPriorityOrder(t *testing.T) {
	rules := []Rule{
		{Name: "second", Priority: 2, Condition: "true", Verdict: Block, Reason: "n/a"},
		{Name: "first", Priority: 1, Condition: "true", Verdict: Allow, Reason: "n/a"},
	}
	e := NewEngine(rules, &stubEvaluator{matchName: "first"})

	d, err := e.Evaluate(context.Background(), EvaluationContext{L1Level: threat.None, L2Finding: l2.Unknown("test")})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.MatchedRule != "first" {
		t.Errorf("MatchedRule = %q, want %q", d.MatchedRule, "first")
	}
}
