package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
	"github.com/IsaacHuo/agent-firewall/internal/domain/l1"
	"github.com/IsaacHuo/agent-firewall/internal/domain/l2"
	"github.com/IsaacHuo/agent-firewall/internal/domain/session"
	"github.com/IsaacHuo/agent-firewall/internal/domain/threat"
	"github.com/IsaacHuo/agent-firewall/internal/domain/tool"
	"github.com/IsaacHuo/agent-firewall/internal/domain/validation"
)

var toolSanitizer = validation.NewSanitizer()

// toolRiskLevel maps a tool's name-based risk classification onto the
// shared threat scale so it can be folded into an L1 finding.
var toolRiskLevel = map[tool.RiskLevel]threat.Level{
	tool.RiskLevelLow:      threat.None,
	tool.RiskLevelMedium:   threat.Low,
	tool.RiskLevelHigh:     threat.Medium,
	tool.RiskLevelCritical: threat.High,
}

// DefaultL2Deadline bounds how long Analysis waits for a classifier
// result before continuing with an unknown finding.
const DefaultL2Deadline = 3 * time.Second

// AnalysisInterceptor runs the L1 static analyzer synchronously first.
// L2 only runs for HighRisk methods, or for Other methods whose L1
// finding is at or above MEDIUM; Safe methods never reach here. If L1
// returns CRITICAL, L2 is skipped outright since the verdict is already
// decided. Otherwise Analysis waits for L2 up to its own deadline and
// continues with an unknown finding on timeout.
//
// Position in chain: after SessionObserve, before Policy.
type AnalysisInterceptor struct {
	analyzer   *l1.Analyzer
	classifier l2.Classifier
	sessions   *session.Service
	l2Deadline time.Duration
	next       Interceptor
	logger     *slog.Logger
}

// NewAnalysisInterceptor creates an AnalysisInterceptor. l2Deadline
// defaults to DefaultL2Deadline when <= 0.
func NewAnalysisInterceptor(
	analyzer *l1.Analyzer,
	classifier l2.Classifier,
	sessions *session.Service,
	l2Deadline time.Duration,
	next Interceptor,
	logger *slog.Logger,
) *AnalysisInterceptor {
	if l2Deadline <= 0 {
		l2Deadline = DefaultL2Deadline
	}
	return &AnalysisInterceptor{
		analyzer:   analyzer,
		classifier: classifier,
		sessions:   sessions,
		l2Deadline: l2Deadline,
		next:       next,
		logger:     logger,
	}
}

// Handle runs L1 over rc.Env, then L2 if needsL2 says it's warranted,
// skipping both entirely when a prior stage already decided the request
// (safe method or rate limited).
func (a *AnalysisInterceptor) Handle(ctx context.Context, rc *RequestContext) error {
	if rc.Decided() {
		return a.next.Handle(ctx, rc)
	}

	rc.L1 = a.analyzer.Analyze(rc.Env.Raw, nil)

	if rc.Env.Method == "tools/call" {
		a.classifyToolCall(rc)
	}

	if rc.L1.Level == threat.Critical {
		rc.L2 = l2.Unknown("cancelled")
		return a.next.Handle(ctx, rc)
	}

	if !a.needsL2(rc) {
		rc.L2 = l2.Unknown("l1_clean_skip")
		return a.next.Handle(ctx, rc)
	}

	l2Ctx, cancelL2 := context.WithTimeout(ctx, a.l2Deadline)
	defer cancelL2()

	l2Result := make(chan l2.Finding, 1)
	go func() {
		l2Result <- a.classifier.Classify(l2Ctx, rc.Env.Method, rc.Env.Params, a.history(ctx, rc.Env.SessionID))
	}()

	select {
	case finding := <-l2Result:
		rc.L2 = finding
	case <-l2Ctx.Done():
		a.logger.Warn("l2 classification timed out", "session_id", rc.Env.SessionID, "method", rc.Env.Method)
		rc.L2 = l2.Unknown("timeout")
	}

	return a.next.Handle(ctx, rc)
}

// needsL2 reports whether rc warrants the L2 semantic classifier: HighRisk
// methods always do, Other methods only once L1 surfaces MEDIUM or above.
// Safe methods never reach Analysis (Validation decides them earlier).
func (a *AnalysisInterceptor) needsL2(rc *RequestContext) bool {
	return rc.MethodClass == envelope.HighRisk || threat.AtLeast(rc.L1.Level, threat.Medium)
}

// classifyToolCall extracts the tool name from a tools/call request,
// folds its name-based risk classification into rc.L1, and records the
// name on rc for Policy to surface to CEL rules. A missing or malformed
// name is tagged rather than rejected outright; Policy still gets the
// final say.
func (a *AnalysisInterceptor) classifyToolCall(rc *RequestContext) {
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rc.Env.Params, &params); err != nil || params.Name == "" {
		mergeL1(&rc.L1, "missing_tool_name", threat.Low)
		return
	}

	rc.ToolName = params.Name

	if err := toolSanitizer.ValidateToolName(params.Name); err != nil {
		mergeL1(&rc.L1, "malformed_tool_name", threat.Medium)
		return
	}

	risk := tool.ClassifyTool(tool.Tool{Name: params.Name})
	if level, ok := toolRiskLevel[risk]; ok && level != threat.None {
		mergeL1(&rc.L1, "tool_risk_"+string(risk), level)
	}
}

// mergeL1 folds one additional pattern/level pair into an L1 finding.
// Finding's own merge logic is unexported, so this mirrors it for the one
// extra signal (tool risk) the dispatch layer adds on top of the raw
// payload scan.
func mergeL1(f *l1.Finding, pattern string, level threat.Level) {
	f.Level = threat.Max(f.Level, level)
	for _, p := range f.Patterns {
		if p == pattern {
			return
		}
	}
	f.Patterns = append(f.Patterns, pattern)
}

// history builds the recent-envelope summaries the L2 classifier uses for
// cross-turn context. Failures to read the session snapshot degrade to
// an empty history rather than blocking analysis.
func (a *AnalysisInterceptor) history(ctx context.Context, sessionID string) []*l2.EnvelopeSummary {
	sess, err := a.sessions.Snapshot(ctx, sessionID)
	if err != nil {
		return nil
	}

	recent := sess.Recent(0)
	summaries := make([]*l2.EnvelopeSummary, 0, len(recent))
	for _, env := range recent {
		summaries = append(summaries, &l2.EnvelopeSummary{Method: env.Method, Params: env.Params})
	}
	return summaries
}

var _ Interceptor = (*AnalysisInterceptor)(nil)
