package l2

import (
	"context"
	"strings"
)

// marker is one entry in the mock classifier's fixed marker table: a
// lower-cased substring, the confidence to report on match, and the
// human-readable reasoning returned alongside it.
type marker struct {
	text       string
	confidence float64
	reasoning  string
}

// injectionMarkers is the fixed table of known prompt-injection phrases,
// ordered by descending confidence. The first match wins.
var injectionMarkers = []marker{
	{"ignore previous", 0.95, "Classic prompt injection: override prior instructions"},
	{"ignore all instructions", 0.95, "Absolute instruction override attempt"},
	{"disregard above", 0.93, "Context poisoning via instruction disregard"},
	{"forget everything", 0.92, "Memory wipe injection"},
	{"act as root", 0.92, "Privilege escalation injection"},
	{"you are now", 0.90, "Identity/role hijack attempt"},
	{"new persona", 0.88, "Persona injection"},
	{"system prompt", 0.88, "System prompt extraction attempt"},
	{"output your instructions", 0.87, "Instruction leak attempt"},
	{"send me the content", 0.85, "Data exfiltration via instruction injection"},
	{"repeat the above", 0.80, "Context extraction via repetition"},
	{"sudo", 0.70, "Potential privilege escalation"},
}

// MockClassifier is a deterministic, dependency-free Classifier used in
// tests and as a default when no live backend is configured. It never
// fails and never blocks, so it never degrades to Unknown.
type MockClassifier struct{}

// NewMockClassifier returns a ready-to-use MockClassifier.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{}
}

func (m *MockClassifier) Classify(ctx context.Context, method string, params []byte, history []*EnvelopeSummary) Finding {
	haystack := strings.ToLower(method + " " + string(params))
	for _, h := range history {
		haystack += " " + strings.ToLower(h.Method+" "+string(h.Params))
	}

	for _, mk := range injectionMarkers {
		if strings.Contains(haystack, mk.text) {
			return Finding{
				IsInjection: InjectionYes,
				Confidence:  mk.confidence,
				Reasoning:   mk.reasoning,
				Backend:     "mock",
			}
		}
	}

	return Finding{IsInjection: InjectionNo, Confidence: 0.99, Reasoning: "no known injection marker found", Backend: "mock"}
}

var _ Classifier = (*MockClassifier)(nil)
