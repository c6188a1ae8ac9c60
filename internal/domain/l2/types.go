// Package l2 implements the semantic classifier: a pluggable backend that
// judges whether a request's intent is a prompt injection, with a tri-state
// result and a fail-open contract that never blocks availability.
package l2

import "context"

// Injection is a tri-state verdict: the classifier either has an opinion
// (yes/no) or doesn't (unknown, on any failure).
type Injection string

const (
	InjectionYes     Injection = "yes"
	InjectionNo      Injection = "no"
	InjectionUnknown Injection = "unknown"
)

// Finding is the result of one classification pass.
type Finding struct {
	IsInjection Injection
	Confidence  float64
	Reasoning   string
	Backend     string
}

// Unknown builds the fail-open finding used whenever the backend cannot
// produce an opinion: network error, non-2xx, parse failure, or deadline
// expiry. The Policy Engine treats Unknown identically to "no opinion".
func Unknown(backend string) Finding {
	return Finding{IsInjection: InjectionUnknown, Confidence: 0, Backend: backend}
}

// Classifier is the pluggable backend interface. Implementations must
// honor ctx cancellation. Classify has no error result: on any failure it
// degrades to an Unknown finding.
type Classifier interface {
	Classify(ctx context.Context, method string, params []byte, history []*EnvelopeSummary) Finding
}

// EnvelopeSummary is the minimal slice of session history handed to a
// classifier for context, avoiding a dependency on the full envelope type
// in the request/response path.
type EnvelopeSummary struct {
	Method string
	Params []byte
}
