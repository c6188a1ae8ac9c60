// Package envelope defines the Request Envelope and the method
// classification the Dispatcher uses to decide how much analysis a
// request needs.
package envelope

import (
	"encoding/json"
	"time"
)

// ReplyChannel is the opaque back-reference a transport adapter hands to
// the Dispatcher so a verdict can be delivered to the originating
// connection without the domain layer knowing anything about sockets,
// pipes, or HTTP.
type ReplyChannel interface {
	// Reply delivers a JSON-RPC response (or error) to the originating
	// agent. Called at most once per envelope.
	Reply(data []byte) error

	// Closed reports whether the originating transport has disconnected,
	// so in-flight work (escalation waits, upstream forwards) can be
	// abandoned instead of wasted.
	Closed() bool
}

// Envelope is one inbound JSON-RPC request as it travels through the
// dispatch pipeline. The Dispatcher exclusively owns an envelope from
// ingress to verdict.
type Envelope struct {
	RequestID string
	SessionID string
	AgentID   string

	Method string
	Params json.RawMessage

	// Raw is the full serialized JSON-RPC payload, needed for content
	// hashing (audit) and L1 scanning (method + raw params together).
	Raw []byte

	ArrivalMono time.Time
	ArrivalWall time.Time

	Channel ReplyChannel
}

// MethodClass is a finite tagged union, not string soup: every method name
// maps to exactly one of these three classes.
type MethodClass string

const (
	// Safe methods bypass all analysis.
	Safe MethodClass = "safe"
	// HighRisk methods always undergo full L1+L2 analysis.
	HighRisk MethodClass = "high_risk"
	// Other methods undergo L1 always; L2 only conditionally.
	Other MethodClass = "other"
)

var safeMethods = map[string]struct{}{
	"initialize":               {},
	"initialized":              {},
	"ping":                     {},
	"tools/list":               {},
	"resources/list":           {},
	"resources/templates/list": {},
	"prompts/list":             {},
	"logging/setLevel":         {},
}

var highRiskMethods = map[string]struct{}{
	"tools/call":             {},
	"completion/complete":    {},
	"sampling/createMessage": {},
}

// ClassifyMethod derives the MethodClass for a method name.
func ClassifyMethod(method string) MethodClass {
	if _, ok := safeMethods[method]; ok {
		return Safe
	}
	if _, ok := highRiskMethods[method]; ok {
		return HighRisk
	}
	return Other
}
