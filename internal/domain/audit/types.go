// Package audit contains the durable audit record, the live dashboard
// event it is mirrored into, and the Store port both are written through.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record is one immutable, append-only audit entry. Records are never
// mutated after emission; ordering within a single writer is verdict
// finalization order, not ingress order.
type Record struct {
	RequestID   string    `json:"request_id"`
	ArrivalTime time.Time `json:"arrival_time"`
	DecidedAt   time.Time `json:"decided_at"`

	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Method    string `json:"method"`

	// PayloadSHA256 is the hex-encoded SHA-256 of the raw request payload.
	// The payload itself is never retained in the audit record.
	PayloadSHA256 string `json:"payload_sha256"`

	L1Level       string   `json:"l1_level"`
	L1Patterns    []string `json:"l1_patterns,omitempty"`
	L1Base64Depth int      `json:"l1_base64_depth,omitempty"`

	L2IsInjection string  `json:"l2_is_injection"`
	L2Confidence  float64 `json:"l2_confidence"`
	L2Reasoning   string  `json:"l2_reasoning,omitempty"`

	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`

	// HumanActorID is set when the verdict was resolved or overridden by
	// an escalation hub operator response, empty otherwise.
	HumanActorID string `json:"human_actor_id,omitempty"`

	LatencyMicros int64 `json:"latency_micros"`
}

// DashboardEvent mirrors Record for live operator consumption, adding a
// truncated payload preview and an alert flag.
type DashboardEvent struct {
	Record
	// PayloadPreview is at most 2 KiB of the raw payload, for operator
	// triage only; never the full body.
	PayloadPreview string `json:"payload_preview,omitempty"`
	// IsAlert is true when Verdict != allow or the aggregate threat level
	// is at or above HIGH.
	IsAlert bool `json:"is_alert"`
}

// MaxPreviewBytes bounds DashboardEvent.PayloadPreview.
const MaxPreviewBytes = 2 * 1024

// TruncatePreview returns at most MaxPreviewBytes of raw, safely cut on a
// byte boundary (valid UTF-8 is not guaranteed to be preserved at the cut
// point, which is acceptable for a human-facing preview).
func TruncatePreview(raw []byte) string {
	if len(raw) <= MaxPreviewBytes {
		return string(raw)
	}
	return string(raw[:MaxPreviewBytes])
}

// HashPayload returns the hex-encoded SHA-256 digest of raw, for
// Record.PayloadSHA256. The payload is never stored, only its digest.
func HashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
