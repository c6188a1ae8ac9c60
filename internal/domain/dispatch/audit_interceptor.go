package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/audit"
	"github.com/IsaacHuo/agent-firewall/internal/domain/threat"
)

// DashboardSink publishes live dashboard events for connected operator
// UIs. It is a separate, best-effort concern from the durable audit
// Store: a dashboard push may be dropped under load, an audit record
// never is.
type DashboardSink interface {
	Publish(event audit.DashboardEvent)
}

// AuditInterceptor emits exactly one audit record and one dashboard
// event per envelope that ever reaches it, regardless of which earlier
// stage produced the verdict.
//
// Position in chain: after Escalation, before Terminal.
type AuditInterceptor struct {
	store     audit.Store
	dashboard DashboardSink
	next      Interceptor
	logger    *slog.Logger
}

// NewAuditInterceptor creates an AuditInterceptor. dashboard may be nil
// to disable live dashboard events.
func NewAuditInterceptor(store audit.Store, dashboard DashboardSink, next Interceptor, logger *slog.Logger) *AuditInterceptor {
	return &AuditInterceptor{store: store, dashboard: dashboard, next: next, logger: logger}
}

// Handle builds and appends the audit record for rc, publishes the
// mirrored dashboard event, and passes to the next stage regardless of
// append errors (a write failure is logged, never fatal to the request).
func (a *AuditInterceptor) Handle(ctx context.Context, rc *RequestContext) error {
	now := time.Now()
	rec := audit.Record{
		RequestID:     rc.Env.RequestID,
		ArrivalTime:   rc.ArrivalTime,
		DecidedAt:     now,
		SessionID:     rc.Env.SessionID,
		AgentID:       rc.Env.AgentID,
		Method:        rc.Env.Method,
		PayloadSHA256: audit.HashPayload(rc.Env.Raw),
		L1Level:       string(rc.L1.Level),
		L1Patterns:    rc.L1.Patterns,
		L1Base64Depth: rc.L1.Base64Depth,
		L2IsInjection: string(rc.L2.IsInjection),
		L2Confidence:  rc.L2.Confidence,
		L2Reasoning:   rc.L2.Reasoning,
		LatencyMicros: now.Sub(rc.ArrivalTime).Microseconds(),
	}
	if rc.Verdict != nil {
		rec.Verdict = string(rc.Verdict.PolicyVerdict)
		rec.Reason = rc.Verdict.Reason
		rec.HumanActorID = rc.Verdict.HumanActor
		if rec.Verdict == "" {
			rec.Verdict = string(rc.Verdict.Action)
		}
	}

	if err := a.store.Append(ctx, rec); err != nil {
		a.logger.Error("audit append failed", "request_id", rec.RequestID, "error", err)
	}

	if a.dashboard != nil {
		isAlert := rec.Verdict != "allow" || threat.AtLeast(rc.L1.Level, threat.High)
		a.dashboard.Publish(audit.DashboardEvent{
			Record:         rec,
			PayloadPreview: audit.TruncatePreview(rc.Env.Raw),
			IsAlert:        isAlert,
		})
	}

	return a.next.Handle(ctx, rc)
}

var _ Interceptor = (*AuditInterceptor)(nil)
