package dispatch

import (
	"context"
	"log/slog"

	"github.com/IsaacHuo/agent-firewall/internal/domain/session"
)

// SessionObserveInterceptor appends the envelope to its session ring.
// Skipped only when a prior stage already rejected the request (rate
// limiting) — the safe-method short-circuit still reaches this stage,
// matching the spec's "still observe in session store" note.
//
// Position in chain: after RateLimit, before Analysis.
type SessionObserveInterceptor struct {
	sessions *session.Service
	next     Interceptor
	logger   *slog.Logger
}

// NewSessionObserveInterceptor creates a SessionObserveInterceptor.
func NewSessionObserveInterceptor(sessions *session.Service, next Interceptor, logger *slog.Logger) *SessionObserveInterceptor {
	return &SessionObserveInterceptor{sessions: sessions, next: next, logger: logger}
}

// Handle observes rc.Env into the session store unless the request was
// already rejected, then passes to the next stage.
func (s *SessionObserveInterceptor) Handle(ctx context.Context, rc *RequestContext) error {
	if rc.Decided() && rc.Verdict.Action == ActionReject {
		return s.next.Handle(ctx, rc)
	}

	if _, err := s.sessions.Observe(ctx, rc.Env); err != nil {
		s.logger.Error("session observe failed", "session_id", rc.Env.SessionID, "error", err)
	}

	return s.next.Handle(ctx, rc)
}

var _ Interceptor = (*SessionObserveInterceptor)(nil)
