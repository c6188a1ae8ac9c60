package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/policy"
	"github.com/IsaacHuo/agent-firewall/internal/domain/ratelimit"
)

// RateLimitInterceptor admits the envelope against a per-session token
// bucket, and optionally a per-agent bucket when AgentConfig is
// non-nil. A denial sets a terminal Reject verdict with reason
// "rate_limited"; later stages see Decided() and skip their own work,
// but SessionObserve is also skipped (the original spec only observes a
// request that was admitted).
//
// Position in chain: after Validation, before SessionObserve.
type RateLimitInterceptor struct {
	limiter       ratelimit.RateLimiter
	sessionConfig ratelimit.RateLimitConfig
	agentConfig   *ratelimit.RateLimitConfig
	next          Interceptor
	logger        *slog.Logger
}

// NewRateLimitInterceptor creates a RateLimitInterceptor. agentConfig may
// be nil to disable per-agent limiting.
func NewRateLimitInterceptor(
	limiter ratelimit.RateLimiter,
	sessionConfig ratelimit.RateLimitConfig,
	agentConfig *ratelimit.RateLimitConfig,
	next Interceptor,
	logger *slog.Logger,
) *RateLimitInterceptor {
	return &RateLimitInterceptor{
		limiter:       limiter,
		sessionConfig: sessionConfig,
		agentConfig:   agentConfig,
		next:          next,
		logger:        logger,
	}
}

// Handle admits rc.Env and passes to the next stage regardless of the
// outcome, so a denial still reaches Audit.
func (r *RateLimitInterceptor) Handle(ctx context.Context, rc *RequestContext) error {
	if rc.Decided() {
		return r.next.Handle(ctx, rc)
	}

	sessionKey := ratelimit.FormatKey(ratelimit.KeyTypeSession, rc.Env.SessionID)
	result, err := r.limiter.Allow(ctx, sessionKey, r.sessionConfig)
	if err != nil {
		r.logger.Error("session rate limit check failed, failing open", "session_id", rc.Env.SessionID, "error", err)
	} else if !result.Allowed {
		r.logger.Warn("session rate limited", "session_id", rc.Env.SessionID, "retry_after", result.RetryAfter)
		rc.Verdict = &Verdict{Action: ActionReject, PolicyVerdict: policy.Block, Reason: "rate_limited", DecidedAt: time.Now()}
		return r.next.Handle(ctx, rc)
	}

	if r.agentConfig != nil && rc.Env.AgentID != "" {
		agentKey := ratelimit.FormatKey(ratelimit.KeyTypeAgent, rc.Env.AgentID)
		result, err := r.limiter.Allow(ctx, agentKey, *r.agentConfig)
		if err != nil {
			r.logger.Error("agent rate limit check failed, failing open", "agent_id", rc.Env.AgentID, "error", err)
		} else if !result.Allowed {
			r.logger.Warn("agent rate limited", "agent_id", rc.Env.AgentID, "retry_after", result.RetryAfter)
			rc.Verdict = &Verdict{Action: ActionReject, PolicyVerdict: policy.Block, Reason: "rate_limited", DecidedAt: time.Now()}
		}
	}

	return r.next.Handle(ctx, rc)
}

var _ Interceptor = (*RateLimitInterceptor)(nil)
