package dispatch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/ratelimit"
)

type mockRateLimiter struct {
	allowFunc func(ctx context.Context, key string, cfg ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error)
}

func (m *mockRateLimiter) Allow(ctx context.Context, key string, cfg ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
	if m.allowFunc != nil {
		return m.allowFunc(ctx, key, cfg)
	}
	return ratelimit.RateLimitResult{Allowed: true}, nil
}

func TestRateLimitInterceptor_AllowedPassesThrough(t *testing.T) {
	next := &recordingInterceptor{}
	r := NewRateLimitInterceptor(&mockRateLimiter{}, ratelimit.RateLimitConfig{Rate: 10, Burst: 10, Period: time.Second}, nil, next, slog.Default())

	rc := testEnv("tools/call")
	if err := r.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if !next.called {
		t.Fatal("next not called")
	}
	if rc.Decided() {
		t.Error("allowed request should not be decided by rate limiting")
	}
}

func TestRateLimitInterceptor_DeniedSetsRejectVerdict(t *testing.T) {
	limiter := &mockRateLimiter{
		allowFunc: func(ctx context.Context, key string, cfg ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
			return ratelimit.RateLimitResult{Allowed: false, RetryAfter: time.Second}, nil
		},
	}
	next := &recordingInterceptor{}
	r := NewRateLimitInterceptor(limiter, ratelimit.RateLimitConfig{Rate: 1, Burst: 1, Period: time.Second}, nil, next, slog.Default())

	rc := testEnv("tools/call")
	if err := r.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if !next.called {
		t.Fatal("next should still be called so audit sees the rejection")
	}
	if !rc.Decided() || rc.Verdict.Action != ActionReject || rc.Verdict.Reason != "rate_limited" {
		t.Errorf("Verdict = %+v, want reject/rate_limited", rc.Verdict)
	}
}

func TestRateLimitInterceptor_LimiterErrorFailsOpen(t *testing.T) {
	limiter := &mockRateLimiter{
		allowFunc: func(ctx context.Context, key string, cfg ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
			return ratelimit.RateLimitResult{}, errTest
		},
	}
	next := &recordingInterceptor{}
	r := NewRateLimitInterceptor(limiter, ratelimit.RateLimitConfig{Rate: 1, Burst: 1, Period: time.Second}, nil, next, slog.Default())

	rc := testEnv("tools/call")
	if err := r.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if rc.Decided() {
		t.Error("limiter error should fail open, not decide the request")
	}
}

func TestRateLimitInterceptor_AgentLimitAppliesWhenConfigured(t *testing.T) {
	calls := 0
	limiter := &mockRateLimiter{
		allowFunc: func(ctx context.Context, key string, cfg ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
			calls++
			if calls == 2 {
				return ratelimit.RateLimitResult{Allowed: false}, nil
			}
			return ratelimit.RateLimitResult{Allowed: true}, nil
		},
	}
	agentCfg := ratelimit.RateLimitConfig{Rate: 5, Burst: 5, Period: time.Second}
	next := &recordingInterceptor{}
	r := NewRateLimitInterceptor(limiter, ratelimit.RateLimitConfig{Rate: 10, Burst: 10, Period: time.Second}, &agentCfg, next, slog.Default())

	rc := testEnv("tools/call")
	if err := r.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("limiter called %d times, want 2 (session + agent)", calls)
	}
	if !rc.Decided() || rc.Verdict.Reason != "rate_limited" {
		t.Errorf("Verdict = %+v, want rate_limited from agent bucket", rc.Verdict)
	}
}

var errTest = &testError{"rate limiter backend unavailable"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
