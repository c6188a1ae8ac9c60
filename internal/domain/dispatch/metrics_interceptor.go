package dispatch

import (
	"context"
	"time"
)

// MetricsRecorder receives dispatch-chain observations. Implemented by
// the telemetry package's Prometheus wiring; kept as a narrow interface
// here so the domain layer stays free of a Prometheus import.
type MetricsRecorder interface {
	ObserveRequest(method string, duration time.Duration)
	ObserveVerdict(verdict string)
}

// MetricsInterceptor wraps the whole chain the way the teacher's
// MetricsMiddleware wraps the whole HTTP handler: one entry/exit point
// per request rather than instrumentation scattered through every stage.
//
// Position in chain: outermost, wrapping Validation.
type MetricsInterceptor struct {
	recorder MetricsRecorder
	next     Interceptor
}

// NewMetricsInterceptor creates a MetricsInterceptor. A nil recorder
// disables metrics recording entirely.
func NewMetricsInterceptor(recorder MetricsRecorder, next Interceptor) *MetricsInterceptor {
	return &MetricsInterceptor{recorder: recorder, next: next}
}

// Handle times the full chain and records the resulting verdict.
func (m *MetricsInterceptor) Handle(ctx context.Context, rc *RequestContext) error {
	if m.recorder == nil {
		return m.next.Handle(ctx, rc)
	}

	start := time.Now()
	err := m.next.Handle(ctx, rc)
	m.recorder.ObserveRequest(rc.Env.Method, time.Since(start))

	if rc.Verdict != nil {
		m.recorder.ObserveVerdict(string(rc.Verdict.PolicyVerdict))
	}
	return err
}

var _ Interceptor = (*MetricsInterceptor)(nil)
