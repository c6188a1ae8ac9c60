package telemetry

import "time"

// Recorder adapts Metrics to dispatch.MetricsRecorder without the
// dispatch package importing Prometheus directly.
type Recorder struct {
	metrics *Metrics
}

// NewRecorder wraps metrics as a dispatch.MetricsRecorder.
func NewRecorder(metrics *Metrics) *Recorder {
	return &Recorder{metrics: metrics}
}

// ObserveRequest records one dispatch chain run's duration.
func (r *Recorder) ObserveRequest(method string, duration time.Duration) {
	r.metrics.RequestsTotal.WithLabelValues(method).Inc()
	r.metrics.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveVerdict records one policy verdict outcome.
func (r *Recorder) ObserveVerdict(verdict string) {
	if verdict == "" {
		return
	}
	r.metrics.PolicyVerdicts.WithLabelValues(verdict).Inc()
}
