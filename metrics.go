package membergate

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint8

const (
	// MetricRegisterSuccess is an engine counter id.
	MetricRegisterSuccess MetricID = iota
	// MetricRegisterFailure is an engine counter id.
	MetricRegisterFailure
	// MetricVerifySuccess is an engine counter id.
	MetricVerifySuccess
	// MetricVerifyFailure is an engine counter id.
	MetricVerifyFailure
	// MetricResendSuccess is an engine counter id.
	MetricResendSuccess
	// MetricResendRateLimited is an engine counter id.
	MetricResendRateLimited
	// MetricResetRequest is an engine counter id.
	MetricResetRequest
	// MetricResetSuccess is an engine counter id.
	MetricResetSuccess
	// MetricResetFailure is an engine counter id.
	MetricResetFailure
	// MetricLoginSuccess is an engine counter id.
	MetricLoginSuccess
	// MetricLoginFailure is an engine counter id.
	MetricLoginFailure
	// MetricLoginRateLimited is an engine counter id.
	MetricLoginRateLimited
	// MetricAuthorizeAllowed is an engine counter id.
	MetricAuthorizeAllowed
	// MetricAuthorizeDenied is an engine counter id.
	MetricAuthorizeDenied
	// MetricEmailDispatchFailure is an engine counter id.
	MetricEmailDispatchFailure

	metricCount // keep last
)

// Metrics holds in-process counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

// NewMetrics returns a Metrics instance, or nil when disabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{}
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
