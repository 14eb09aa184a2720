package mfacore

import "sync/atomic"

// MetricID identifies one counter in the in-process metrics system.
type MetricID uint16

const (
	MetricLoginFirstFactor MetricID = iota
	MetricLoginFailure
	MetricLoginBlocked
	MetricLoginComplete
	MetricChallengeIssued
	MetricChallengeValidated
	MetricChallengeRejected
	MetricChallengeReplay
	MetricSessionCreated
	MetricSessionClosed
	MetricSessionExpired
	MetricRecoveryRequested
	MetricRecoveryCompleted
	MetricRecoveryRejected
	MetricRegistration
	MetricActivation
	MetricLockout
	MetricUnblock
	MetricPasswordChanged
	MetricNotifyFailure

	metricIDCount
)

// MetricIDCount is the number of defined metric IDs, exported for exporters
// that iterate the full range.
const MetricIDCount = int(metricIDCount)

// paddedCounter occupies a full cache line to avoid false sharing between
// adjacent counters under concurrent increments.
type paddedCounter struct {
	value uint64
	_     [56]byte
}

// Metrics holds lock-free counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricIDCount)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}

// Name returns the stable export name of a metric ID.
func (id MetricID) Name() string {
	switch id {
	case MetricLoginFirstFactor:
		return "login_first_factor_total"
	case MetricLoginFailure:
		return "login_failure_total"
	case MetricLoginBlocked:
		return "login_blocked_total"
	case MetricLoginComplete:
		return "login_complete_total"
	case MetricChallengeIssued:
		return "challenge_issued_total"
	case MetricChallengeValidated:
		return "challenge_validated_total"
	case MetricChallengeRejected:
		return "challenge_rejected_total"
	case MetricChallengeReplay:
		return "challenge_replay_total"
	case MetricSessionCreated:
		return "session_created_total"
	case MetricSessionClosed:
		return "session_closed_total"
	case MetricSessionExpired:
		return "session_expired_total"
	case MetricRecoveryRequested:
		return "recovery_requested_total"
	case MetricRecoveryCompleted:
		return "recovery_completed_total"
	case MetricRecoveryRejected:
		return "recovery_rejected_total"
	case MetricRegistration:
		return "registration_total"
	case MetricActivation:
		return "activation_total"
	case MetricLockout:
		return "lockout_total"
	case MetricUnblock:
		return "unblock_total"
	case MetricPasswordChanged:
		return "password_changed_total"
	case MetricNotifyFailure:
		return "notify_failure_total"
	default:
		return "unknown"
	}
}
