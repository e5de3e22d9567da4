package health

import (
	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
)

// Tracker applies threshold-driven state transitions for a single instance.
// Readiness observations drive Starting -> Ready <-> Failing; liveness
// observations accumulate toward a restart escalation. Tracker is not safe for
// concurrent use; the monitor worker owning it is the only writer.
type Tracker struct {
	readiness cachev1alpha1.ProbeConfig
	liveness  cachev1alpha1.ProbeConfig

	state cachev1alpha1.InstanceState

	consecutiveReadinessFailures  int32
	consecutiveReadinessSuccesses int32
	consecutiveLivenessFailures   int32

	livenessExceeded bool
}

// NewTracker returns a Tracker in the Starting state.
func NewTracker(readiness, liveness cachev1alpha1.ProbeConfig) *Tracker {
	return &Tracker{
		readiness: readiness,
		liveness:  liveness,
		state:     cachev1alpha1.InstanceStateStarting,
	}
}

// ObserveReadiness records one readiness probe outcome and returns true when
// the instance state changed as a result.
//
// While Starting, failures only reset the success streak; the instance never
// regresses from Starting on failed probes. Once Ready, crossing the failure
// threshold moves to Failing; crossing the success threshold moves back.
func (t *Tracker) ObserveReadiness(success bool) bool {
	if t.state == cachev1alpha1.InstanceStateTerminated {
		return false
	}

	if success {
		t.consecutiveReadinessSuccesses++
		t.consecutiveReadinessFailures = 0
	} else {
		t.consecutiveReadinessFailures++
		t.consecutiveReadinessSuccesses = 0
	}

	switch t.state {
	case cachev1alpha1.InstanceStateStarting, cachev1alpha1.InstanceStateFailing:
		if t.consecutiveReadinessSuccesses >= t.readiness.SuccessThreshold {
			t.state = cachev1alpha1.InstanceStateReady
			return true
		}
	case cachev1alpha1.InstanceStateReady:
		if t.consecutiveReadinessFailures >= t.readiness.FailureThreshold {
			t.state = cachev1alpha1.InstanceStateFailing
			return true
		}
	}

	return false
}

// ObserveLiveness records one liveness probe outcome. Crossing the liveness
// failure threshold latches the restart escalation; it stays set until the
// tracker is replaced after the restart.
func (t *Tracker) ObserveLiveness(success bool) {
	if t.state == cachev1alpha1.InstanceStateTerminated {
		return
	}

	if success {
		t.consecutiveLivenessFailures = 0
		return
	}

	t.consecutiveLivenessFailures++
	if t.consecutiveLivenessFailures >= t.liveness.FailureThreshold {
		t.livenessExceeded = true
	}
}

// MarkTerminated puts the tracker in its terminal state. Further observations
// are ignored.
func (t *Tracker) MarkTerminated() {
	t.state = cachev1alpha1.InstanceStateTerminated
}

// State returns the current instance state.
func (t *Tracker) State() cachev1alpha1.InstanceState {
	return t.state
}

// ConsecutiveFailures returns the current readiness failure streak.
func (t *Tracker) ConsecutiveFailures() int32 {
	return t.consecutiveReadinessFailures
}

// LivenessExceeded reports whether the liveness failure threshold was crossed.
func (t *Tracker) LivenessExceeded() bool {
	return t.livenessExceeded
}
