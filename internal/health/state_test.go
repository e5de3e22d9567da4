package health

import (
	"testing"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
)

func defaultProbes() (readiness, liveness cachev1alpha1.ProbeConfig) {
	readiness = cachev1alpha1.ProbeConfig{
		PeriodSeconds:    10,
		TimeoutSeconds:   1,
		FailureThreshold: 3,
		SuccessThreshold: 1,
	}
	liveness = cachev1alpha1.ProbeConfig{
		PeriodSeconds:    10,
		TimeoutSeconds:   5,
		FailureThreshold: 3,
		SuccessThreshold: 1,
	}
	return readiness, liveness
}

func TestTrackerStartsInStarting(t *testing.T) {
	tr := NewTracker(defaultProbes())
	if tr.State() != cachev1alpha1.InstanceStateStarting {
		t.Fatalf("initial state = %v, want Starting", tr.State())
	}
}

func TestStartingNeverRegressesOnFailure(t *testing.T) {
	tr := NewTracker(defaultProbes())

	for i := 0; i < 10; i++ {
		if changed := tr.ObserveReadiness(false); changed {
			t.Fatal("failure during Starting should not change state")
		}
	}
	if tr.State() != cachev1alpha1.InstanceStateStarting {
		t.Fatalf("state = %v, want Starting after repeated failures", tr.State())
	}
	if tr.ConsecutiveFailures() != 10 {
		t.Errorf("ConsecutiveFailures = %d, want 10", tr.ConsecutiveFailures())
	}
}

func TestStartingToReadyOnSuccessThreshold(t *testing.T) {
	readiness, liveness := defaultProbes()
	readiness.SuccessThreshold = 2
	tr := NewTracker(readiness, liveness)

	if tr.ObserveReadiness(true) {
		t.Fatal("one success should not satisfy a threshold of two")
	}
	if !tr.ObserveReadiness(true) {
		t.Fatal("second success should transition to Ready")
	}
	if tr.State() != cachev1alpha1.InstanceStateReady {
		t.Fatalf("state = %v, want Ready", tr.State())
	}
}

func TestReadyToFailingAndBack(t *testing.T) {
	tr := NewTracker(defaultProbes())
	tr.ObserveReadiness(true)

	// Two failures stay below the threshold of three.
	tr.ObserveReadiness(false)
	tr.ObserveReadiness(false)
	if tr.State() != cachev1alpha1.InstanceStateReady {
		t.Fatalf("state = %v, want Ready below failure threshold", tr.State())
	}

	if !tr.ObserveReadiness(false) {
		t.Fatal("third failure should transition to Failing")
	}
	if tr.State() != cachev1alpha1.InstanceStateFailing {
		t.Fatalf("state = %v, want Failing", tr.State())
	}

	if !tr.ObserveReadiness(true) {
		t.Fatal("success at threshold one should transition back to Ready")
	}
	if tr.State() != cachev1alpha1.InstanceStateReady {
		t.Fatalf("state = %v, want Ready after recovery", tr.State())
	}
	if tr.ConsecutiveFailures() != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after recovery", tr.ConsecutiveFailures())
	}
}

func TestFailureStreakResetOnSuccess(t *testing.T) {
	tr := NewTracker(defaultProbes())
	tr.ObserveReadiness(true)

	tr.ObserveReadiness(false)
	tr.ObserveReadiness(false)
	tr.ObserveReadiness(true)
	tr.ObserveReadiness(false)
	tr.ObserveReadiness(false)

	// Streak was broken; the instance must still be Ready.
	if tr.State() != cachev1alpha1.InstanceStateReady {
		t.Fatalf("state = %v, want Ready with broken failure streak", tr.State())
	}
}

func TestLivenessEscalation(t *testing.T) {
	tr := NewTracker(defaultProbes())

	tr.ObserveLiveness(false)
	tr.ObserveLiveness(false)
	if tr.LivenessExceeded() {
		t.Fatal("escalation latched below threshold")
	}

	// A success resets the streak.
	tr.ObserveLiveness(true)
	tr.ObserveLiveness(false)
	tr.ObserveLiveness(false)
	if tr.LivenessExceeded() {
		t.Fatal("escalation latched after reset")
	}

	tr.ObserveLiveness(false)
	if !tr.LivenessExceeded() {
		t.Fatal("escalation should latch at the failure threshold")
	}

	// Latched escalation survives later successes.
	tr.ObserveLiveness(true)
	if !tr.LivenessExceeded() {
		t.Fatal("escalation must stay latched until the instance is replaced")
	}
}

func TestTerminatedIgnoresObservations(t *testing.T) {
	tr := NewTracker(defaultProbes())
	tr.ObserveReadiness(true)
	tr.MarkTerminated()

	if tr.ObserveReadiness(true) {
		t.Fatal("terminated tracker should ignore readiness observations")
	}
	tr.ObserveLiveness(false)
	tr.ObserveLiveness(false)
	tr.ObserveLiveness(false)
	if tr.LivenessExceeded() {
		t.Fatal("terminated tracker should ignore liveness observations")
	}
	if tr.State() != cachev1alpha1.InstanceStateTerminated {
		t.Fatalf("state = %v, want Terminated", tr.State())
	}
}
