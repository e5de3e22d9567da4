package status

import (
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
)

// Condition reasons reported on Memcached resources.
const (
	ReasonInstanceReady      = "InstanceReady"
	ReasonInstanceStarting   = "InstanceStarting"
	ReasonInstanceFailing    = "InstanceFailing"
	ReasonNoInstance         = "NoInstance"
	ReasonRolloutInProgress  = "RolloutInProgress"
	ReasonRolloutComplete    = "RolloutComplete"
	ReasonReconcilePaused    = "ReconcilePaused"
	ReasonReconciling        = "Reconciling"
	ReasonTerminating        = "Terminating"
	ReasonConfigurationError = "ConfigurationError"
)

// Set adds or updates a condition in the condition slice.
// It sets LastTransitionTime to the current time and ObservedGeneration to the provided generation.
func Set(conditions *[]metav1.Condition, generation int64, conditionType cachev1alpha1.ConditionType, status metav1.ConditionStatus, reason, message string) {
	meta.SetStatusCondition(conditions, metav1.Condition{
		Type:               string(conditionType),
		Status:             status,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: generation,
		LastTransitionTime: metav1.Now(),
	})
}

// True sets a condition to True status.
func True(conditions *[]metav1.Condition, generation int64, conditionType cachev1alpha1.ConditionType, reason, message string) {
	Set(conditions, generation, conditionType, metav1.ConditionTrue, reason, message)
}

// False sets a condition to False status.
func False(conditions *[]metav1.Condition, generation int64, conditionType cachev1alpha1.ConditionType, reason, message string) {
	Set(conditions, generation, conditionType, metav1.ConditionFalse, reason, message)
}

// Unknown sets a condition to Unknown status.
func Unknown(conditions *[]metav1.Condition, generation int64, conditionType cachev1alpha1.ConditionType, reason, message string) {
	Set(conditions, generation, conditionType, metav1.ConditionUnknown, reason, message)
}

// Remove removes a condition from the slice.
func Remove(conditions *[]metav1.Condition, conditionType cachev1alpha1.ConditionType) {
	meta.RemoveStatusCondition(conditions, string(conditionType))
}

// Get returns the condition with the given type, or nil if not found.
func Get(conditions []metav1.Condition, conditionType cachev1alpha1.ConditionType) *metav1.Condition {
	return meta.FindStatusCondition(conditions, string(conditionType))
}

// IsTrue returns true if the condition with the given type has Status=True.
func IsTrue(conditions []metav1.Condition, conditionType cachev1alpha1.ConditionType) bool {
	return meta.IsStatusConditionTrue(conditions, string(conditionType))
}

// IsFalse returns true if the condition with the given type has Status=False.
func IsFalse(conditions []metav1.Condition, conditionType cachev1alpha1.ConditionType) bool {
	return meta.IsStatusConditionFalse(conditions, string(conditionType))
}

// DerivePhase summarizes instance states into a service-level phase.
// Terminating wins over everything; otherwise the phase follows the state of
// the current-revision instance.
func DerivePhase(mc *cachev1alpha1.Memcached) cachev1alpha1.ServicePhase {
	if mc.DeletionTimestamp != nil && !mc.DeletionTimestamp.IsZero() {
		return cachev1alpha1.ServicePhaseTerminating
	}

	if len(mc.Status.Instances) == 0 {
		return cachev1alpha1.ServicePhasePending
	}

	var phase cachev1alpha1.ServicePhase = cachev1alpha1.ServicePhaseStarting
	for i := range mc.Status.Instances {
		switch mc.Status.Instances[i].State {
		case cachev1alpha1.InstanceStateReady:
			// One ready instance is enough to call the service running.
			return cachev1alpha1.ServicePhaseRunning
		case cachev1alpha1.InstanceStateFailing:
			phase = cachev1alpha1.ServicePhaseFailing
		}
	}

	return phase
}
