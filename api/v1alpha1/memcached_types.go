/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// MemcachedFinalizer is the finalizer used to ensure cleanup logic runs
	// before a Memcached resource is fully deleted.
	MemcachedFinalizer = "cache.yashika.dev/memcached-finalizer"
)

// DeletionPolicy defines what happens to underlying resources when the CR is deleted.
// +kubebuilder:validation:Enum=Retain;Delete
type DeletionPolicy string

const (
	// DeletionPolicyRetain keeps the instance pod and Service in place.
	DeletionPolicyRetain DeletionPolicy = "Retain"
	// DeletionPolicyDelete removes the instance pod and Service.
	DeletionPolicyDelete DeletionPolicy = "Delete"
)

// UpdateStrategyType controls how spec changes are rolled out to the running instance.
// +kubebuilder:validation:Enum=RollingUpdate;OnDelete
type UpdateStrategyType string

const (
	// UpdateStrategyRollingUpdate replaces the instance by creating the new
	// one first, waiting for it to become Ready, and only then terminating
	// the old one. Availability never drops below one ready instance.
	UpdateStrategyRollingUpdate UpdateStrategyType = "RollingUpdate"
	// UpdateStrategyOnDelete leaves the running instance untouched; the new
	// revision is created only after the old pod is deleted.
	UpdateStrategyOnDelete UpdateStrategyType = "OnDelete"
)

// ServicePhase is a high-level summary of service state.
// +kubebuilder:validation:Enum=Pending;Starting;Running;Failing;Terminating
type ServicePhase string

const (
	ServicePhasePending     ServicePhase = "Pending"
	ServicePhaseStarting    ServicePhase = "Starting"
	ServicePhaseRunning     ServicePhase = "Running"
	ServicePhaseFailing     ServicePhase = "Failing"
	ServicePhaseTerminating ServicePhase = "Terminating"
)

// InstanceState is the probe-driven lifecycle state of a single cache instance.
// Transitions are threshold-driven: Starting -> Ready <-> Failing -> Terminated.
// +kubebuilder:validation:Enum=Starting;Ready;Failing;Terminated
type InstanceState string

const (
	InstanceStateStarting   InstanceState = "Starting"
	InstanceStateReady      InstanceState = "Ready"
	InstanceStateFailing    InstanceState = "Failing"
	InstanceStateTerminated InstanceState = "Terminated"
)

// ConditionType identifies a specific aspect of service health or lifecycle.
type ConditionType string

const (
	// ConditionAvailable indicates whether at least one instance is Ready.
	ConditionAvailable ConditionType = "Available"
	// ConditionDegraded indicates the operator has detected a problem requiring attention.
	ConditionDegraded ConditionType = "Degraded"
	// ConditionRollingOut indicates a rolling update is currently in progress.
	ConditionRollingOut ConditionType = "RollingOut"
)

// PortConfig declares the exposed memcached port.
type PortConfig struct {
	// Name is the port name used by the Service and container port.
	// +kubebuilder:default=memcache
	// +optional
	Name string `json:"name,omitempty"`
	// ContainerPort is the TCP port memcached listens on.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	// +kubebuilder:default=11211
	// +optional
	ContainerPort int32 `json:"containerPort,omitempty"`
	// Protocol is the port protocol. Only TCP is meaningful for memcached.
	// +kubebuilder:default=TCP
	// +optional
	Protocol corev1.Protocol `json:"protocol,omitempty"`
}

// ProbeConfig captures the timing parameters of a TCP-socket health check.
// All values are in seconds.
type ProbeConfig struct {
	// InitialDelaySeconds is how long to wait after instance creation before
	// probing. Zero means probe immediately; the operator defaults apply only
	// when the whole probe block is omitted.
	// +kubebuilder:validation:Minimum=0
	// +optional
	InitialDelaySeconds int32 `json:"initialDelaySeconds,omitempty"`
	// PeriodSeconds is the probe interval.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=10
	// +optional
	PeriodSeconds int32 `json:"periodSeconds,omitempty"`
	// TimeoutSeconds is the per-check dial timeout.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=1
	// +optional
	TimeoutSeconds int32 `json:"timeoutSeconds,omitempty"`
	// FailureThreshold is how many consecutive failures flip the check to failing.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=3
	// +optional
	FailureThreshold int32 `json:"failureThreshold,omitempty"`
	// SuccessThreshold is how many consecutive successes flip the check back to passing.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=1
	// +optional
	SuccessThreshold int32 `json:"successThreshold,omitempty"`
}

// ResourceQuantities holds cpu and memory quantity strings, for example
// "100m" and "64Mi". Values are validated by the admission webhook.
type ResourceQuantities struct {
	// +optional
	CPU string `json:"cpu,omitempty"`
	// +optional
	Memory string `json:"memory,omitempty"`
}

// ResourcesConfig captures compute resource requests and limits for the cache container.
type ResourcesConfig struct {
	// +optional
	Requests *ResourceQuantities `json:"requests,omitempty"`
	// +optional
	Limits *ResourceQuantities `json:"limits,omitempty"`
}

// MemcachedSpec defines the desired state of a single-instance memcached service.
type MemcachedSpec struct {
	// Replicas is the desired instance count. The service is managed with
	// ordered, stable identity semantics and is pinned to exactly one
	// replica; horizontal scaling is not supported.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=1
	// +kubebuilder:default=1
	// +optional
	Replicas int32 `json:"replicas,omitempty"`

	// Image is the memcached container image reference.
	// +kubebuilder:validation:MinLength=1
	Image string `json:"image"`

	// Args are command-line arguments passed to the memcached process, for
	// example ["--memory-limit=64", "-o", "modern", "-v"].
	// +optional
	Args []string `json:"args,omitempty"`

	// Resources declares cpu/memory requests and limits for the cache container.
	// +optional
	Resources *ResourcesConfig `json:"resources,omitempty"`

	// Port declares the exposed memcached port. Defaults to memcache/11211/TCP.
	// +optional
	Port *PortConfig `json:"port,omitempty"`

	// ReadinessProbe configures the TCP readiness check.
	// +optional
	ReadinessProbe *ProbeConfig `json:"readinessProbe,omitempty"`

	// LivenessProbe configures the TCP liveness check. Crossing its failure
	// threshold restarts the instance.
	// +optional
	LivenessProbe *ProbeConfig `json:"livenessProbe,omitempty"`

	// UpdateStrategy controls how spec changes reach the running instance.
	// +kubebuilder:default=RollingUpdate
	// +optional
	UpdateStrategy UpdateStrategyType `json:"updateStrategy,omitempty"`

	// TerminationGracePeriodSeconds bounds graceful shutdown; past this the
	// operator escalates to a forced delete. Defaults to 30.
	// +kubebuilder:validation:Minimum=0
	// +optional
	TerminationGracePeriodSeconds *int64 `json:"terminationGracePeriodSeconds,omitempty"`

	// DeletionPolicy defines what happens to the pod and Service when the
	// Memcached resource is deleted.
	// +kubebuilder:default=Delete
	// +optional
	DeletionPolicy DeletionPolicy `json:"deletionPolicy,omitempty"`

	// Paused suspends reconciliation while true.
	// +optional
	Paused bool `json:"paused,omitempty"`
}

// InstanceStatus reports the observed state of a single cache instance pod.
type InstanceStatus struct {
	// Name is the pod name.
	Name string `json:"name"`
	// Revision is the pod template revision the instance was created from.
	// +optional
	Revision string `json:"revision,omitempty"`
	// State is the probe-driven lifecycle state.
	// +optional
	State InstanceState `json:"state,omitempty"`
	// ConsecutiveFailures is the current readiness failure streak.
	// +optional
	ConsecutiveFailures int32 `json:"consecutiveFailures,omitempty"`
	// Restarts counts operator-issued instance restarts (liveness escalations).
	// +optional
	Restarts int32 `json:"restarts,omitempty"`
	// LastProbeTime is when the health monitor last checked the instance.
	// +optional
	LastProbeTime *metav1.Time `json:"lastProbeTime,omitempty"`
}

// MemcachedStatus defines the observed state of Memcached.
type MemcachedStatus struct {
	// Phase is a high-level summary of the service state.
	// +optional
	Phase ServicePhase `json:"phase,omitempty"`

	// ReadyReplicas is the number of instances currently Ready.
	// +optional
	ReadyReplicas int32 `json:"readyReplicas,omitempty"`

	// CurrentRevision is the revision of the instance currently serving traffic.
	// +optional
	CurrentRevision string `json:"currentRevision,omitempty"`

	// UpdateRevision is the revision computed from the current spec.
	// +optional
	UpdateRevision string `json:"updateRevision,omitempty"`

	// Instances lists per-pod observed state.
	// +optional
	Instances []InstanceStatus `json:"instances,omitempty"`

	// Conditions represent the latest available observations of service state.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// ObservedGeneration is the most recent generation observed by the controller.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Ready",type=integer,JSONPath=`.status.readyReplicas`
// +kubebuilder:printcolumn:name="Revision",type=string,JSONPath=`.status.currentRevision`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Memcached is the Schema for the memcacheds API.
type Memcached struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   MemcachedSpec   `json:"spec,omitempty"`
	Status MemcachedStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// MemcachedList contains a list of Memcached.
type MemcachedList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Memcached `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Memcached{}, &MemcachedList{})
}

// Defaults applied by the Effective* accessors when the spec leaves a field
// unset.
const (
	// DefaultPortName is the conventional name of the memcached port.
	DefaultPortName = "memcache"
	// DefaultPort is the memcached wire port.
	DefaultPort = int32(11211)
	// DefaultTerminationGracePeriodSeconds bounds instance shutdown when the
	// spec does not declare a grace period.
	DefaultTerminationGracePeriodSeconds = int64(30)
)

// EffectivePort returns the declared port with defaults applied.
func (m *Memcached) EffectivePort() PortConfig {
	port := PortConfig{
		Name:          DefaultPortName,
		ContainerPort: DefaultPort,
		Protocol:      corev1.ProtocolTCP,
	}
	if m.Spec.Port != nil {
		if m.Spec.Port.Name != "" {
			port.Name = m.Spec.Port.Name
		}
		if m.Spec.Port.ContainerPort != 0 {
			port.ContainerPort = m.Spec.Port.ContainerPort
		}
		if m.Spec.Port.Protocol != "" {
			port.Protocol = m.Spec.Port.Protocol
		}
	}
	return port
}

// EffectiveReadinessProbe returns the readiness probe timings with defaults applied.
func (m *Memcached) EffectiveReadinessProbe() ProbeConfig {
	return effectiveProbe(m.Spec.ReadinessProbe, ProbeConfig{
		InitialDelaySeconds: 5,
		PeriodSeconds:       10,
		TimeoutSeconds:      1,
		FailureThreshold:    3,
		SuccessThreshold:    1,
	})
}

// EffectiveLivenessProbe returns the liveness probe timings with defaults applied.
func (m *Memcached) EffectiveLivenessProbe() ProbeConfig {
	return effectiveProbe(m.Spec.LivenessProbe, ProbeConfig{
		InitialDelaySeconds: 30,
		PeriodSeconds:       10,
		TimeoutSeconds:      5,
		FailureThreshold:    3,
		SuccessThreshold:    1,
	})
}

// EffectiveUpdateStrategy returns the update strategy, defaulting to RollingUpdate.
func (m *Memcached) EffectiveUpdateStrategy() UpdateStrategyType {
	if m.Spec.UpdateStrategy == "" {
		return UpdateStrategyRollingUpdate
	}
	return m.Spec.UpdateStrategy
}

// EffectiveTerminationGracePeriodSeconds returns the grace period, defaulting to 30s.
func (m *Memcached) EffectiveTerminationGracePeriodSeconds() int64 {
	if m.Spec.TerminationGracePeriodSeconds == nil {
		return DefaultTerminationGracePeriodSeconds
	}
	return *m.Spec.TerminationGracePeriodSeconds
}

// EffectiveDeletionPolicy returns the deletion policy, defaulting to Delete.
func (m *Memcached) EffectiveDeletionPolicy() DeletionPolicy {
	if m.Spec.DeletionPolicy == "" {
		return DeletionPolicyDelete
	}
	return m.Spec.DeletionPolicy
}

func effectiveProbe(declared *ProbeConfig, defaults ProbeConfig) ProbeConfig {
	probe := defaults
	if declared == nil {
		return probe
	}
	// Taken verbatim: zero is a valid explicit choice (probe immediately),
	// matching the kubelet's semantics for an unset initial delay. The other
	// fields have a minimum of 1, so zero there can only mean unset.
	probe.InitialDelaySeconds = declared.InitialDelaySeconds
	if declared.PeriodSeconds > 0 {
		probe.PeriodSeconds = declared.PeriodSeconds
	}
	if declared.TimeoutSeconds > 0 {
		probe.TimeoutSeconds = declared.TimeoutSeconds
	}
	if declared.FailureThreshold > 0 {
		probe.FailureThreshold = declared.FailureThreshold
	}
	if declared.SuccessThreshold > 0 {
		probe.SuccessThreshold = declared.SuccessThreshold
	}
	return probe
}
