package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
)

var (
	reconcileDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memcached",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation loops in seconds",
			// Buckets chosen to capture fast reconciles and longer tail up to 60s.
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"namespace", "name", "controller"},
	)

	reconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memcached",
			Name:      "reconcile_errors_total",
			Help:      "Total number of reconciliation errors",
		},
		[]string{"namespace", "name", "controller", "reason"},
	)

	serviceReadyReplicasGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "memcached",
			Name:      "service_ready_replicas",
			Help:      "Number of Ready instances for a Memcached service",
		},
		[]string{"namespace", "name"},
	)

	servicePhaseGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "memcached",
			Name:      "service_phase",
			Help:      "Current phase of a Memcached service (1 = active phase)",
		},
		[]string{"namespace", "name", "phase"},
	)

	instanceRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memcached",
			Name:      "instance_restarts_total",
			Help:      "Total number of operator-issued instance restarts after liveness escalations",
		},
		[]string{"namespace", "name"},
	)

	rolloutsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memcached",
			Name:      "rollouts_started_total",
			Help:      "Total number of rolling updates started",
		},
		[]string{"namespace", "name"},
	)

	forcedDeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memcached",
			Name:      "forced_deletes_total",
			Help:      "Total number of pods force deleted after exceeding their grace period",
		},
		[]string{"namespace", "name"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		reconcileDurationHistogram,
		reconcileErrorsTotal,
		serviceReadyReplicasGauge,
		servicePhaseGauge,
		instanceRestartsTotal,
		rolloutsStartedTotal,
		forcedDeletesTotal,
	)
}

// ReconcileMetrics provides helpers to record reconcile-level metrics for a
// specific controller and Memcached service.
type ReconcileMetrics struct {
	namespace  string
	name       string
	controller string
}

// NewReconcileMetrics creates a new ReconcileMetrics instance.
func NewReconcileMetrics(namespace, name, controller string) *ReconcileMetrics {
	return &ReconcileMetrics{
		namespace:  namespace,
		name:       name,
		controller: controller,
	}
}

// ObserveDuration records the duration of a reconcile loop in seconds.
func (m *ReconcileMetrics) ObserveDuration(durationSeconds float64) {
	reconcileDurationHistogram.
		WithLabelValues(m.namespace, m.name, m.controller).
		Observe(durationSeconds)
}

// IncrementError increments the reconcile error counter with the given reason.
// Reason values should be low-cardinality strings (for example, "KubernetesAPIError").
func (m *ReconcileMetrics) IncrementError(reason string) {
	reconcileErrorsTotal.
		WithLabelValues(m.namespace, m.name, m.controller, reason).
		Inc()
}

// ServiceMetrics provides helpers to record per-service state metrics.
type ServiceMetrics struct {
	namespace string
	name      string
}

// NewServiceMetrics creates a new ServiceMetrics instance.
func NewServiceMetrics(namespace, name string) *ServiceMetrics {
	return &ServiceMetrics{
		namespace: namespace,
		name:      name,
	}
}

// SetReadyReplicas records the number of Ready instances for the service.
func (m *ServiceMetrics) SetReadyReplicas(readyReplicas int32) {
	serviceReadyReplicasGauge.
		WithLabelValues(m.namespace, m.name).
		Set(float64(readyReplicas))
}

// SetPhase records the current phase for the service. The gauge is set to 1
// for the provided phase. Other historical phase series will naturally age
// out in Prometheus retention.
func (m *ServiceMetrics) SetPhase(phase cachev1alpha1.ServicePhase) {
	servicePhaseGauge.
		WithLabelValues(m.namespace, m.name, string(phase)).
		Set(1.0)
}

// RecordRestart records an operator-issued instance restart.
func (m *ServiceMetrics) RecordRestart() {
	instanceRestartsTotal.
		WithLabelValues(m.namespace, m.name).
		Inc()
}

// RecordRolloutStarted records the start of a rolling update.
func (m *ServiceMetrics) RecordRolloutStarted() {
	rolloutsStartedTotal.
		WithLabelValues(m.namespace, m.name).
		Inc()
}

// RecordForcedDelete records a forced pod deletion after the grace period ran out.
func (m *ServiceMetrics) RecordForcedDelete() {
	forcedDeletesTotal.
		WithLabelValues(m.namespace, m.name).
		Inc()
}

// Clear removes all per-service metrics for this service. This should be
// called during finalization to avoid leaving stale series after deletion.
func (m *ServiceMetrics) Clear() {
	serviceReadyReplicasGauge.
		DeleteLabelValues(m.namespace, m.name)

	for _, phase := range []cachev1alpha1.ServicePhase{
		cachev1alpha1.ServicePhasePending,
		cachev1alpha1.ServicePhaseStarting,
		cachev1alpha1.ServicePhaseRunning,
		cachev1alpha1.ServicePhaseFailing,
		cachev1alpha1.ServicePhaseTerminating,
	} {
		servicePhaseGauge.
			DeleteLabelValues(m.namespace, m.name, string(phase))
	}
}
