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

package memcached

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/source"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
	"github.com/yashika/memcached-operator/internal/constants"
	controllermetrics "github.com/yashika/memcached-operator/internal/controller"
	operatorerrors "github.com/yashika/memcached-operator/internal/errors"
	"github.com/yashika/memcached-operator/internal/health"
	inframanager "github.com/yashika/memcached-operator/internal/infra"
	"github.com/yashika/memcached-operator/internal/logging"
	"github.com/yashika/memcached-operator/internal/status"
)

// HealthMonitor is the view of the health monitor the reconciler needs:
// registering and dropping probe targets and reading observed instance state.
// *health.Monitor implements it.
type HealthMonitor interface {
	Track(target health.Target)
	Forget(owner types.NamespacedName, podName string)
	ForgetAll(owner types.NamespacedName)
	Snapshot(owner types.NamespacedName) map[string]health.Observation
}

// MemcachedReconciler reconciles a Memcached object.
type MemcachedReconciler struct {
	client.Client
	Scheme  *runtime.Scheme
	Infra   *inframanager.Manager
	Monitor HealthMonitor

	// Events carries reconcile triggers published by the health monitor.
	Events chan event.GenericEvent
}

// +kubebuilder:rbac:groups=cache.yashika.dev,resources=memcacheds,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=cache.yashika.dev,resources=memcacheds/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=cache.yashika.dev,resources=memcacheds/finalizers,verbs=update
// +kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=services,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile is part of the main Kubernetes reconciliation loop which aims to
// move the current state of the cluster closer to the desired state.
func (r *MemcachedReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	reconcileMetrics := controllermetrics.NewReconcileMetrics(req.Namespace, req.Name, "memcached")
	startTime := time.Now()
	var reconcileErr error
	defer func() {
		reconcileMetrics.ObserveDuration(time.Since(startTime).Seconds())
		if reconcileErr != nil {
			// Use a low-cardinality reason; additional classification can be
			// added later without changing the metric shape.
			reconcileMetrics.IncrementError("Error")
		}
	}()

	logger := log.FromContext(ctx).WithValues(
		"memcached_namespace", req.Namespace,
		"memcached_name", req.Name,
		"controller", "memcached",
	)

	logger.V(1).Info("reconciling Memcached")

	mc := &cachev1alpha1.Memcached{}
	if err := r.Get(ctx, req.NamespacedName, mc); err != nil {
		if apierrors.IsNotFound(err) {
			// Resource is gone; drop any probe workers that survived deletion.
			r.Monitor.ForgetAll(req.NamespacedName)
			return ctrl.Result{}, nil
		}

		reconcileErr = fmt.Errorf("failed to get Memcached %s/%s: %w", req.Namespace, req.Name, err)
		return ctrl.Result{}, reconcileErr
	}

	if !mc.DeletionTimestamp.IsZero() {
		logger.Info("Memcached is marked for deletion")
		if containsFinalizer(mc.Finalizers, cachev1alpha1.MemcachedFinalizer) {
			if err := r.handleDeletion(ctx, logger, mc); err != nil {
				reconcileErr = err
				return ctrl.Result{}, reconcileErr
			}

			mc.Finalizers = removeFinalizer(mc.Finalizers, cachev1alpha1.MemcachedFinalizer)
			if err := r.Update(ctx, mc); err != nil {
				reconcileErr = fmt.Errorf("failed to remove finalizer from Memcached %s/%s: %w", mc.Namespace, mc.Name, err)
				return ctrl.Result{}, reconcileErr
			}
		}

		return ctrl.Result{}, nil
	}

	// The defaulting webhook normally injects the finalizer; this covers
	// resources created while the webhook was unavailable.
	if !containsFinalizer(mc.Finalizers, cachev1alpha1.MemcachedFinalizer) {
		mc.Finalizers = append(mc.Finalizers, cachev1alpha1.MemcachedFinalizer)
		if err := r.Update(ctx, mc); err != nil {
			reconcileErr = fmt.Errorf("failed to add finalizer to Memcached %s/%s: %w", mc.Namespace, mc.Name, err)
			return ctrl.Result{}, reconcileErr
		}

		// Requeue to observe the resource with the finalizer attached.
		return ctrl.Result{}, nil
	}

	if mc.Spec.Paused {
		logger.Info("reconciliation is paused for Memcached")
		if err := r.updateStatusForPaused(ctx, logger, mc); err != nil {
			reconcileErr = err
			return ctrl.Result{}, reconcileErr
		}
		return ctrl.Result{}, nil
	}

	if err := r.Infra.EnsureHeadlessService(ctx, logger, mc); err != nil {
		reconcileErr = err
		return ctrl.Result{}, reconcileErr
	}

	instanceResult, err := r.reconcileInstances(ctx, logger, mc)
	if err != nil {
		if operatorerrors.IsPermanent(err) {
			// Permanent errors need a spec change; surface them via the
			// Degraded condition instead of hot-looping the workqueue.
			status.True(&mc.Status.Conditions, mc.Generation,
				cachev1alpha1.ConditionDegraded, status.ReasonConfigurationError, err.Error())
			if statusErr := r.Status().Update(ctx, mc); statusErr != nil {
				reconcileErr = fmt.Errorf("failed to update Degraded condition for Memcached %s/%s: %w", mc.Namespace, mc.Name, statusErr)
				return ctrl.Result{}, reconcileErr
			}
			logger.Error(err, "permanent configuration error; waiting for spec change")
			return ctrl.Result{}, nil
		}

		reconcileErr = err
		return ctrl.Result{}, reconcileErr
	}

	if err := r.updateStatus(ctx, logger, mc); err != nil {
		reconcileErr = err
		return ctrl.Result{}, reconcileErr
	}

	if instanceResult.RequeueAfter > 0 {
		return ctrl.Result{RequeueAfter: instanceResult.RequeueAfter}, nil
	}

	// Safety net: periodically requeue to catch drift and any monitor
	// notification that was rate limited or dropped. The interval is long to
	// minimize API load.
	jitterNanos := time.Now().UnixNano() % int64(constants.RequeueSafetyNetJitter)
	requeueAfter := constants.RequeueSafetyNetBase + time.Duration(jitterNanos)

	logger.V(1).Info("reconciliation complete; scheduling safety net requeue", "requeueAfter", requeueAfter)

	return ctrl.Result{RequeueAfter: requeueAfter}, nil
}

// handleDeletion stops health monitoring, removes infrastructure according to
// the deletion policy, and clears per-service metrics.
func (r *MemcachedReconciler) handleDeletion(ctx context.Context, logger logr.Logger, mc *cachev1alpha1.Memcached) error {
	key := types.NamespacedName{Namespace: mc.Namespace, Name: mc.Name}
	r.Monitor.ForgetAll(key)

	if err := r.Infra.Cleanup(ctx, logger, mc, mc.EffectiveDeletionPolicy()); err != nil {
		return fmt.Errorf("failed to clean up infrastructure for Memcached %s/%s: %w", mc.Namespace, mc.Name, err)
	}

	controllermetrics.NewServiceMetrics(mc.Namespace, mc.Name).Clear()

	logging.LogAuditEvent(logger, logging.EventServiceDeletion, map[string]string{
		"deletion_policy": string(mc.EffectiveDeletionPolicy()),
	})

	return nil
}

func (r *MemcachedReconciler) updateStatusForPaused(ctx context.Context, logger logr.Logger, mc *cachev1alpha1.Memcached) error {
	status.True(&mc.Status.Conditions, mc.Generation,
		cachev1alpha1.ConditionDegraded, status.ReasonReconcilePaused,
		"Reconciliation is paused via spec.paused")
	mc.Status.ObservedGeneration = mc.Generation

	if err := r.Status().Update(ctx, mc); err != nil {
		return fmt.Errorf("failed to update status for paused Memcached %s/%s: %w", mc.Namespace, mc.Name, err)
	}

	logger.Info("updated status for paused Memcached")

	return nil
}

func containsFinalizer(finalizers []string, value string) bool {
	for _, f := range finalizers {
		if f == value {
			return true
		}
	}
	return false
}

func removeFinalizer(finalizers []string, value string) []string {
	result := make([]string, 0, len(finalizers))
	for _, f := range finalizers {
		if f == value {
			continue
		}
		result = append(result, f)
	}
	return result
}

// SetupWithManager sets up the controller with the Manager. Besides the usual
// ownership watches on Pods and Services, the controller consumes the health
// monitor's event channel so probe-driven state transitions trigger an
// immediate reconcile instead of waiting for the safety net requeue.
func (r *MemcachedReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&cachev1alpha1.Memcached{}).
		Owns(&corev1.Pod{}).
		Owns(&corev1.Service{}).
		WatchesRawSource(source.Channel(r.Events, &handler.EnqueueRequestForObject{})).
		WithOptions(controller.Options{
			MaxConcurrentReconciles: 3,
			RateLimiter:             workqueue.NewTypedItemExponentialFailureRateLimiter[ctrl.Request](1*time.Second, 60*time.Second),
		}).
		Named("memcached").
		Complete(r)
}
