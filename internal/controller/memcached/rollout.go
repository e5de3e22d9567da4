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
	"sort"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
	"github.com/yashika/memcached-operator/internal/constants"
	controllermetrics "github.com/yashika/memcached-operator/internal/controller"
	"github.com/yashika/memcached-operator/internal/health"
	inframanager "github.com/yashika/memcached-operator/internal/infra"
	"github.com/yashika/memcached-operator/internal/logging"
	"github.com/yashika/memcached-operator/internal/reconcile"
	"github.com/yashika/memcached-operator/internal/revision"
	"github.com/yashika/memcached-operator/internal/status"
)

// reconcileInstances drives the instance pods toward the revision computed
// from the current spec. Creation always precedes termination: during a
// rolling update the superseded pod keeps serving until the replacement
// reports Ready, so availability never drops below one ready instance.
func (r *MemcachedReconciler) reconcileInstances(ctx context.Context, logger logr.Logger, mc *cachev1alpha1.Memcached) (reconcile.Result, error) {
	key := types.NamespacedName{Namespace: mc.Namespace, Name: mc.Name}
	updateRev := revision.PodRevision(mc)
	serviceMetrics := controllermetrics.NewServiceMetrics(mc.Namespace, mc.Name)

	pods, err := r.Infra.ListInstancePods(ctx, mc)
	if err != nil {
		return reconcile.Result{}, err
	}

	var result reconcile.Result
	var active []corev1.Pod

	// Terminating pods are no longer probed. A pod that outlives its grace
	// period by more than the margin is force deleted.
	for i := range pods {
		pod := &pods[i]
		if pod.DeletionTimestamp.IsZero() {
			active = append(active, *pod)
			continue
		}

		r.Monitor.Forget(key, pod.Name)
		if time.Now().After(pod.DeletionTimestamp.Add(constants.ForcedDeleteMargin)) {
			logger.Info("pod exceeded termination grace period, escalating to forced delete", "pod", pod.Name)
			if err := r.Infra.ForceDeletePod(ctx, logger, mc, pod.Name); err != nil {
				return result, err
			}
			serviceMetrics.RecordForcedDelete()
			logging.LogAuditEvent(logger, logging.EventForcedDelete, map[string]string{
				"pod":    pod.Name,
				"reason": "termination grace period exceeded",
			})
		}
		result.RequeueAfter = constants.RequeueShort
	}

	for i := range active {
		r.Monitor.Track(health.Target{
			Owner:     key,
			PodName:   active[i].Name,
			Addr:      inframanager.PodAddr(mc, active[i].Name),
			Readiness: mc.EffectiveReadinessProbe(),
			Liveness:  mc.EffectiveLivenessProbe(),
		})
	}

	snapshot := r.Monitor.Snapshot(key)

	// Liveness escalations restart the instance by deleting its pod; the
	// replacement is created on a subsequent pass once the pod is gone.
	restarted := false
	for i := range active {
		pod := &active[i]
		obs, ok := snapshot[pod.Name]
		if !ok || !obs.LivenessExceeded {
			continue
		}

		logger.Info("restarting instance after liveness escalation", "pod", pod.Name)
		if err := r.Infra.DeletePod(ctx, logger, mc, pod.Name, mc.EffectiveTerminationGracePeriodSeconds()); err != nil {
			return result, err
		}
		r.Monitor.Forget(key, pod.Name)
		serviceMetrics.RecordRestart()
		r.bumpRestartCount(mc, pod.Name)
		logging.LogAuditEvent(logger, logging.EventInstanceRestart, map[string]string{
			"pod":    pod.Name,
			"reason": "liveness threshold exceeded",
		})
		restarted = true
	}
	if restarted {
		result.RequeueAfter = constants.RequeueShort
		return result, nil
	}

	desiredName := inframanager.PodName(mc, updateRev)
	desiredExists := false
	var oldPods []corev1.Pod
	for i := range active {
		if active[i].Name == desiredName {
			desiredExists = true
		} else {
			oldPods = append(oldPods, active[i])
		}
	}

	if !desiredExists {
		switch {
		case len(oldPods) == 0:
			// Initial creation, replacement after a restart, or a new revision
			// under OnDelete once the old pod is gone.
			if _, err := r.Infra.EnsurePod(ctx, logger, mc, updateRev); err != nil {
				return result, err
			}
			r.trackInstance(mc, key, desiredName)
			result.RequeueAfter = constants.RequeueShort

		case mc.EffectiveUpdateStrategy() == cachev1alpha1.UpdateStrategyOnDelete:
			logger.V(1).Info("spec changed but update strategy is OnDelete; waiting for pod deletion",
				"currentPod", oldPods[0].Name, "pendingRevision", updateRev)

		default:
			// RollingUpdate: surge create the replacement while the old
			// instance keeps serving.
			logger.Info("starting rolling update", "revision", updateRev)
			if _, err := r.Infra.EnsurePod(ctx, logger, mc, updateRev); err != nil {
				return result, err
			}
			serviceMetrics.RecordRolloutStarted()
			logging.LogAuditEvent(logger, logging.EventRolloutStarted, map[string]string{
				"revision": updateRev,
			})
			r.trackInstance(mc, key, desiredName)
			result.RequeueAfter = constants.RequeueShort
		}

		return result, nil
	}

	if len(oldPods) > 0 {
		obs, ok := snapshot[desiredName]
		if ok && obs.State == cachev1alpha1.InstanceStateReady {
			for i := range oldPods {
				logger.Info("terminating superseded instance", "pod", oldPods[i].Name)
				if err := r.Infra.DeletePod(ctx, logger, mc, oldPods[i].Name, mc.EffectiveTerminationGracePeriodSeconds()); err != nil {
					return result, err
				}
				r.Monitor.Forget(key, oldPods[i].Name)
			}
		} else {
			logger.V(1).Info("waiting for new instance to become Ready before terminating old one",
				"pod", desiredName)
		}
		result.RequeueAfter = constants.RequeueShort
	}

	return result, nil
}

// trackInstance registers a freshly created pod with the health monitor so
// probing starts without waiting for the next list.
func (r *MemcachedReconciler) trackInstance(mc *cachev1alpha1.Memcached, key types.NamespacedName, podName string) {
	r.Monitor.Track(health.Target{
		Owner:     key,
		PodName:   podName,
		Addr:      inframanager.PodAddr(mc, podName),
		Readiness: mc.EffectiveReadinessProbe(),
		Liveness:  mc.EffectiveLivenessProbe(),
	})
}

// bumpRestartCount increments the per-instance restart counter carried in
// status across pod recreations.
func (r *MemcachedReconciler) bumpRestartCount(mc *cachev1alpha1.Memcached, podName string) {
	for i := range mc.Status.Instances {
		if mc.Status.Instances[i].Name == podName {
			mc.Status.Instances[i].Restarts++
			return
		}
	}
	mc.Status.Instances = append(mc.Status.Instances, cachev1alpha1.InstanceStatus{
		Name:     podName,
		Restarts: 1,
	})
}

func (r *MemcachedReconciler) updateStatus(ctx context.Context, logger logr.Logger, mc *cachev1alpha1.Memcached) error {
	key := types.NamespacedName{Namespace: mc.Namespace, Name: mc.Name}
	updateRev := revision.PodRevision(mc)

	pods, err := r.Infra.ListInstancePods(ctx, mc)
	if err != nil {
		return err
	}
	snapshot := r.Monitor.Snapshot(key)

	prev := make(map[string]cachev1alpha1.InstanceStatus, len(mc.Status.Instances))
	for _, inst := range mc.Status.Instances {
		prev[inst.Name] = inst
	}

	var readyReplicas int32
	anyFailing := false
	currentRev := mc.Status.CurrentRevision
	instances := make([]cachev1alpha1.InstanceStatus, 0, len(pods))

	for i := range pods {
		pod := &pods[i]
		entry := cachev1alpha1.InstanceStatus{
			Name:     pod.Name,
			Revision: pod.Labels[constants.LabelMemcachedRevision],
		}
		if old, ok := prev[pod.Name]; ok {
			entry.Restarts = old.Restarts
		}

		switch obs, ok := snapshot[pod.Name]; {
		case !pod.DeletionTimestamp.IsZero():
			entry.State = cachev1alpha1.InstanceStateTerminated
		case ok:
			entry.State = obs.State
			entry.ConsecutiveFailures = obs.ConsecutiveFailures
			if !obs.LastProbeTime.IsZero() {
				probeTime := metav1.NewTime(obs.LastProbeTime)
				entry.LastProbeTime = &probeTime
			}
		default:
			entry.State = cachev1alpha1.InstanceStateStarting
		}

		if entry.State == cachev1alpha1.InstanceStateReady {
			readyReplicas++
			currentRev = entry.Revision
		}
		if entry.State == cachev1alpha1.InstanceStateFailing {
			anyFailing = true
		}

		instances = append(instances, entry)
	}

	// A restarted instance keeps its pod name. While the old pod is gone and
	// the replacement has not been created yet, carry the restart counter as a
	// Terminated placeholder so it survives the gap.
	desiredName := inframanager.PodName(mc, updateRev)
	seen := false
	for i := range instances {
		if instances[i].Name == desiredName {
			seen = true
			break
		}
	}
	if !seen {
		if old, ok := prev[desiredName]; ok && old.Restarts > 0 {
			instances = append(instances, cachev1alpha1.InstanceStatus{
				Name:     old.Name,
				Revision: old.Revision,
				State:    cachev1alpha1.InstanceStateTerminated,
				Restarts: old.Restarts,
			})
		}
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })

	if currentRev == "" && len(instances) > 0 {
		currentRev = instances[0].Revision
	}

	mc.Status.Instances = instances
	mc.Status.ReadyReplicas = readyReplicas
	mc.Status.CurrentRevision = currentRev
	mc.Status.UpdateRevision = updateRev
	mc.Status.ObservedGeneration = mc.Generation

	switch {
	case readyReplicas > 0:
		status.True(&mc.Status.Conditions, mc.Generation,
			cachev1alpha1.ConditionAvailable, status.ReasonInstanceReady,
			fmt.Sprintf("%d instance(s) ready", readyReplicas))
	case len(instances) == 0:
		status.False(&mc.Status.Conditions, mc.Generation,
			cachev1alpha1.ConditionAvailable, status.ReasonNoInstance,
			"No instance exists yet")
	case anyFailing:
		status.False(&mc.Status.Conditions, mc.Generation,
			cachev1alpha1.ConditionAvailable, status.ReasonInstanceFailing,
			"Instance is failing readiness probes")
	default:
		status.False(&mc.Status.Conditions, mc.Generation,
			cachev1alpha1.ConditionAvailable, status.ReasonInstanceStarting,
			"Instance is starting")
	}

	rollingOut := mc.EffectiveUpdateStrategy() == cachev1alpha1.UpdateStrategyRollingUpdate &&
		len(instances) > 0 && currentRev != updateRev
	if rollingOut {
		status.True(&mc.Status.Conditions, mc.Generation,
			cachev1alpha1.ConditionRollingOut, status.ReasonRolloutInProgress,
			fmt.Sprintf("Rolling out revision %s", updateRev))
	} else {
		status.False(&mc.Status.Conditions, mc.Generation,
			cachev1alpha1.ConditionRollingOut, status.ReasonRolloutComplete,
			"No rollout in progress")
	}

	// Only reset Degraded when it was not latched by an earlier error path.
	if degraded := status.Get(mc.Status.Conditions, cachev1alpha1.ConditionDegraded); degraded == nil || degraded.ObservedGeneration < mc.Generation {
		status.False(&mc.Status.Conditions, mc.Generation,
			cachev1alpha1.ConditionDegraded, status.ReasonReconciling,
			"No degradation has been recorded by the controller")
	}

	mc.Status.Phase = status.DerivePhase(mc)

	serviceMetrics := controllermetrics.NewServiceMetrics(mc.Namespace, mc.Name)
	serviceMetrics.SetReadyReplicas(readyReplicas)
	serviceMetrics.SetPhase(mc.Status.Phase)

	if err := r.Status().Update(ctx, mc); err != nil {
		return fmt.Errorf("failed to update status for Memcached %s/%s: %w", mc.Namespace, mc.Name, err)
	}

	logger.V(1).Info("updated status",
		"readyReplicas", readyReplicas, "phase", mc.Status.Phase,
		"currentRevision", currentRev, "updateRevision", updateRev)

	return nil
}
