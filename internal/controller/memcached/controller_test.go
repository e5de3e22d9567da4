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
	"sync"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/event"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
	"github.com/yashika/memcached-operator/internal/health"
	inframanager "github.com/yashika/memcached-operator/internal/infra"
	"github.com/yashika/memcached-operator/internal/revision"
	"github.com/yashika/memcached-operator/internal/status"
)

var testScheme = func() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	_ = cachev1alpha1.AddToScheme(scheme)
	return scheme
}()

// stubMonitor records Track/Forget calls and serves canned observations.
type stubMonitor struct {
	mu           sync.Mutex
	tracked      map[string]health.Target
	observations map[string]health.Observation
	forgotten    []string
	forgotAll    []types.NamespacedName
}

func newStubMonitor() *stubMonitor {
	return &stubMonitor{
		tracked:      make(map[string]health.Target),
		observations: make(map[string]health.Observation),
	}
}

func (s *stubMonitor) Track(target health.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[target.PodName] = target
}

func (s *stubMonitor) Forget(_ types.NamespacedName, podName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, podName)
	delete(s.observations, podName)
	s.forgotten = append(s.forgotten, podName)
}

func (s *stubMonitor) ForgetAll(owner types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotAll = append(s.forgotAll, owner)
	s.tracked = make(map[string]health.Target)
	s.observations = make(map[string]health.Observation)
}

func (s *stubMonitor) Snapshot(_ types.NamespacedName) map[string]health.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]health.Observation, len(s.observations))
	for k, v := range s.observations {
		out[k] = v
	}
	return out
}

func (s *stubMonitor) setObservation(podName string, obs health.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs.PodName = podName
	s.observations[podName] = obs
}

func newTestMemcached() *cachev1alpha1.Memcached {
	return &cachev1alpha1.Memcached{
		ObjectMeta: metav1.ObjectMeta{
			Name:       "cache",
			Namespace:  "default",
			Generation: 1,
			Finalizers: []string{cachev1alpha1.MemcachedFinalizer},
		},
		Spec: cachev1alpha1.MemcachedSpec{
			Replicas: 1,
			Image:    "memcached:1.6.26-alpine",
		},
	}
}

func newTestReconciler(monitor *stubMonitor, objs ...client.Object) (*MemcachedReconciler, client.Client) {
	c := fake.NewClientBuilder().
		WithScheme(testScheme).
		WithObjects(objs...).
		WithStatusSubresource(&cachev1alpha1.Memcached{}).
		Build()

	r := &MemcachedReconciler{
		Client:  c,
		Scheme:  testScheme,
		Infra:   inframanager.NewManager(c, testScheme),
		Monitor: monitor,
		Events:  make(chan event.GenericEvent, 16),
	}
	return r, c
}

func reconcileOnce(t *testing.T, r *MemcachedReconciler) ctrl.Result {
	t.Helper()
	result, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Namespace: "default", Name: "cache"},
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	return result
}

func listInstancePods(t *testing.T, c client.Client) []corev1.Pod {
	t.Helper()
	podList := &corev1.PodList{}
	if err := c.List(context.Background(), podList, client.InNamespace("default"),
		client.MatchingLabels(map[string]string{"cache.yashika.dev/service": "cache"})); err != nil {
		t.Fatalf("failed to list pods: %v", err)
	}
	return podList.Items
}

func getMemcached(t *testing.T, c client.Client) *cachev1alpha1.Memcached {
	t.Helper()
	mc := &cachev1alpha1.Memcached{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "cache"}, mc); err != nil {
		t.Fatalf("failed to get Memcached: %v", err)
	}
	return mc
}

func TestReconcileCreatesInitialInstance(t *testing.T) {
	monitor := newStubMonitor()
	r, c := newTestReconciler(monitor, newTestMemcached())

	reconcileOnce(t, r)

	pods := listInstancePods(t, c)
	if len(pods) != 1 {
		t.Fatalf("pod count = %d, want 1", len(pods))
	}

	wantName := inframanager.PodName(newTestMemcached(), revision.PodRevision(newTestMemcached()))
	if pods[0].Name != wantName {
		t.Errorf("pod name = %q, want %q", pods[0].Name, wantName)
	}

	svc := &corev1.Service{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "cache"}, svc); err != nil {
		t.Fatalf("headless Service not created: %v", err)
	}

	if _, ok := monitor.tracked[wantName]; !ok {
		t.Error("new pod should be tracked by the health monitor")
	}

	mc := getMemcached(t, c)
	if mc.Status.Phase != cachev1alpha1.ServicePhaseStarting {
		t.Errorf("phase = %v, want Starting", mc.Status.Phase)
	}
	if !status.IsFalse(mc.Status.Conditions, cachev1alpha1.ConditionAvailable) {
		t.Error("Available should be false while instance is starting")
	}
	if mc.Status.UpdateRevision == "" {
		t.Error("UpdateRevision should be set")
	}
}

func TestReconcileAddsMissingFinalizer(t *testing.T) {
	mc := newTestMemcached()
	mc.Finalizers = nil
	monitor := newStubMonitor()
	r, c := newTestReconciler(monitor, mc)

	reconcileOnce(t, r)

	got := getMemcached(t, c)
	found := false
	for _, f := range got.Finalizers {
		if f == cachev1alpha1.MemcachedFinalizer {
			found = true
		}
	}
	if !found {
		t.Fatal("finalizer not added")
	}

	// No pods yet; creation happens after the finalizer is attached.
	if pods := listInstancePods(t, c); len(pods) != 0 {
		t.Errorf("pod count = %d, want 0 before second pass", len(pods))
	}
}

func TestReconcilePausedDoesNothing(t *testing.T) {
	mc := newTestMemcached()
	mc.Spec.Paused = true
	monitor := newStubMonitor()
	r, c := newTestReconciler(monitor, mc)

	result := reconcileOnce(t, r)
	if result.RequeueAfter != 0 {
		t.Errorf("paused reconcile should not requeue, got %v", result.RequeueAfter)
	}

	if pods := listInstancePods(t, c); len(pods) != 0 {
		t.Errorf("pod count = %d, want 0 while paused", len(pods))
	}

	got := getMemcached(t, c)
	cond := status.Get(got.Status.Conditions, cachev1alpha1.ConditionDegraded)
	if cond == nil || cond.Reason != status.ReasonReconcilePaused {
		t.Errorf("Degraded condition = %+v, want ReconcilePaused", cond)
	}
}

func TestReconcileReportsReadyInstance(t *testing.T) {
	monitor := newStubMonitor()
	r, c := newTestReconciler(monitor, newTestMemcached())

	reconcileOnce(t, r)
	pods := listInstancePods(t, c)
	if len(pods) != 1 {
		t.Fatalf("pod count = %d, want 1", len(pods))
	}

	monitor.setObservation(pods[0].Name, health.Observation{State: cachev1alpha1.InstanceStateReady})
	reconcileOnce(t, r)

	mc := getMemcached(t, c)
	if mc.Status.ReadyReplicas != 1 {
		t.Errorf("ReadyReplicas = %d, want 1", mc.Status.ReadyReplicas)
	}
	if mc.Status.Phase != cachev1alpha1.ServicePhaseRunning {
		t.Errorf("phase = %v, want Running", mc.Status.Phase)
	}
	if mc.Status.CurrentRevision != mc.Status.UpdateRevision {
		t.Errorf("CurrentRevision = %q, want %q", mc.Status.CurrentRevision, mc.Status.UpdateRevision)
	}
	if !status.IsTrue(mc.Status.Conditions, cachev1alpha1.ConditionAvailable) {
		t.Error("Available should be true")
	}
	if !status.IsFalse(mc.Status.Conditions, cachev1alpha1.ConditionRollingOut) {
		t.Error("RollingOut should be false in steady state")
	}
}

func TestRollingUpdateCreatesBeforeTerminating(t *testing.T) {
	monitor := newStubMonitor()
	r, c := newTestReconciler(monitor, newTestMemcached())

	// Reach steady state on the initial revision.
	reconcileOnce(t, r)
	oldPods := listInstancePods(t, c)
	oldName := oldPods[0].Name
	monitor.setObservation(oldName, health.Observation{State: cachev1alpha1.InstanceStateReady})
	reconcileOnce(t, r)

	// Change a pod-affecting field to start a rollout.
	mc := getMemcached(t, c)
	mc.Spec.Image = "memcached:1.6.27-alpine"
	mc.Generation = 2
	if err := c.Update(context.Background(), mc); err != nil {
		t.Fatalf("failed to update spec: %v", err)
	}

	reconcileOnce(t, r)

	// Both revisions must coexist; the old instance keeps serving.
	pods := listInstancePods(t, c)
	if len(pods) != 2 {
		t.Fatalf("pod count during rollout = %d, want 2", len(pods))
	}

	got := getMemcached(t, c)
	if !status.IsTrue(got.Status.Conditions, cachev1alpha1.ConditionRollingOut) {
		t.Error("RollingOut should be true during rollout")
	}
	if got.Status.ReadyReplicas != 1 {
		t.Errorf("ReadyReplicas = %d, want 1 (availability floor)", got.Status.ReadyReplicas)
	}

	var newName string
	for i := range pods {
		if pods[i].Name != oldName {
			newName = pods[i].Name
		}
	}

	// Old pod survives while the new one is not Ready.
	reconcileOnce(t, r)
	if len(listInstancePods(t, c)) != 2 {
		t.Fatal("old pod terminated before new instance became Ready")
	}

	// New instance becomes Ready; old pod is terminated.
	monitor.setObservation(newName, health.Observation{State: cachev1alpha1.InstanceStateReady})
	reconcileOnce(t, r)

	pods = listInstancePods(t, c)
	if len(pods) != 1 || pods[0].Name != newName {
		t.Fatalf("pods after rollout = %v, want only %s", podNames(pods), newName)
	}

	got = getMemcached(t, c)
	if got.Status.CurrentRevision != got.Status.UpdateRevision {
		t.Errorf("CurrentRevision = %q, want %q after rollout", got.Status.CurrentRevision, got.Status.UpdateRevision)
	}
}

func TestOnDeleteStrategyWaitsForPodDeletion(t *testing.T) {
	mc := newTestMemcached()
	mc.Spec.UpdateStrategy = cachev1alpha1.UpdateStrategyOnDelete
	monitor := newStubMonitor()
	r, c := newTestReconciler(monitor, mc)

	reconcileOnce(t, r)
	pods := listInstancePods(t, c)
	oldName := pods[0].Name
	monitor.setObservation(oldName, health.Observation{State: cachev1alpha1.InstanceStateReady})
	reconcileOnce(t, r)

	got := getMemcached(t, c)
	got.Spec.Image = "memcached:1.6.27-alpine"
	got.Generation = 2
	if err := c.Update(context.Background(), got); err != nil {
		t.Fatalf("failed to update spec: %v", err)
	}

	reconcileOnce(t, r)

	// The old pod must be untouched and no new pod created.
	pods = listInstancePods(t, c)
	if len(pods) != 1 || pods[0].Name != oldName {
		t.Fatalf("pods = %v, want only %s", podNames(pods), oldName)
	}

	// Once the old pod is deleted, the new revision is created.
	if err := c.Delete(context.Background(), &pods[0]); err != nil {
		t.Fatalf("failed to delete pod: %v", err)
	}
	monitor.Forget(types.NamespacedName{Namespace: "default", Name: "cache"}, oldName)

	reconcileOnce(t, r)
	pods = listInstancePods(t, c)
	if len(pods) != 1 || pods[0].Name == oldName {
		t.Fatalf("pods = %v, want one pod at the new revision", podNames(pods))
	}
}

func TestLivenessEscalationRestartsInstance(t *testing.T) {
	monitor := newStubMonitor()
	r, c := newTestReconciler(monitor, newTestMemcached())

	reconcileOnce(t, r)
	pods := listInstancePods(t, c)
	podName := pods[0].Name

	monitor.setObservation(podName, health.Observation{
		State:            cachev1alpha1.InstanceStateReady,
		LivenessExceeded: true,
	})
	reconcileOnce(t, r)

	// Pod was deleted for restart.
	if got := listInstancePods(t, c); len(got) != 0 {
		t.Fatalf("pods = %v, want pod deleted for restart", podNames(got))
	}

	mc := getMemcached(t, c)
	var restarts int32
	for _, inst := range mc.Status.Instances {
		if inst.Name == podName {
			restarts = inst.Restarts
		}
	}
	if restarts != 1 {
		t.Errorf("restart count = %d, want 1", restarts)
	}

	// Next pass recreates the instance under the same name and the restart
	// counter survives.
	reconcileOnce(t, r)
	if got := listInstancePods(t, c); len(got) != 1 || got[0].Name != podName {
		t.Fatalf("pods = %v, want recreated %s", podNames(got), podName)
	}

	mc = getMemcached(t, c)
	restarts = 0
	for _, inst := range mc.Status.Instances {
		if inst.Name == podName {
			restarts = inst.Restarts
		}
	}
	if restarts != 1 {
		t.Errorf("restart count after recreation = %d, want 1", restarts)
	}
}

func TestDeletionCleansUpInfrastructure(t *testing.T) {
	monitor := newStubMonitor()
	r, c := newTestReconciler(monitor, newTestMemcached())

	reconcileOnce(t, r)
	if pods := listInstancePods(t, c); len(pods) != 1 {
		t.Fatalf("pod count = %d, want 1", len(pods))
	}

	mc := getMemcached(t, c)
	if err := c.Delete(context.Background(), mc); err != nil {
		t.Fatalf("failed to delete Memcached: %v", err)
	}

	reconcileOnce(t, r)

	if pods := listInstancePods(t, c); len(pods) != 0 {
		t.Errorf("pods = %v, want cleanup to remove them", podNames(pods))
	}
	svc := &corev1.Service{}
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "cache"}, svc); err == nil {
		t.Error("headless Service should be deleted")
	}

	err := c.Get(context.Background(), types.NamespacedName{Namespace: "default", Name: "cache"}, &cachev1alpha1.Memcached{})
	if err == nil {
		t.Error("Memcached should be fully deleted after finalizer removal")
	}

	if len(monitor.forgotAll) == 0 {
		t.Error("monitor should forget all targets on deletion")
	}
}

func TestDeletionRetainPolicyKeepsPods(t *testing.T) {
	mc := newTestMemcached()
	mc.Spec.DeletionPolicy = cachev1alpha1.DeletionPolicyRetain
	monitor := newStubMonitor()
	r, c := newTestReconciler(monitor, mc)

	reconcileOnce(t, r)

	got := getMemcached(t, c)
	if err := c.Delete(context.Background(), got); err != nil {
		t.Fatalf("failed to delete Memcached: %v", err)
	}
	reconcileOnce(t, r)

	if pods := listInstancePods(t, c); len(pods) != 1 {
		t.Errorf("pod count = %d, want 1 retained", len(pods))
	}
}

func TestReconcileNotFoundForgetsTargets(t *testing.T) {
	monitor := newStubMonitor()
	r, _ := newTestReconciler(monitor)

	result := reconcileOnce(t, r)
	if result.RequeueAfter != 0 {
		t.Errorf("unexpected requeue for missing resource: %v", result)
	}
	if len(monitor.forgotAll) != 1 {
		t.Errorf("ForgetAll calls = %d, want 1", len(monitor.forgotAll))
	}
}

func podNames(pods []corev1.Pod) []string {
	names := make([]string, 0, len(pods))
	for i := range pods {
		names = append(names, pods[i].Name)
	}
	return names
}
