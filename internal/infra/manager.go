package infra

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
	"github.com/yashika/memcached-operator/internal/constants"
	operatorerrors "github.com/yashika/memcached-operator/internal/errors"
)

// Manager reconciles infrastructure resources, the headless Service and the
// instance pods, for a Memcached service.
type Manager struct {
	client client.Client
	scheme *runtime.Scheme
}

// NewManager constructs a Manager that uses the provided Kubernetes client.
// The scheme is used to set OwnerReferences on created resources for garbage collection.
func NewManager(c client.Client, scheme *runtime.Scheme) *Manager {
	return &Manager{
		client: c,
		scheme: scheme,
	}
}

// EnsurePod creates or updates the instance pod for the given revision and
// returns its name. Pods are revision-named, so a pod-affecting spec change
// always results in a new pod rather than an in-place mutation.
func (m *Manager) EnsurePod(ctx context.Context, logger logr.Logger, mc *cachev1alpha1.Memcached, rev string) (string, error) {
	pod, err := buildInstancePod(mc, rev)
	if err != nil {
		return "", operatorerrors.WrapPermanentConfig(fmt.Errorf("failed to build pod for Memcached %s/%s: %w", mc.Namespace, mc.Name, err))
	}

	if err := m.applyResource(ctx, pod, mc); err != nil {
		return "", err
	}

	logger.V(1).Info("ensured instance pod", "pod", pod.Name, "revision", rev)
	return pod.Name, nil
}

// GetPod fetches an instance pod by name. Returns (nil, nil) when the pod does
// not exist.
func (m *Manager) GetPod(ctx context.Context, mc *cachev1alpha1.Memcached, podName string) (*corev1.Pod, error) {
	pod := &corev1.Pod{}
	err := m.client.Get(ctx, client.ObjectKey{Namespace: mc.Namespace, Name: podName}, pod)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pod %s/%s: %w", mc.Namespace, podName, err)
	}
	return pod, nil
}

// ListInstancePods returns all pods carrying this Memcached's instance labels,
// including pods from superseded revisions that are still terminating.
func (m *Manager) ListInstancePods(ctx context.Context, mc *cachev1alpha1.Memcached) ([]corev1.Pod, error) {
	podList := &corev1.PodList{}
	err := m.client.List(ctx, podList,
		client.InNamespace(mc.Namespace),
		client.MatchingLabels(infraLabels(mc)))
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for Memcached %s/%s: %w", mc.Namespace, mc.Name, err)
	}
	return podList.Items, nil
}

// DeletePod deletes an instance pod with the given grace period. Missing pods
// are treated as already deleted.
func (m *Manager) DeletePod(ctx context.Context, logger logr.Logger, mc *cachev1alpha1.Memcached, podName string, graceSeconds int64) error {
	pod := &corev1.Pod{}
	pod.Name = podName
	pod.Namespace = mc.Namespace

	err := m.client.Delete(ctx, pod, client.GracePeriodSeconds(graceSeconds))
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete pod %s/%s: %w", mc.Namespace, podName, err)
	}

	logger.Info("deleted instance pod", "pod", podName, "gracePeriodSeconds", graceSeconds)
	return nil
}

// ForceDeletePod removes a pod immediately, bypassing graceful shutdown. Used
// when a terminating pod outlives its grace period.
func (m *Manager) ForceDeletePod(ctx context.Context, logger logr.Logger, mc *cachev1alpha1.Memcached, podName string) error {
	pod := &corev1.Pod{}
	pod.Name = podName
	pod.Namespace = mc.Namespace

	err := m.client.Delete(ctx, pod, client.GracePeriodSeconds(0))
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to force delete pod %s/%s: %w", mc.Namespace, podName, err)
	}

	logger.Info("force deleted instance pod", "pod", podName)
	return nil
}

// applyResource uses Server-Side Apply to create or update a Kubernetes resource.
// This eliminates the need for Get-then-Create-or-Update logic and manual diffing.
//
// The resource must have TypeMeta, ObjectMeta (with Name and Namespace), and the desired Spec set.
func (m *Manager) applyResource(ctx context.Context, obj client.Object, mc *cachev1alpha1.Memcached) error {
	if err := controllerutil.SetControllerReference(mc, obj, m.scheme); err != nil {
		return fmt.Errorf("failed to set owner reference: %w", err)
	}

	patchOpts := []client.PatchOption{
		client.ForceOwnership,
		client.FieldOwner(constants.FieldOwner),
	}

	if err := m.client.Patch(ctx, obj, client.Apply, patchOpts...); err != nil {
		if operatorerrors.IsTransientKubernetesAPI(err) || apierrors.IsConflict(err) {
			return operatorerrors.WrapTransientKubernetesAPI(fmt.Errorf("failed to apply resource %s/%s: %w", obj.GetNamespace(), obj.GetName(), err))
		}
		return fmt.Errorf("failed to apply resource %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
	}

	return nil
}

// Cleanup removes the instance pods and Service for a deleted Memcached
// according to the provided DeletionPolicy.
//
// It is safe to call Cleanup multiple times; missing resources are treated as
// successfully deleted.
func (m *Manager) Cleanup(ctx context.Context, logger logr.Logger, mc *cachev1alpha1.Memcached, policy cachev1alpha1.DeletionPolicy) error {
	if policy == "" {
		policy = cachev1alpha1.DeletionPolicyDelete
	}

	logger = logger.WithValues("deletionPolicy", string(policy))
	logger.Info("cleaning up infrastructure for deleted Memcached")

	if policy == cachev1alpha1.DeletionPolicyRetain {
		logger.Info("skipping pod and Service deletion due to Retain policy")
		return nil
	}

	pods, err := m.ListInstancePods(ctx, mc)
	if err != nil {
		return err
	}
	for i := range pods {
		if err := m.DeletePod(ctx, logger, mc, pods[i].Name, mc.EffectiveTerminationGracePeriodSeconds()); err != nil {
			return err
		}
	}

	if err := m.deleteHeadlessService(ctx, mc); err != nil {
		return fmt.Errorf("failed to delete Service for Memcached %s/%s: %w", mc.Namespace, mc.Name, err)
	}

	return nil
}

// Helper functions used across multiple files

func infraLabels(mc *cachev1alpha1.Memcached) map[string]string {
	return map[string]string{
		constants.LabelAppName:          constants.LabelValueAppNameMemcached,
		constants.LabelAppInstance:      mc.Name,
		constants.LabelAppManagedBy:     constants.LabelValueAppManagedByOperator,
		constants.LabelAppComponent:     constants.LabelValueAppComponentCache,
		constants.LabelMemcachedService: mc.Name,
	}
}

func podLabelsWithRevision(mc *cachev1alpha1.Memcached, rev string) map[string]string {
	labels := infraLabels(mc)
	if rev != "" {
		labels[constants.LabelMemcachedRevision] = rev
	}
	return labels
}

// PodName returns the revision-scoped pod name for a Memcached instance.
func PodName(mc *cachev1alpha1.Memcached, rev string) string {
	return fmt.Sprintf("%s-%s", mc.Name, rev)
}

// HeadlessServiceName returns the name of the per-service headless Service.
func HeadlessServiceName(mc *cachev1alpha1.Memcached) string {
	return mc.Name
}

// PodAddr returns the stable host:port probe address of an instance pod,
// routed through the headless Service domain.
func PodAddr(mc *cachev1alpha1.Memcached, podName string) string {
	host := fmt.Sprintf("%s.%s.%s.svc", podName, HeadlessServiceName(mc), mc.Namespace)
	return net.JoinHostPort(host, strconv.Itoa(int(mc.EffectivePort().ContainerPort)))
}
