package infra

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
	"github.com/yashika/memcached-operator/internal/constants"
)

// buildInstancePod assembles the desired pod for one cache instance at the
// given revision. The pod is named after the revision so that spec changes
// produce a new pod instead of mutating the running one.
func buildInstancePod(mc *cachev1alpha1.Memcached, rev string) (*corev1.Pod, error) {
	container, err := buildCacheContainer(mc)
	if err != nil {
		return nil, err
	}

	pod := &corev1.Pod{
		TypeMeta: metav1.TypeMeta{
			Kind:       "Pod",
			APIVersion: "v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      PodName(mc, rev),
			Namespace: mc.Namespace,
			Labels:    podLabelsWithRevision(mc, rev),
		},
		Spec: corev1.PodSpec{
			// Stable per-pod DNS under the headless Service domain.
			Hostname:  PodName(mc, rev),
			Subdomain: HeadlessServiceName(mc),

			Containers:                    []corev1.Container{container},
			RestartPolicy:                 corev1.RestartPolicyAlways,
			TerminationGracePeriodSeconds: ptr.To(mc.EffectiveTerminationGracePeriodSeconds()),
			SecurityContext:               buildPodSecurityContext(),
		},
	}

	return pod, nil
}

func buildCacheContainer(mc *cachev1alpha1.Memcached) (corev1.Container, error) {
	resources, err := buildResourceRequirements(mc.Spec.Resources)
	if err != nil {
		return corev1.Container{}, err
	}

	port := mc.EffectivePort()

	return corev1.Container{
		Name:    constants.ContainerNameMemcached,
		Image:   mc.Spec.Image,
		Command: append([]string{constants.BinaryNameMemcached}, mc.Spec.Args...),
		Ports: []corev1.ContainerPort{
			{
				Name:          port.Name,
				ContainerPort: port.ContainerPort,
				Protocol:      port.Protocol,
			},
		},
		Resources:       resources,
		ReadinessProbe:  buildKubeletProbe(mc.EffectiveReadinessProbe(), port.ContainerPort),
		LivenessProbe:   buildKubeletProbe(mc.EffectiveLivenessProbe(), port.ContainerPort),
		SecurityContext: buildContainerSecurityContext(),
	}, nil
}

// buildKubeletProbe mirrors the operator's own TCP checks as kubelet probes so
// the container is also restarted in place when it stops accepting connections
// entirely.
func buildKubeletProbe(cfg cachev1alpha1.ProbeConfig, port int32) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			TCPSocket: &corev1.TCPSocketAction{
				Port: intstr.FromInt32(port),
			},
		},
		InitialDelaySeconds: cfg.InitialDelaySeconds,
		PeriodSeconds:       cfg.PeriodSeconds,
		TimeoutSeconds:      cfg.TimeoutSeconds,
		FailureThreshold:    cfg.FailureThreshold,
		SuccessThreshold:    cfg.SuccessThreshold,
	}
}

func buildResourceRequirements(cfg *cachev1alpha1.ResourcesConfig) (corev1.ResourceRequirements, error) {
	var requirements corev1.ResourceRequirements
	if cfg == nil {
		return requirements, nil
	}

	var err error
	requirements.Requests, err = buildResourceList(cfg.Requests)
	if err != nil {
		return requirements, fmt.Errorf("invalid resource requests: %w", err)
	}
	requirements.Limits, err = buildResourceList(cfg.Limits)
	if err != nil {
		return requirements, fmt.Errorf("invalid resource limits: %w", err)
	}

	return requirements, nil
}

func buildResourceList(q *cachev1alpha1.ResourceQuantities) (corev1.ResourceList, error) {
	if q == nil {
		return nil, nil
	}

	list := corev1.ResourceList{}
	if q.CPU != "" {
		cpu, err := resource.ParseQuantity(q.CPU)
		if err != nil {
			return nil, fmt.Errorf("cpu quantity %q: %w", q.CPU, err)
		}
		list[corev1.ResourceCPU] = cpu
	}
	if q.Memory != "" {
		memory, err := resource.ParseQuantity(q.Memory)
		if err != nil {
			return nil, fmt.Errorf("memory quantity %q: %w", q.Memory, err)
		}
		list[corev1.ResourceMemory] = memory
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

func buildPodSecurityContext() *corev1.PodSecurityContext {
	return &corev1.PodSecurityContext{
		RunAsNonRoot: ptr.To(true),
		SeccompProfile: &corev1.SeccompProfile{
			Type: corev1.SeccompProfileTypeRuntimeDefault,
		},
	}
}

func buildContainerSecurityContext() *corev1.SecurityContext {
	return &corev1.SecurityContext{
		AllowPrivilegeEscalation: ptr.To(false),
		ReadOnlyRootFilesystem:   ptr.To(true),
		Capabilities: &corev1.Capabilities{
			Drop: []corev1.Capability{"ALL"},
		},
	}
}
