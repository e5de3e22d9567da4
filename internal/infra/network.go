package infra

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
)

// EnsureHeadlessService manages the headless Service that gives instance pods
// stable DNS names, using Server-Side Apply. The Service publishes not-ready
// addresses so the operator's own probes can reach an instance before it
// reports Ready.
func (m *Manager) EnsureHeadlessService(ctx context.Context, _ logr.Logger, mc *cachev1alpha1.Memcached) error {
	svcName := HeadlessServiceName(mc)
	port := mc.EffectivePort()

	service := &corev1.Service{
		TypeMeta: metav1.TypeMeta{
			Kind:       "Service",
			APIVersion: "v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      svcName,
			Namespace: mc.Namespace,
			Labels:    infraLabels(mc),
		},
		Spec: corev1.ServiceSpec{
			ClusterIP:                corev1.ClusterIPNone,
			PublishNotReadyAddresses: true,
			Selector:                 infraLabels(mc),
			Ports: []corev1.ServicePort{
				{
					Name:     port.Name,
					Port:     port.ContainerPort,
					Protocol: port.Protocol,
				},
			},
		},
	}

	if err := m.applyResource(ctx, service, mc); err != nil {
		return fmt.Errorf("failed to ensure headless Service %s/%s: %w", mc.Namespace, svcName, err)
	}

	return nil
}

func (m *Manager) deleteHeadlessService(ctx context.Context, mc *cachev1alpha1.Memcached) error {
	service := &corev1.Service{}
	service.Name = HeadlessServiceName(mc)
	service.Namespace = mc.Namespace

	err := m.client.Delete(ctx, service)
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}
