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
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/validation/field"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"
)

var memcachedWebhookLog = ctrl.Log.WithName("memcached-webhook")

// memcachedValidator implements admission.CustomValidator for Memcached.
type memcachedValidator struct{}

// Ensure memcachedValidator satisfies the CustomValidator interface.
var _ webhook.CustomValidator = &memcachedValidator{}

// memcachedDefaulter implements admission.CustomDefaulter for Memcached.
// It injects the finalizer so that all delete operations go through the
// controller's finalizer-based cleanup path.
type memcachedDefaulter struct{}

// Ensure memcachedDefaulter satisfies the CustomDefaulter interface.
var _ webhook.CustomDefaulter = &memcachedDefaulter{}

// Default sets default values on Memcached resources during admission.
func (d *memcachedDefaulter) Default(_ context.Context, obj runtime.Object) error {
	mc, ok := obj.(*Memcached)
	if !ok {
		return apierrors.NewBadRequest("expected Memcached object for defaulting")
	}

	// During deletion, the controller must be able to remove the finalizer.
	// If the defaulter re-adds it on update, the Memcached will get stuck in
	// a terminating state.
	if mc.DeletionTimestamp != nil && !mc.DeletionTimestamp.IsZero() {
		return nil
	}

	if !containsString(mc.Finalizers, MemcachedFinalizer) {
		mc.Finalizers = append(mc.Finalizers, MemcachedFinalizer)
	}

	return nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}

	return false
}

// SetupWebhookWithManager registers the Memcached webhooks with the manager.
func (m *Memcached) SetupWebhookWithManager(mgr ctrl.Manager) error {
	return ctrl.NewWebhookManagedBy(mgr).
		For(&Memcached{}).
		WithValidator(&memcachedValidator{}).
		WithDefaulter(&memcachedDefaulter{}).
		Complete()
}

// +kubebuilder:webhook:path=/mutate-cache-yashika-dev-v1alpha1-memcached,mutating=true,failurePolicy=fail,sideEffects=None,groups=cache.yashika.dev,resources=memcacheds,verbs=create;update,versions=v1alpha1,name=mmemcached.kb.io,admissionReviewVersions=v1

// +kubebuilder:webhook:path=/validate-cache-yashika-dev-v1alpha1-memcached,mutating=false,failurePolicy=fail,sideEffects=None,groups=cache.yashika.dev,resources=memcacheds,verbs=create;update,versions=v1alpha1,name=vmemcached.kb.io,admissionReviewVersions=v1

// ValidateCreate validates Memcached resources on create.
func (v *memcachedValidator) ValidateCreate(_ context.Context, obj runtime.Object) (admission.Warnings, error) {
	mc, ok := obj.(*Memcached)
	if !ok {
		return nil, apierrors.NewBadRequest("expected Memcached object for validation")
	}

	memcachedWebhookLog.Info("validating create", "name", mc.Name, "namespace", mc.Namespace)

	return validateMemcached(mc)
}

// ValidateUpdate validates Memcached resources on update.
func (v *memcachedValidator) ValidateUpdate(_ context.Context, _ runtime.Object, newObj runtime.Object) (admission.Warnings, error) {
	mc, ok := newObj.(*Memcached)
	if !ok {
		return nil, apierrors.NewBadRequest("expected Memcached object for validation")
	}

	memcachedWebhookLog.Info("validating update", "name", mc.Name, "namespace", mc.Namespace)

	return validateMemcached(mc)
}

// ValidateDelete validates Memcached resources on delete. Deletes are always allowed.
func (v *memcachedValidator) ValidateDelete(_ context.Context, _ runtime.Object) (admission.Warnings, error) {
	return nil, nil
}

func validateMemcached(mc *Memcached) (admission.Warnings, error) {
	var allErrs field.ErrorList
	var warnings admission.Warnings

	specPath := field.NewPath("spec")

	if mc.Spec.Replicas != 0 && mc.Spec.Replicas != 1 {
		allErrs = append(allErrs, field.Invalid(specPath.Child("replicas"), mc.Spec.Replicas,
			"the service is pinned to exactly one replica"))
	}

	if mc.Spec.Image == "" {
		allErrs = append(allErrs, field.Required(specPath.Child("image"), "container image reference is required"))
	} else if _, err := name.ParseReference(mc.Spec.Image); err != nil {
		allErrs = append(allErrs, field.Invalid(specPath.Child("image"), mc.Spec.Image,
			fmt.Sprintf("invalid image reference: %v", err)))
	}

	allErrs = append(allErrs, validateResources(specPath.Child("resources"), mc.Spec.Resources)...)
	allErrs = append(allErrs, validatePort(specPath.Child("port"), mc.Spec.Port)...)
	allErrs = append(allErrs, validateProbe(specPath.Child("readinessProbe"), mc.Spec.ReadinessProbe)...)
	allErrs = append(allErrs, validateProbe(specPath.Child("livenessProbe"), mc.Spec.LivenessProbe)...)

	switch mc.Spec.UpdateStrategy {
	case "", UpdateStrategyRollingUpdate, UpdateStrategyOnDelete:
	default:
		allErrs = append(allErrs, field.NotSupported(specPath.Child("updateStrategy"), mc.Spec.UpdateStrategy,
			[]string{string(UpdateStrategyRollingUpdate), string(UpdateStrategyOnDelete)}))
	}

	switch mc.Spec.DeletionPolicy {
	case "", DeletionPolicyRetain, DeletionPolicyDelete:
	default:
		allErrs = append(allErrs, field.NotSupported(specPath.Child("deletionPolicy"), mc.Spec.DeletionPolicy,
			[]string{string(DeletionPolicyRetain), string(DeletionPolicyDelete)}))
	}

	if mc.Spec.TerminationGracePeriodSeconds != nil && *mc.Spec.TerminationGracePeriodSeconds < 0 {
		allErrs = append(allErrs, field.Invalid(specPath.Child("terminationGracePeriodSeconds"),
			*mc.Spec.TerminationGracePeriodSeconds, "must be non-negative"))
	}

	if mc.Spec.UpdateStrategy == UpdateStrategyOnDelete {
		warnings = append(warnings,
			"spec.updateStrategy=OnDelete: spec changes will not reach the running instance until its pod is deleted")
	}

	if len(allErrs) == 0 {
		return warnings, nil
	}

	return warnings, apierrors.NewInvalid(
		GroupVersion.WithKind("Memcached").GroupKind(),
		mc.Name,
		allErrs,
	)
}

func validateResources(path *field.Path, resources *ResourcesConfig) field.ErrorList {
	if resources == nil {
		return nil
	}

	var allErrs field.ErrorList
	allErrs = append(allErrs, validateQuantities(path.Child("requests"), resources.Requests)...)
	allErrs = append(allErrs, validateQuantities(path.Child("limits"), resources.Limits)...)

	// Requests must not exceed limits for the same resource.
	if resources.Requests != nil && resources.Limits != nil {
		if err := validateRequestWithinLimit(resources.Requests.CPU, resources.Limits.CPU); err != nil {
			allErrs = append(allErrs, field.Invalid(path.Child("requests", "cpu"), resources.Requests.CPU, err.Error()))
		}
		if err := validateRequestWithinLimit(resources.Requests.Memory, resources.Limits.Memory); err != nil {
			allErrs = append(allErrs, field.Invalid(path.Child("requests", "memory"), resources.Requests.Memory, err.Error()))
		}
	}

	return allErrs
}

func validateQuantities(path *field.Path, quantities *ResourceQuantities) field.ErrorList {
	if quantities == nil {
		return nil
	}

	var allErrs field.ErrorList

	if quantities.CPU != "" {
		if _, err := resource.ParseQuantity(quantities.CPU); err != nil {
			allErrs = append(allErrs, field.Invalid(path.Child("cpu"), quantities.CPU,
				fmt.Sprintf("invalid quantity: %v", err)))
		}
	}
	if quantities.Memory != "" {
		if _, err := resource.ParseQuantity(quantities.Memory); err != nil {
			allErrs = append(allErrs, field.Invalid(path.Child("memory"), quantities.Memory,
				fmt.Sprintf("invalid quantity: %v", err)))
		}
	}

	return allErrs
}

func validateRequestWithinLimit(request, limit string) error {
	if request == "" || limit == "" {
		return nil
	}

	requestQty, err := resource.ParseQuantity(request)
	if err != nil {
		return nil // reported separately by validateQuantities
	}
	limitQty, err := resource.ParseQuantity(limit)
	if err != nil {
		return nil
	}

	if requestQty.Cmp(limitQty) > 0 {
		return fmt.Errorf("request %s exceeds limit %s", request, limit)
	}

	return nil
}

func validatePort(path *field.Path, port *PortConfig) field.ErrorList {
	if port == nil {
		return nil
	}

	var allErrs field.ErrorList

	if port.ContainerPort != 0 && (port.ContainerPort < 1 || port.ContainerPort > 65535) {
		allErrs = append(allErrs, field.Invalid(path.Child("containerPort"), port.ContainerPort,
			"must be between 1 and 65535"))
	}

	switch port.Protocol {
	case "", corev1.ProtocolTCP:
	default:
		allErrs = append(allErrs, field.NotSupported(path.Child("protocol"), port.Protocol,
			[]string{string(corev1.ProtocolTCP)}))
	}

	return allErrs
}

func validateProbe(path *field.Path, probe *ProbeConfig) field.ErrorList {
	if probe == nil {
		return nil
	}

	var allErrs field.ErrorList

	if probe.InitialDelaySeconds < 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("initialDelaySeconds"), probe.InitialDelaySeconds,
			"must be non-negative"))
	}
	if probe.PeriodSeconds < 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("periodSeconds"), probe.PeriodSeconds,
			"must be non-negative"))
	}
	if probe.TimeoutSeconds < 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("timeoutSeconds"), probe.TimeoutSeconds,
			"must be non-negative"))
	}
	if probe.FailureThreshold < 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("failureThreshold"), probe.FailureThreshold,
			"must be non-negative"))
	}
	if probe.SuccessThreshold < 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("successThreshold"), probe.SuccessThreshold,
			"must be non-negative"))
	}
	if probe.PeriodSeconds > 0 && probe.TimeoutSeconds > probe.PeriodSeconds {
		allErrs = append(allErrs, field.Invalid(path.Child("timeoutSeconds"), probe.TimeoutSeconds,
			"must not exceed periodSeconds"))
	}

	return allErrs
}
