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

package controller

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
	memcachedcontroller "github.com/yashika/memcached-operator/internal/controller/memcached"
	"github.com/yashika/memcached-operator/internal/health"
)

func TestParseFlagsDefaults(t *testing.T) {
	opts, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}

	if opts.metricsAddr != ":8443" {
		t.Errorf("metricsAddr = %q, want :8443", opts.metricsAddr)
	}
	if opts.probeAddr != ":8081" {
		t.Errorf("probeAddr = %q, want :8081", opts.probeAddr)
	}
	if opts.enableLeaderElection {
		t.Error("leader election should be disabled by default")
	}
	if !opts.secureMetrics {
		t.Error("metrics should be served securely by default")
	}
	if opts.enableHTTP2 {
		t.Error("http/2 should be disabled by default")
	}
	if opts.metricsCertName != "tls.crt" || opts.metricsCertKey != "tls.key" {
		t.Errorf("cert file names = %q/%q, want tls.crt/tls.key", opts.metricsCertName, opts.metricsCertKey)
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	opts, err := parseFlags([]string{
		"--metrics-bind-address", ":9443",
		"--health-probe-bind-address", ":9081",
		"--leader-elect",
		"--metrics-secure=false",
		"--metrics-cert-path", "/etc/certs",
		"--enable-http2",
	})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}

	if opts.metricsAddr != ":9443" {
		t.Errorf("metricsAddr = %q, want :9443", opts.metricsAddr)
	}
	if opts.probeAddr != ":9081" {
		t.Errorf("probeAddr = %q, want :9081", opts.probeAddr)
	}
	if !opts.enableLeaderElection {
		t.Error("leader election should be enabled")
	}
	if opts.secureMetrics {
		t.Error("secure metrics should be disabled")
	}
	if opts.metricsCertPath != "/etc/certs" {
		t.Errorf("metricsCertPath = %q, want /etc/certs", opts.metricsCertPath)
	}
	if !opts.enableHTTP2 {
		t.Error("http/2 should be enabled")
	}
}

func TestParseFlagsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseFlags([]string{"--no-such-flag"}); err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
}

func TestSchemeRegistersManagedTypes(t *testing.T) {
	memcachedGVK := cachev1alpha1.GroupVersion.WithKind("Memcached")
	if !scheme.Recognizes(memcachedGVK) {
		t.Errorf("scheme does not recognize %v", memcachedGVK)
	}

	podGVK := corev1.SchemeGroupVersion.WithKind("Pod")
	if !scheme.Recognizes(podGVK) {
		t.Errorf("scheme does not recognize %v", podGVK)
	}
}

// The monitor must plug into both ends Run wires it to: the manager as a
// leader-election-aware Runnable and the reconciler as its health view.
func TestMonitorSatisfiesWiring(t *testing.T) {
	events := make(chan event.GenericEvent, eventChannelBuffer)
	monitor := health.NewMonitor(ctrl.Log.WithName("test"), events)

	var _ manager.LeaderElectionRunnable = monitor
	var _ memcachedcontroller.HealthMonitor = monitor

	if !monitor.NeedLeaderElection() {
		t.Error("monitor must run only on the elected manager instance")
	}
}
