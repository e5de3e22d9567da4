package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransientConnection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "sentinel", err: ErrTransientConnection, want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("probe: %w", ErrTransientConnection), want: true},
		{name: "connection refused", err: errors.New("dial tcp 10.0.0.1:11211: connect: connection refused"), want: true},
		{name: "io timeout", err: errors.New("read tcp: i/o timeout"), want: true},
		{name: "no such host", err: errors.New("lookup cache.default.svc: no such host"), want: true},
		{name: "unrelated error", err: errors.New("invalid argument"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientConnection(tt.err); got != tt.want {
				t.Errorf("IsTransientConnection(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientKubernetesAPI(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "sentinel", err: ErrTransientKubernetesAPI, want: true},
		{name: "rate limited", err: errors.New("client rate limit exceeded"), want: true},
		{name: "conflict on update", err: errors.New("Operation cannot be fulfilled: the object has been modified"), want: true},
		{name: "not found", err: errors.New(`pods "cache-abc1234" not found`), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientKubernetesAPI(tt.err); got != tt.want {
				t.Errorf("IsTransientKubernetesAPI(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapTransientConnection(t *testing.T) {
	if WrapTransientConnection(nil) != nil {
		t.Error("wrapping nil should return nil")
	}

	base := errors.New("some failure")
	wrapped := WrapTransientConnection(base)
	if !errors.Is(wrapped, ErrTransientConnection) {
		t.Error("wrapped error should match sentinel")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should preserve the cause")
	}

	// Already-transient errors are not double wrapped.
	already := errors.New("dial tcp: connection refused")
	if got := WrapTransientConnection(already); got != already {
		t.Errorf("expected error returned as-is, got %v", got)
	}
}

func TestPermanentClassification(t *testing.T) {
	base := errors.New("image reference malformed")
	wrapped := WrapPermanentConfig(base)

	if !IsPermanent(wrapped) {
		t.Error("wrapped config error should be permanent")
	}
	if IsTransient(wrapped) {
		t.Error("permanent error must not classify as transient")
	}
	if IsPermanent(base) {
		t.Error("unwrapped error should not be permanent")
	}
}

func TestShouldRequeue(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      bool
		wantAfter time.Duration
	}{
		{name: "nil error", err: nil, want: false, wantAfter: 0},
		{name: "transient connection", err: WrapTransientConnection(errors.New("boom")), want: true, wantAfter: 5 * time.Second},
		{name: "transient api", err: WrapTransientKubernetesAPI(errors.New("boom")), want: true, wantAfter: 5 * time.Second},
		{name: "permanent config", err: WrapPermanentConfig(errors.New("bad spec")), want: false, wantAfter: 0},
		{name: "unknown error", err: errors.New("boom"), want: true, wantAfter: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotAfter := ShouldRequeue(tt.err)
			if got != tt.want || gotAfter != tt.wantAfter {
				t.Errorf("ShouldRequeue(%v) = (%v, %v), want (%v, %v)", tt.err, got, gotAfter, tt.want, tt.wantAfter)
			}
		})
	}
}
