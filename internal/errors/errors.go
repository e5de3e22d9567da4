package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Transient errors indicate temporary conditions that should be retried.
// These errors typically result in requeue with a delay.

// ErrTransientConnection indicates a transient connection error that should be retried.
// This covers probe timeouts, connection refused, DNS resolution failures, and
// network unreachable errors.
var ErrTransientConnection = errors.New("transient connection error")

// ErrTransientKubernetesAPI indicates a transient Kubernetes API error that should be retried.
// This includes rate limiting, temporary server errors, and network issues.
var ErrTransientKubernetesAPI = errors.New("transient Kubernetes API error")

// Permanent errors indicate configuration or state issues that require user intervention.
// These errors should NOT be requeued automatically; reconciliation should wait for user changes.

// ErrPermanentConfig indicates a permanent configuration error that requires user intervention.
// This includes invalid configuration values, missing required fields, or incompatible settings.
var ErrPermanentConfig = errors.New("permanent configuration error")

// IsTransientConnection checks if an error is a transient connection error.
func IsTransientConnection(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientConnection) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"context deadline exceeded",
		"timeout",
		"i/o timeout",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"dial tcp",
		"connection closed",
		"broken pipe",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsTransientKubernetesAPI checks if an error is a transient Kubernetes API error.
func IsTransientKubernetesAPI(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientKubernetesAPI) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"rate limit",
		"too many requests",
		"server error",
		"service unavailable",
		"internal server error",
		"context deadline exceeded",
		"timeout",
		"the object has been modified",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// WrapTransientConnection wraps an error as a transient connection error.
// If the error is already a transient connection error, it is returned as-is.
func WrapTransientConnection(err error) error {
	if err == nil {
		return nil
	}

	if IsTransientConnection(err) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransientConnection, err)
}

// WrapTransientKubernetesAPI wraps an error as a transient Kubernetes API error.
func WrapTransientKubernetesAPI(err error) error {
	if err == nil {
		return nil
	}

	if IsTransientKubernetesAPI(err) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransientKubernetesAPI, err)
}

// WrapPermanentConfig wraps an error as a permanent configuration error.
func WrapPermanentConfig(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrPermanentConfig, err)
}

// IsTransient checks if an error is transient (should be retried).
func IsTransient(err error) bool {
	return IsTransientConnection(err) || IsTransientKubernetesAPI(err)
}

// IsPermanent checks if an error is permanent (requires user intervention).
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrPermanentConfig)
}

// ShouldRequeue determines if an error should trigger a requeue.
// Transient errors should requeue; permanent errors should not.
// Returns (shouldRequeue, requeueAfter).
func ShouldRequeue(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}

	if IsTransient(err) {
		return true, 5 * time.Second
	}

	if IsPermanent(err) {
		return false, 0
	}

	// For unknown errors, default to requeue (controller-runtime will handle backoff)
	return true, 0
}
