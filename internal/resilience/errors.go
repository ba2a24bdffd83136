// Package resilience provides the provider error taxonomy, the sliding
// window rate limiter, and a per-model circuit breaker for LLM calls.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// ProviderError wraps a transport/auth/quota failure from the model
// provider. These are the only errors the retrying client considers
// retryable; parse and validation failures never reach this package.
type ProviderError struct {
	Err        error
	StatusCode int
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps an error as a provider failure with an optional
// HTTP status code (0 when unknown).
func NewProviderError(err error, statusCode int) *ProviderError {
	return &ProviderError{Err: err, StatusCode: statusCode}
}

// IsProvider reports whether any error in the chain is a ProviderError, or
// matches common network-level failure patterns from HTTP clients.
func IsProvider(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	patterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsRetryableStatus reports whether the HTTP status code indicates a
// transient provider-side issue.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504, // Gateway Timeout
		529: // provider overloaded
		return true
	default:
		return false
	}
}
