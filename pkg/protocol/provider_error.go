package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ProviderError is a failure reported by an external collaborator, already
// classified by the adapter that produced it. Transient failures are safe
// to retry through the durable substrate; permanent ones become critical or
// best-effort failures per the owning step's classification.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}

	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError classifies an HTTP-level provider failure: server-side
// statuses and timeouts retry, client-side statuses do not.
func NewProviderError(provider string, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Transient:  statusCode == 0 || statusCode == 408 || statusCode == 429 || statusCode >= 500,
		Err:        err,
	}
}

// IsTransient reports whether an error is worth redelivering. Explicit
// adapter classification wins; otherwise common network failure shapes are
// treated as transient and everything else as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return IsTransient(urlErr.Err)
	}

	message := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
	} {
		if strings.Contains(message, pattern) {
			return true
		}
	}

	return false
}
