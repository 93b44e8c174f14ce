package payment

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidInput marks requests rejected before any provider call.
	ErrInvalidInput = errors.New("payment: invalid input")
	// ErrInvalidAmount is returned for non-positive amounts or amounts that
	// round to zero minor units.
	ErrInvalidAmount = errors.New("payment: invalid amount")
	// ErrSignatureMismatch is the rejection reason for a forged or corrupted signature.
	ErrSignatureMismatch = errors.New("payment: signature mismatch")
	// ErrNotConfigured is returned when a service is used without its dependencies.
	ErrNotConfigured = errors.New("payment: service not configured")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ProviderError describes a failed call to an external payment provider.
// Status is zero when the provider was never reached (timeout, network, open circuit).
type ProviderError struct {
	Provider string
	Status   int
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("payment: %s", e.Provider)
	if e.Status > 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Rejected reports whether the provider answered and refused the request.
// Rejections say nothing about provider health and do not trip the breaker.
func (e *ProviderError) Rejected() bool {
	if e == nil {
		return false
	}
	return e.Status >= http.StatusBadRequest && e.Status < http.StatusInternalServerError && e.Status != http.StatusTooManyRequests
}
