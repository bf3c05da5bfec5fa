// Package errors defines unified error types for qaforge control-plane operations.
// Provider failures are mapped to these standard types so that the retry and
// fallback logic never has to inspect provider-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Error represents a classified failure from the control plane or a provider.
// It carries everything retry/fallback decisions and caller responses need.
type Error struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Retryable bool   `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" || e.Model != "" {
		return fmt.Sprintf("[%s] %s (provider=%s, model=%s)", e.Type, e.Message, e.Provider, e.Model)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Common error types as constants for consistency.
const (
	TypeRateLimit          = "rate_limit_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeContentPolicy      = "content_policy_violation"
	TypeBudgetExceeded     = "budget_exceeded"
	TypeGenerationFailed   = "generation_failed"
	TypeInternalError      = "internal_error"
)

// NewRateLimitError creates a rate limit error. The client never retries it
// on the same model; it immediately substitutes the next fallback model.
func NewRateLimitError(provider, model, message string) *Error {
	return &Error{Type: TypeRateLimit, Message: message, Provider: provider, Model: model, Retryable: true}
}

// NewTimeoutError creates a timeout error (transient).
func NewTimeoutError(provider, model, message string) *Error {
	return &Error{Type: TypeTimeout, Message: message, Provider: provider, Model: model, Retryable: true}
}

// NewServiceUnavailableError creates a 5xx-equivalent transient error.
func NewServiceUnavailableError(provider, model, message string) *Error {
	return &Error{Type: TypeServiceUnavailable, Message: message, Provider: provider, Model: model, Retryable: true}
}

// NewInvalidRequestError creates a non-retryable request error.
func NewInvalidRequestError(provider, model, message string) *Error {
	return &Error{Type: TypeInvalidRequest, Message: message, Provider: provider, Model: model, Retryable: false}
}

// NewContentPolicyError creates a safety-filter error (not retryable).
func NewContentPolicyError(provider, model, message string) *Error {
	return &Error{Type: TypeContentPolicy, Message: message, Provider: provider, Model: model, Retryable: false}
}

// NewBudgetExceededError creates a budget ceiling error. Fatal for new calls;
// cached responses remain servable.
func NewBudgetExceededError(message string) *Error {
	return &Error{Type: TypeBudgetExceeded, Message: message, Retryable: false}
}

// NewGenerationFailedError creates the hard failure returned when every
// generation strategy in a round failed.
func NewGenerationFailedError(message string) *Error {
	return &Error{Type: TypeGenerationFailed, Message: message, Retryable: false}
}

// NewInternalError creates an internal error (not retryable).
func NewInternalError(provider, model, message string) *Error {
	return &Error{Type: TypeInternalError, Message: message, Provider: provider, Model: model, Retryable: false}
}

// typeOf extracts the classified type from err, or "" for unclassified errors.
func typeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsRateLimit reports whether err is a rate-limit-class failure.
func IsRateLimit(err error) bool { return typeOf(err) == TypeRateLimit }

// IsTimeout reports whether err is a timeout failure.
func IsTimeout(err error) bool { return typeOf(err) == TypeTimeout }

// IsInvalidRequest reports whether err is a malformed-request failure.
func IsInvalidRequest(err error) bool { return typeOf(err) == TypeInvalidRequest }

// IsContentPolicy reports whether err is a safety-filter failure.
func IsContentPolicy(err error) bool { return typeOf(err) == TypeContentPolicy }

// IsBudgetExceeded reports whether err is a budget ceiling failure.
func IsBudgetExceeded(err error) bool { return typeOf(err) == TypeBudgetExceeded }

// IsGenerationFailed reports whether err is an all-strategies-failed failure.
func IsGenerationFailed(err error) bool { return typeOf(err) == TypeGenerationFailed }

// IsRetryable reports whether err may be retried on the same model.
// Rate-limit errors are excluded: they trigger fallback, not same-model retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable && e.Type != TypeRateLimit
	}
	return false
}
