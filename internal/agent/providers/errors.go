package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorReason categorizes why a reasoning-service request failed.
type ErrorReason string

const (
	ReasonRateLimit      ErrorReason = "rate_limit"
	ReasonOverloaded     ErrorReason = "overloaded"
	ReasonAuth           ErrorReason = "auth"
	ReasonBilling        ErrorReason = "billing"
	ReasonTimeout        ErrorReason = "timeout"
	ReasonServerError    ErrorReason = "server_error"
	ReasonInvalidRequest ErrorReason = "invalid_request"
	ReasonNotFound       ErrorReason = "not_found"
	ReasonUnknown        ErrorReason = "unknown"
)

// IsRetryable returns true if the reason suggests retrying may succeed.
func (r ErrorReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonOverloaded, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a failed reasoning-service request with the context needed
// for retry decisions and debugging.
type ProviderError struct {
	Reason    ErrorReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	parts := []string{e.Provider}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("%s: [%s] %s", strings.Join(parts, " "), e.Reason, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// newProviderError classifies cause from its message.
func newProviderError(provider, model string, cause error) *ProviderError {
	return &ProviderError{
		Reason:   ClassifyError(cause),
		Provider: provider,
		Model:    model,
		Message:  cause.Error(),
		Cause:    cause,
	}
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

// ClassifyError inspects an error message and returns the matching reason.
func ClassifyError(err error) ErrorReason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "timeout", "deadline exceeded", "etimedout"):
		return ReasonTimeout
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "429"):
		return ReasonRateLimit
	case containsAny(msg, "overloaded", "529"):
		return ReasonOverloaded
	case containsAny(msg, "unauthorized", "invalid x-api-key", "invalid api key", "authentication", "401", "403"):
		return ReasonAuth
	case containsAny(msg, "billing", "credit balance", "402"):
		return ReasonBilling
	case containsAny(msg, "internal server", "server error", "bad gateway", "service unavailable",
		"connection reset", "connection refused", "500", "502", "503", "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// classifyStatusCode returns a reason from an HTTP status code.
func classifyStatusCode(status int) ErrorReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == 529:
		return ReasonOverloaded
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonNotFound
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// classifyErrorCode maps Anthropic error types to reasons.
func classifyErrorCode(code string) ErrorReason {
	switch strings.ToLower(code) {
	case "rate_limit_error":
		return ReasonRateLimit
	case "overloaded_error":
		return ReasonOverloaded
	case "authentication_error", "permission_error":
		return ReasonAuth
	case "billing_error":
		return ReasonBilling
	case "not_found_error":
		return ReasonNotFound
	case "api_error":
		return ReasonServerError
	case "invalid_request_error", "request_too_large":
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}
