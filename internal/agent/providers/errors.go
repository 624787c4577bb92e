package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason categorizes why a provider request failed.
type Reason string

const (
	// ReasonRateLimit indicates rate limiting (HTTP 429)
	ReasonRateLimit Reason = "rate_limit"

	// ReasonOversized indicates the request exceeded a size or tokens-per-minute
	// limit (HTTP 413, context length errors)
	ReasonOversized Reason = "oversized"

	// ReasonTimeout indicates request timeout
	ReasonTimeout Reason = "timeout"

	// ReasonServerError indicates server-side issues (HTTP 5xx)
	ReasonServerError Reason = "server_error"

	// ReasonAuth indicates authentication failure (HTTP 401, 403)
	ReasonAuth Reason = "auth"

	// ReasonBilling indicates payment/quota issues (HTTP 402)
	ReasonBilling Reason = "billing"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400)
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonModelUnavailable indicates the model is not available
	ReasonModelUnavailable Reason = "model_unavailable"

	// ReasonContentFilter indicates content was blocked by safety filters
	ReasonContentFilter Reason = "content_filter"

	// ReasonUnknown indicates an unclassified error
	ReasonUnknown Reason = "unknown"
)

// Class is the retry decision a caller makes for a failed completion.
type Class int

const (
	// ClassFatal errors are returned to the caller immediately.
	ClassFatal Class = iota
	// ClassRateLimited errors are retried after a backoff delay.
	ClassRateLimited
	// ClassOversized errors are retried with smaller input and no delay.
	ClassOversized
	// ClassTransient errors are retried after a backoff delay.
	ClassTransient
)

// String returns the metric label for c.
func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassOversized:
		return "oversized"
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Class maps a reason to its retry decision.
func (r Reason) Class() Class {
	switch r {
	case ReasonRateLimit:
		return ClassRateLimited
	case ReasonOversized:
		return ClassOversized
	case ReasonTimeout, ReasonServerError:
		return ClassTransient
	default:
		return ClassFatal
	}
}

// ProviderError represents a structured error from an LLM provider.
type ProviderError struct {
	// Reason categorizes the error for retry logic
	Reason Reason

	// Provider is the name of the provider (e.g., "anthropic", "openai", "google")
	Provider string

	// Model is the model that was requested
	Model string

	// Status is the HTTP status code, if applicable
	Status int

	// Code is the provider-specific error code
	Code string

	// Message is the human-readable error message
	Message string

	// RequestID is the provider's request ID for debugging
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError classified from cause.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
	}
	err.reclassify()
	return err
}

// WithStatus adds HTTP status to the error and reclassifies it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.reclassify()
	return e
}

// WithCode adds a provider-specific error code and reclassifies it.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	e.reclassify()
	return e
}

// WithRequestID adds the provider's request ID.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage sets the error message and reclassifies it.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	e.reclassify()
	return e
}

// reclassify derives Reason from every known field. Oversized signals win
// over the status code: tokens-per-minute overruns arrive as HTTP 429 but
// only shrinking the request can make them succeed.
func (e *ProviderError) reclassify() {
	if classifyErrorCode(e.Code) == ReasonOversized || isOversizedMessage(e.Message) {
		e.Reason = ReasonOversized
		return
	}
	if reason := classifyStatusCode(e.Status); reason != ReasonUnknown {
		e.Reason = reason
		return
	}
	if reason := classifyErrorCode(e.Code); reason != ReasonUnknown {
		e.Reason = reason
		return
	}
	if errors.Is(e.Cause, context.DeadlineExceeded) {
		e.Reason = ReasonTimeout
		return
	}
	e.Reason = classifyMessage(e.Message)
}

func isOversizedMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "request too large") ||
		strings.Contains(msg, "tokens per min") ||
		strings.Contains(msg, "(tpm)") ||
		strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context_length_exceeded") ||
		strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "exceeds the maximum number of tokens") ||
		strings.Contains(msg, "maximum context")
}

func classifyMessage(msg string) Reason {
	if isOversizedMessage(msg) {
		return ReasonOversized
	}
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "etimedout"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "invalid_api_key") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "403"):
		return ReasonAuth
	case strings.Contains(msg, "billing") ||
		strings.Contains(msg, "payment") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "402"):
		return ReasonBilling
	case strings.Contains(msg, "content_filter") ||
		strings.Contains(msg, "content policy"):
		return ReasonContentFilter
	case strings.Contains(msg, "model not found") ||
		strings.Contains(msg, "model_not_found") ||
		strings.Contains(msg, "does not exist"):
		return ReasonModelUnavailable
	case strings.Contains(msg, "internal server") ||
		strings.Contains(msg, "server error") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// classifyStatusCode returns a Reason based on HTTP status code.
func classifyStatusCode(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestEntityTooLarge:
		return ReasonOversized
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// classifyErrorCode returns a Reason based on provider-specific error codes.
func classifyErrorCode(code string) Reason {
	switch strings.ToLower(code) {
	case "context_length_exceeded", "request_too_large", "string_above_max_length":
		return ReasonOversized
	case "rate_limit_error", "rate_limit_exceeded", "resource_exhausted":
		return ReasonRateLimit
	case "overloaded_error", "server_error", "internal_error", "api_error", "internal", "unavailable":
		return ReasonServerError
	case "authentication_error", "permission_error", "invalid_api_key", "unauthenticated", "permission_denied":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "model_not_found", "not_found_error", "not_found":
		return ReasonModelUnavailable
	case "content_policy_violation", "content_filter":
		return ReasonContentFilter
	case "invalid_request_error", "invalid_argument":
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// Classify returns the retry decision for err. Only ProviderError values
// carry a retryable class; anything else, including context cancellation,
// is fatal.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.Class()
	}
	return ClassFatal
}
