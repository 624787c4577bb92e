package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestReasonClass(t *testing.T) {
	tests := []struct {
		reason   Reason
		expected Class
	}{
		{ReasonRateLimit, ClassRateLimited},
		{ReasonOversized, ClassOversized},
		{ReasonTimeout, ClassTransient},
		{ReasonServerError, ClassTransient},
		{ReasonAuth, ClassFatal},
		{ReasonBilling, ClassFatal},
		{ReasonInvalidRequest, ClassFatal},
		{ReasonModelUnavailable, ClassFatal},
		{ReasonContentFilter, ClassFatal},
		{ReasonUnknown, ClassFatal},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.Class(); got != tt.expected {
				t.Errorf("Reason(%q).Class() = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestNewProviderErrorClassifiesMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Reason
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ReasonTimeout},
		{"timeout", errors.New("request timeout"), ReasonTimeout},
		{"rate limit", errors.New("rate limit exceeded"), ReasonRateLimit},
		{"request too large", errors.New("Request too large for gpt-4o"), ReasonOversized},
		{"tokens per min", errors.New("Limit 30000 tokens per min (TPM)"), ReasonOversized},
		{"context length", errors.New("This model's maximum context length is 128000 tokens"), ReasonOversized},
		{"unauthorized", errors.New("unauthorized"), ReasonAuth},
		{"quota", errors.New("quota exceeded"), ReasonBilling},
		{"model not found", errors.New("model not found"), ReasonModelUnavailable},
		{"server error", errors.New("HTTP 503"), ReasonServerError},
		{"unknown", errors.New("something went wrong"), ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewProviderError("openai", "gpt-4o", tt.err).Reason; got != tt.expected {
				t.Errorf("NewProviderError(%v).Reason = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestProviderErrorReclassify(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *ProviderError
		expected Reason
	}{
		{
			name:     "status 429",
			build:    func() *ProviderError { return NewProviderError("openai", "gpt-4o", errors.New("slow down")).WithStatus(http.StatusTooManyRequests) },
			expected: ReasonRateLimit,
		},
		{
			name: "tpm overrun on 429 is oversized",
			build: func() *ProviderError {
				return NewProviderError("openai", "gpt-4o", errors.New("x")).
					WithMessage("Request too large for gpt-4o on tokens per min (TPM): Limit 30000").
					WithStatus(http.StatusTooManyRequests)
			},
			expected: ReasonOversized,
		},
		{
			name:     "status 413",
			build:    func() *ProviderError { return NewProviderError("exa", "", errors.New("x")).WithStatus(http.StatusRequestEntityTooLarge) },
			expected: ReasonOversized,
		},
		{
			name: "context length code on 400",
			build: func() *ProviderError {
				return NewProviderError("openai", "gpt-4o", errors.New("bad")).WithStatus(http.StatusBadRequest).WithCode("context_length_exceeded")
			},
			expected: ReasonOversized,
		},
		{
			name:     "status 502",
			build:    func() *ProviderError { return NewProviderError("anthropic", "", errors.New("x")).WithStatus(http.StatusBadGateway) },
			expected: ReasonServerError,
		},
		{
			name:     "overloaded code without status",
			build:    func() *ProviderError { return (&ProviderError{}).WithCode("overloaded_error") },
			expected: ReasonServerError,
		},
		{
			name:     "deadline cause",
			build:    func() *ProviderError { return NewProviderError("openai", "", fmt.Errorf("post: %w", context.DeadlineExceeded)) },
			expected: ReasonTimeout,
		},
		{
			name:     "status 401",
			build:    func() *ProviderError { return NewProviderError("openai", "", errors.New("x")).WithStatus(http.StatusUnauthorized) },
			expected: ReasonAuth,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build().Reason; got != tt.expected {
				t.Errorf("Reason = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	rateLimited := NewProviderError("openai", "gpt-4o", errors.New("x")).WithStatus(http.StatusTooManyRequests)
	tests := []struct {
		name     string
		err      error
		expected Class
	}{
		{"nil", nil, ClassFatal},
		{"plain error is fatal even with retryable text", errors.New("rate limit exceeded"), ClassFatal},
		{"wrapped provider error", fmt.Errorf("generate: %w", rateLimited), ClassRateLimited},
		{"canceled", NewProviderError("openai", "", context.Canceled), ClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestProviderErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	err := NewProviderError("openai", "gpt-4o", cause).WithStatus(http.StatusInternalServerError).WithCode("server_error").WithRequestID("req_1")

	want := "[server_error] openai model=gpt-4o status=500 code=server_error boom"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("ProviderError should unwrap to its cause")
	}
	if got, ok := GetProviderError(fmt.Errorf("wrap: %w", err)); !ok || got.RequestID != "req_1" {
		t.Errorf("GetProviderError() = %v, %v", got, ok)
	}
}

func TestClassString(t *testing.T) {
	for class, want := range map[Class]string{
		ClassFatal:       "fatal",
		ClassRateLimited: "rate_limited",
		ClassOversized:   "oversized",
		ClassTransient:   "transient",
	} {
		if got := class.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", class, got, want)
		}
	}
}
