package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/ablate/internal/agent"
)

func newOpenAITestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	return provider
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestOpenAIComplete(t *testing.T) {
	var captured map[string]any
	provider := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o-2024","choices":[{"index":0,"message":{"role":"assistant","content":"Paris [S1]."},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`)
	})

	resp, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		System:   "Use ONLY the provided documents.",
		Messages: []agent.CompletionMessage{{Role: "user", Content: "Question?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Paris [S1]." || resp.StopReason != "stop" || resp.InputTokens != 12 || resp.OutputTokens != 4 {
		t.Errorf("response = %+v", resp)
	}
	if captured["model"] != DefaultOpenAIModel {
		t.Errorf("model = %v, want default", captured["model"])
	}
	if temp, ok := captured["temperature"].(float64); !ok || temp > 1e-6 {
		t.Errorf("temperature = %v, want ~0 present in body", captured["temperature"])
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %v, want system + user", captured["messages"])
	}
	if first, _ := messages[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v", first["role"])
	}
}

func TestOpenAICompleteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Class
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			want:   ClassRateLimited,
		},
		{
			name:   "tokens per minute",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"Request too large for gpt-4o on tokens per min (TPM): Limit 30000, Requested 45000.","type":"tokens","code":"rate_limit_exceeded"}}`,
			want:   ClassOversized,
		},
		{
			name:   "context length",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"maximum context length exceeded","type":"invalid_request_error","code":"context_length_exceeded"}}`,
			want:   ClassOversized,
		},
		{
			name:   "server error",
			status: http.StatusServiceUnavailable,
			body:   `{"error":{"message":"The server is overloaded","type":"server_error","code":null}}`,
			want:   ClassTransient,
		},
		{
			name:   "bad key",
			status: http.StatusUnauthorized,
			body:   `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			want:   ClassFatal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := provider.Complete(context.Background(), &agent.CompletionRequest{
				Messages: []agent.CompletionMessage{{Role: "user", Content: "q"}},
			})
			if err == nil {
				t.Fatal("expected error")
			}
			providerErr, ok := GetProviderError(err)
			if !ok {
				t.Fatalf("expected ProviderError, got %T: %v", err, err)
			}
			if providerErr.Status != tt.status {
				t.Errorf("status = %d, want %d", providerErr.Status, tt.status)
			}
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify() = %v (reason %s), want %v", got, providerErr.Reason, tt.want)
			}
		})
	}
}

func TestOpenAICompleteNoChoices(t *testing.T) {
	provider := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","model":"gpt-4o","choices":[]}`)
	})
	_, err := provider.Complete(context.Background(), &agent.CompletionRequest{})
	if Classify(err) != ClassFatal {
		t.Fatalf("expected fatal error, got %v", err)
	}
}
