// Package agent defines the provider-neutral completion contract used by the
// answer generator and the quality judge.
package agent

import "context"

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations must be safe for concurrent use: parallel ablations share
// one provider. Errors returned by Complete should be *providers.ProviderError
// values so callers can classify them without inspecting message text.
type LLMProvider interface {
	// Complete sends a prompt and returns the full response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// CompletionRequest contains all parameters for an LLM completion request.
//
// Example:
//
//	req := &CompletionRequest{
//	    Model:       "gpt-4o",
//	    System:      "You are a factual answer generator.",
//	    Messages:    []CompletionMessage{{Role: "user", Content: evidence}},
//	    Temperature: 0,
//	}
type CompletionRequest struct {
	// Model specifies which LLM model to use (e.g., "gpt-4o").
	// If empty, the provider's default model is used.
	Model string `json:"model"`

	// System is the system prompt. Handled separately from messages in most APIs.
	System string `json:"system,omitempty"`

	// Messages contains the conversation in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// MaxTokens limits the length of the generated response.
	// If 0 or negative, the provider's default is used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling. Attribution runs use 0.
	Temperature float64 `json:"temperature"`
}

// CompletionMessage is a single chat message. Role is "user" or "assistant".
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse is a finished, non-streamed completion.
type CompletionResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}
