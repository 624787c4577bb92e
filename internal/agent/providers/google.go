package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/haasonsaas/ablate/internal/agent"
	"google.golang.org/genai"
)

// DefaultGoogleModel is used when neither the config nor the request names a model.
const DefaultGoogleModel = "gemini-2.0-flash"

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string

	// HTTPClient overrides the SDK's client. Tests only.
	HTTPClient *http.Client
}

// GoogleProvider implements agent.LLMProvider on the Gemini API.
// It performs no retries of its own; failures are returned as *ProviderError.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
}

// NewGoogleProvider creates a Gemini provider.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultGoogleModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: config.HTTPClient,
	}
	if base := strings.TrimSpace(config.BaseURL); base != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(base, "/") + "/"}
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{client: client, defaultModel: config.DefaultModel}, nil
}

// Name returns the provider identifier used in logs and metrics.
func (p *GoogleProvider) Name() string {
	return "google"
}

// Complete sends one generateContent request and joins the first candidate's text parts.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, convertGoogleMessages(req.Messages), buildGoogleConfig(req))
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, NewProviderError(p.Name(), model, errors.New("response contained no candidates"))
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil {
				text.WriteString(part.Text)
			}
		}
	}
	out := &agent.CompletionResponse{
		Text:       text.String(),
		Model:      model,
		StopReason: string(candidate.FinishReason),
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if usage := resp.UsageMetadata; usage != nil {
		out.InputTokens = int(usage.PromptTokenCount)
		out.OutputTokens = int(usage.CandidatesTokenCount)
	}
	return out, nil
}

func buildGoogleConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Temperature)
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		// #nosec G115 -- bounded by min
		config.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	return config
}

func convertGoogleMessages(messages []agent.CompletionMessage) []*genai.Content {
	result := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		result = append(result, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return result
}

// wrapError maps Gemini API errors onto ProviderError. Errors without a
// structured payload fall back to status inference from the message text.
func (p *GoogleProvider) wrapError(err error, model string) error {
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return NewProviderError(p.Name(), model, err).WithStatus(inferGoogleStatus(err.Error()))
	}

	providerErr := NewProviderError(p.Name(), model, err)
	if apiErr.Message != "" {
		providerErr = providerErr.WithMessage(apiErr.Message)
	}
	return providerErr.WithCode(apiErr.Status).WithStatus(apiErr.Code)
}

func inferGoogleStatus(msg string) int {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated"):
		return http.StatusUnauthorized
	case strings.Contains(msg, "403") || strings.Contains(msg, "permission denied"):
		return http.StatusForbidden
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted"):
		return http.StatusTooManyRequests
	case strings.Contains(msg, "503"):
		return http.StatusServiceUnavailable
	case strings.Contains(msg, "500"):
		return http.StatusInternalServerError
	default:
		return 0
	}
}
