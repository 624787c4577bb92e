package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/ablate/internal/backoff"
	"github.com/haasonsaas/ablate/pkg/models"
)

// DefaultExaBaseURL is the Exa API root.
const DefaultExaBaseURL = "https://api.exa.ai"

// ExaConfig configures an ExaProvider.
type ExaConfig struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client

	// Sleep replaces the retry wait, mainly in tests.
	Sleep backoff.Sleeper
}

// ExaProvider resolves URLs through the Exa contents endpoint.
type ExaProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	retry   backoff.RetryOptions
}

type exaContentsRequest struct {
	URLs []string `json:"urls"`
	Text bool     `json:"text"`
}

type exaContentsResponse struct {
	Results []json.RawMessage `json:"results"`
}

// NewExaProvider creates an Exa provider. An empty API key is an error.
func NewExaProvider(cfg ExaConfig) (*ExaProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("exa: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultExaBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ExaProvider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		retry: backoff.RetryOptions{
			Policy:      backoff.FetchPolicy(),
			MaxAttempts: cfg.MaxAttempts,
			Retryable:   retryableFetch,
			Sleep:       cfg.Sleep,
		},
	}, nil
}

// Name returns "exa".
func (p *ExaProvider) Name() string {
	return "exa"
}

// Resolve fetches the full text of url. Throttled and failed requests are
// retried with backoff.
func (p *ExaProvider) Resolve(ctx context.Context, url string) (*models.Document, error) {
	return backoff.Retry(ctx, p.retry, func(int) (*models.Document, error) {
		return p.fetch(ctx, url)
	})
}

func (p *ExaProvider) fetch(ctx context.Context, url string) (*models.Document, error) {
	payload, err := json.Marshal(exaContentsRequest{URLs: []string{url}, Text: true})
	if err != nil {
		return nil, fmt.Errorf("exa: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/contents", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("exa: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exa: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("exa: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: p.Name(), Status: resp.StatusCode, Body: truncateBody(body)}
	}

	var decoded exaContentsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("exa: decode response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return nil, ErrNoResult
	}
	doc, err := models.DecodeProviderRecord(url, decoded.Results[0])
	if err != nil {
		return nil, fmt.Errorf("exa: %w", err)
	}
	if doc.Title == "" {
		doc.Title = models.UntitledDocument
	}
	return &doc, nil
}

func truncateBody(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
