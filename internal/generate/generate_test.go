package generate

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"github.com/haasonsaas/ablate/internal/agent"
	"github.com/haasonsaas/ablate/internal/agent/providers"
	"github.com/haasonsaas/ablate/internal/observability"
	"github.com/haasonsaas/ablate/internal/prompt"
	"github.com/haasonsaas/ablate/pkg/models"
)

// scriptedProvider returns one scripted result per call and records requests.
type scriptedProvider struct {
	mu       sync.Mutex
	results  []error
	answer   string
	requests []agent.CompletionRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, *req)
	if len(p.results) > 0 {
		err := p.results[0]
		p.results = p.results[1:]
		if err != nil {
			return nil, err
		}
	}
	return &agent.CompletionResponse{Text: p.answer}, nil
}

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func providerErr(status int, msg string) error {
	return providers.NewProviderError("scripted", "m", errors.New(msg)).WithStatus(status)
}

var (
	rateLimited = providerErr(http.StatusTooManyRequests, "rate limit")
	oversized   = providerErr(http.StatusTooManyRequests, "Request too large: tokens per min (TPM)")
	transient   = providerErr(http.StatusBadGateway, "bad gateway")
	fatal       = providerErr(http.StatusUnauthorized, "bad key")
)

func testPrompt() prompt.Prompt {
	return prompt.Build("q", []models.Document{{Title: "t", URL: "u", Text: strings.Repeat("x", 1000)}})
}

func newTestGenerator(t *testing.T, provider agent.LLMProvider, sleeper *recordingSleeper) *Generator {
	t.Helper()
	g, err := New(Config{Provider: provider, Model: "m", Sleep: sleeper.sleep})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNewRequiresProvider(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without provider")
	}
}

func TestGenerateSuccess(t *testing.T) {
	provider := &scriptedProvider{answer: "answer [S1]"}
	sleeper := &recordingSleeper{}
	got, err := newTestGenerator(t, provider, sleeper).Generate(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "answer [S1]" {
		t.Errorf("answer = %q", got)
	}
	req := provider.requests[0]
	if req.System != prompt.Instructions || req.Temperature != 0 || req.Model != "m" {
		t.Errorf("request = %+v", req)
	}
}

func TestGenerateBacksOffWithDoublingDelay(t *testing.T) {
	tests := []struct {
		name    string
		results []error
		delays  []time.Duration
	}{
		{name: "rate limited once", results: []error{rateLimited}, delays: []time.Duration{10 * time.Second}},
		{name: "transient twice", results: []error{transient, rateLimited}, delays: []time.Duration{10 * time.Second, 20 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{results: tt.results, answer: "ok"}
			sleeper := &recordingSleeper{}
			got, err := newTestGenerator(t, provider, sleeper).Generate(context.Background(), testPrompt())
			if err != nil || got != "ok" {
				t.Fatalf("Generate = %q, %v", got, err)
			}
			if len(sleeper.delays) != len(tt.delays) {
				t.Fatalf("delays = %v, want %v", sleeper.delays, tt.delays)
			}
			for i := range tt.delays {
				if sleeper.delays[i] != tt.delays[i] {
					t.Errorf("delay[%d] = %v, want %v", i, sleeper.delays[i], tt.delays[i])
				}
			}
		})
	}
}

func TestGenerateTruncatesWithoutDelay(t *testing.T) {
	provider := &scriptedProvider{results: []error{oversized, oversized}, answer: "ok"}
	sleeper := &recordingSleeper{}
	original := testPrompt()
	before := original

	got, err := newTestGenerator(t, provider, sleeper).Generate(context.Background(), original)
	if err != nil || got != "ok" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("truncation should not sleep, slept %v", sleeper.delays)
	}
	if len(provider.requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(provider.requests))
	}
	lengths := make([]int, len(provider.requests))
	for i, req := range provider.requests {
		lengths[i] = len([]rune(req.Messages[0].Content))
		if req.System != prompt.Instructions {
			t.Errorf("request %d instructions changed", i)
		}
	}
	if lengths[1] != lengths[0]/2 || lengths[2] != lengths[1]/2 {
		t.Errorf("evidence lengths = %v, want halving", lengths)
	}
	if original != before {
		t.Error("caller's prompt was modified")
	}
}

func TestGenerateExhausted(t *testing.T) {
	provider := &scriptedProvider{results: []error{rateLimited, oversized, transient}, answer: "never"}
	sleeper := &recordingSleeper{}
	_, err := newTestGenerator(t, provider, sleeper).Generate(context.Background(), testPrompt())
	if !errors.Is(err, ErrGenerationExhausted) {
		t.Fatalf("error = %v, want ErrGenerationExhausted", err)
	}
	if !errors.Is(err, transient) {
		t.Errorf("error should wrap the last cause: %v", err)
	}
	if len(provider.requests) != DefaultMaxAttempts {
		t.Errorf("requests = %d, want %d", len(provider.requests), DefaultMaxAttempts)
	}
	if len(sleeper.delays) != 1 {
		t.Errorf("delays = %v, want only the first backoff", sleeper.delays)
	}
}

func TestGenerateFatalReturnsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "auth", err: fatal},
		{name: "unstructured error", err: errors.New("rate limit exceeded")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{results: []error{tt.err}}
			sleeper := &recordingSleeper{}
			_, err := newTestGenerator(t, provider, sleeper).Generate(context.Background(), testPrompt())
			if !errors.Is(err, tt.err) || errors.Is(err, ErrGenerationExhausted) {
				t.Fatalf("error = %v", err)
			}
			if len(provider.requests) != 1 || len(sleeper.delays) != 0 {
				t.Errorf("requests = %d delays = %v", len(provider.requests), sleeper.delays)
			}
		})
	}
}

func TestGenerateCancelledDuringBackoff(t *testing.T) {
	provider := &scriptedProvider{results: []error{rateLimited}, answer: "ok"}
	ctx, cancel := context.WithCancel(context.Background())
	g, err := New(Config{
		Provider: provider,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Generate(ctx, testPrompt()); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestGenerateWaitsOnLimiter(t *testing.T) {
	provider := &scriptedProvider{answer: "ok"}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	g, err := New(Config{Provider: provider, Limiter: limiter})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Generate(context.Background(), testPrompt()); err != nil {
		t.Fatalf("first Generate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Generate(ctx, testPrompt()); err == nil {
		t.Fatal("second Generate should fail waiting on the exhausted limiter")
	}
	if len(provider.requests) != 1 {
		t.Errorf("requests = %d, want 1", len(provider.requests))
	}
}

func TestGenerateRecordsMetrics(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	provider := &scriptedProvider{results: []error{oversized, rateLimited}, answer: "ok"}
	sleeper := &recordingSleeper{}
	g, err := New(Config{Provider: provider, Sleep: sleeper.sleep, Metrics: metrics})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Generate(context.Background(), testPrompt()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for outcome, want := range map[string]float64{"oversized": 1, "rate_limited": 1, "success": 1} {
		if got := testutil.ToFloat64(metrics.GenerationAttempts.WithLabelValues("scripted", outcome)); got != want {
			t.Errorf("attempts{%s} = %v, want %v", outcome, got, want)
		}
	}
	if got := testutil.ToFloat64(metrics.Truncations.WithLabelValues("scripted")); got != 1 {
		t.Errorf("truncations = %v", got)
	}
}
