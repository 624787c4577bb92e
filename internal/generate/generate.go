// Package generate produces answers from prompts, absorbing rate limits,
// transient provider failures, and oversized requests.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/ablate/internal/agent"
	"github.com/haasonsaas/ablate/internal/agent/providers"
	"github.com/haasonsaas/ablate/internal/backoff"
	"github.com/haasonsaas/ablate/internal/observability"
	"github.com/haasonsaas/ablate/internal/prompt"
)

// ErrGenerationExhausted is returned when every attempt failed with a
// retryable error. It wraps the last provider error.
var ErrGenerationExhausted = errors.New("answer generation attempts exhausted")

const (
	// DefaultMaxAttempts is the attempt budget shared by backoff and truncation.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the wait before the first retry; it doubles after
	// every backoff.
	DefaultBaseDelay = 10 * time.Second
)

// Config configures a Generator.
type Config struct {
	Provider    agent.LLMProvider
	Model       string
	MaxTokens   int
	MaxAttempts int
	BaseDelay   time.Duration

	// Limiter, if set, is waited on before every attempt. Share one limiter
	// between generators that call the same provider account.
	Limiter *rate.Limiter

	// Sleep replaces backoff.SleepWithContext, mainly in tests.
	Sleep backoff.Sleeper

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Generator turns prompts into answers. It is safe for concurrent use; each
// Generate call keeps its own retry state.
type Generator struct {
	provider    agent.LLMProvider
	model       string
	maxTokens   int
	maxAttempts int
	policy      backoff.Policy
	limiter     *rate.Limiter
	sleep       backoff.Sleeper
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
}

// New creates a Generator from cfg, applying defaults.
func New(cfg Config) (*Generator, error) {
	if cfg.Provider == nil {
		return nil, errors.New("generate: provider is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = backoff.SleepWithContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{
		provider:    cfg.Provider,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		maxAttempts: cfg.MaxAttempts,
		policy:      backoff.GenerationPolicy(cfg.BaseDelay),
		limiter:     cfg.Limiter,
		sleep:       cfg.Sleep,
		logger:      cfg.Logger.With("component", "generate"),
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
	}, nil
}

// Generate returns the model's answer to p.
//
// Rate-limited and transient failures sleep and retry with a doubling delay.
// Oversized requests halve the evidence of a private copy of p and retry
// immediately. Fatal failures return at once. When the attempt budget runs
// out the result wraps ErrGenerationExhausted.
func (g *Generator) Generate(ctx context.Context, p prompt.Prompt) (string, error) {
	start := time.Now()
	ctx, span := g.tracer.TraceGeneration(ctx, g.provider.Name(), g.model)
	defer span.End()

	answer, attempts, err := g.run(ctx, p)
	status := "success"
	if err != nil {
		status = "error"
		g.tracer.RecordError(span, err)
	}
	g.tracer.SetAttributes(span, "llm.attempts", attempts)
	g.metrics.RecordGeneration(g.provider.Name(), g.model, status, time.Since(start).Seconds())
	return answer, err
}

func (g *Generator) run(ctx context.Context, p prompt.Prompt) (string, int, error) {
	current := p
	backoffs := 0
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", attempt - 1, fmt.Errorf("wait for rate limiter: %w", err)
			}
		}

		answer, err := g.complete(ctx, current)
		if err == nil {
			g.metrics.GenerationAttempt(g.provider.Name(), "success")
			return answer, attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", attempt, ctxErr
		}

		class := providers.Classify(err)
		g.metrics.GenerationAttempt(g.provider.Name(), class.String())
		lastErr = err

		switch class {
		case providers.ClassOversized:
			current = current.TruncateEvidence()
			g.metrics.Truncated(g.provider.Name())
			g.logger.WarnContext(ctx, "request too large, truncating evidence",
				"attempt", attempt,
				"evidence_runes", current.Len(),
				"error", err,
			)
		case providers.ClassRateLimited, providers.ClassTransient:
			if attempt == g.maxAttempts {
				break
			}
			backoffs++
			delay := g.policy.Delay(backoffs)
			g.logger.WarnContext(ctx, "generation failed, backing off",
				"attempt", attempt,
				"class", class.String(),
				"delay", delay,
				"error", err,
			)
			if err := g.sleep(ctx, delay); err != nil {
				return "", attempt, err
			}
		default:
			return "", attempt, fmt.Errorf("generate answer: %w", err)
		}
	}
	return "", g.maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrGenerationExhausted, g.maxAttempts, lastErr)
}

func (g *Generator) complete(ctx context.Context, p prompt.Prompt) (string, error) {
	system, messages := p.Messages()
	resp, err := g.provider.Complete(ctx, &agent.CompletionRequest{
		Model:       g.model,
		System:      system,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
