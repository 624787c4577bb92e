package quality

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/ablate/internal/agent"
)

const defaultJudgeScoreTokens = 256

const judgeSystemPrefix = "You are a strict evaluator. Return only a single number between 0 and 1. "

var scorePattern = regexp.MustCompile(`[-+]?[0-9]*\.?[0-9]+`)

// JudgeConfig configures an LLMJudge.
type JudgeConfig struct {
	Provider  agent.LLMProvider
	Model     string
	Metrics   []string
	MaxTokens int

	// Limiter, if set, is waited on before every judge completion.
	Limiter *rate.Limiter
}

// LLMJudge is a Scorer that asks a language model for one score per metric.
type LLMJudge struct {
	provider  agent.LLMProvider
	model     string
	metrics   []string
	maxTokens int
	limiter   *rate.Limiter
}

// NewLLMJudge creates a judge. Unknown metric names are rejected.
func NewLLMJudge(cfg JudgeConfig) (*LLMJudge, error) {
	if cfg.Provider == nil {
		return nil, errors.New("llm judge provider is nil")
	}
	metrics := cfg.Metrics
	if len(metrics) == 0 {
		metrics = DefaultMetrics
	}
	for _, name := range metrics {
		switch name {
		case MetricFaithfulness, MetricAnswerRelevancy, MetricContextPrecision:
		default:
			return nil, fmt.Errorf("llm judge: unsupported metric %q", name)
		}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultJudgeScoreTokens
	}
	return &LLMJudge{
		provider:  cfg.Provider,
		model:     strings.TrimSpace(cfg.Model),
		metrics:   append([]string(nil), metrics...),
		maxTokens: cfg.MaxTokens,
		limiter:   cfg.Limiter,
	}, nil
}

// Score rates sample on every configured metric. An empty answer scores 0
// on answer-dependent metrics without a model call.
func (j *LLMJudge) Score(ctx context.Context, sample Sample) (map[string]float64, error) {
	scores := make(map[string]float64, len(j.metrics))
	for _, name := range j.metrics {
		var (
			value float64
			err   error
		)
		switch name {
		case MetricFaithfulness:
			value, err = j.judgeFaithfulness(ctx, sample)
		case MetricAnswerRelevancy:
			value, err = j.judgeRelevance(ctx, sample)
		case MetricContextPrecision:
			value, err = j.judgeContextPrecision(ctx, sample)
		}
		if err != nil {
			return nil, fmt.Errorf("judge %s: %w", name, err)
		}
		scores[name] = value
	}
	return scores, nil
}

// judgeRelevance scores how well the answer addresses the question.
func (j *LLMJudge) judgeRelevance(ctx context.Context, sample Sample) (float64, error) {
	if strings.TrimSpace(sample.Answer) == "" {
		return 0, nil
	}
	return j.score(ctx,
		"0 means the answer is unrelated. 1 means it fully answers the question.",
		fmt.Sprintf("Question:\n%s\n\nAnswer:\n%s\n\nScore (0-1):", sample.Question, sample.Answer),
	)
}

// judgeFaithfulness scores how well the answer is supported by the contexts.
func (j *LLMJudge) judgeFaithfulness(ctx context.Context, sample Sample) (float64, error) {
	if strings.TrimSpace(sample.Answer) == "" {
		return 0, nil
	}
	return j.score(ctx,
		"0 means the answer is not supported by the context. 1 means all claims are fully supported.",
		fmt.Sprintf("Context:\n%s\n\nAnswer:\n%s\n\nScore (0-1):", BuildContext(sample.Contexts), sample.Answer),
	)
}

// judgeContextPrecision scores how much of the context is relevant to the question.
func (j *LLMJudge) judgeContextPrecision(ctx context.Context, sample Sample) (float64, error) {
	return j.score(ctx,
		"0 means none of the context is relevant to the question. 1 means every passage is relevant.",
		fmt.Sprintf("Question:\n%s\n\nContext:\n%s\n\nScore (0-1):", sample.Question, BuildContext(sample.Contexts)),
	)
}

func (j *LLMJudge) score(ctx context.Context, rubric, content string) (float64, error) {
	if j.limiter != nil {
		if err := j.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}
	resp, err := j.provider.Complete(ctx, &agent.CompletionRequest{
		Model:       j.model,
		System:      judgeSystemPrefix + rubric,
		Messages:    []agent.CompletionMessage{{Role: "user", Content: content}},
		MaxTokens:   j.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return 0, err
	}
	return parseScore(resp.Text)
}

// BuildContext numbers contexts into one plain-text block for the judge.
func BuildContext(contexts []string) string {
	var sb strings.Builder
	for i, text := range contexts {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d]\n%s", i+1, text)
	}
	return sb.String()
}

func parseScore(text string) (float64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, fmt.Errorf("empty judge response")
	}
	match := scorePattern.FindString(trimmed)
	if match == "" {
		return 0, fmt.Errorf("no numeric score in response: %q", trimmed)
	}
	val, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q: %w", match, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("score out of range: %v", val)
	}
	if val > 1 {
		if val <= 100 && strings.Contains(trimmed, "%") {
			val = val / 100
		} else {
			return 0, fmt.Errorf("score out of range: %v", val)
		}
	}
	return val, nil
}
