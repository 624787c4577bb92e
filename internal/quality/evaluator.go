// Package quality scores an answer against its question and supporting
// contexts and combines the named metrics into one scalar.
package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/ablate/internal/observability"
	"github.com/haasonsaas/ablate/pkg/models"
)

// Metric names understood by LLMJudge.
const (
	MetricFaithfulness     = "faithfulness"
	MetricAnswerRelevancy  = "answer_relevancy"
	MetricContextPrecision = "context_precision"
)

// DefaultMetrics is the metric set used when none is configured.
var DefaultMetrics = []string{MetricFaithfulness, MetricAnswerRelevancy}

var (
	// ErrEmptyContexts is returned under EmptyContextFail when an answer has
	// no supporting contexts to be scored against.
	ErrEmptyContexts = errors.New("no contexts to evaluate against")

	// ErrMissingMetric is returned when the scorer omits a configured metric.
	ErrMissingMetric = errors.New("scorer did not return metric")
)

// EmptyContextPolicy decides what Evaluate does with an empty context list.
type EmptyContextPolicy string

const (
	// EmptyContextFloor scores every metric 0 without calling the scorer.
	EmptyContextFloor EmptyContextPolicy = "floor"
	// EmptyContextFail returns ErrEmptyContexts.
	EmptyContextFail EmptyContextPolicy = "fail"
)

// ParseEmptyContextPolicy converts a config value. Empty selects EmptyContextFloor.
func ParseEmptyContextPolicy(s string) (EmptyContextPolicy, error) {
	switch EmptyContextPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", EmptyContextFloor:
		return EmptyContextFloor, nil
	case EmptyContextFail:
		return EmptyContextFail, nil
	default:
		return "", fmt.Errorf("unknown empty context policy %q", s)
	}
}

// Sample is one question/answer pair with the contexts the answer was built from.
type Sample struct {
	Question string
	Answer   string
	Contexts []string
}

// Scorer rates a sample on one or more metrics, each in [0, 1].
type Scorer interface {
	Score(ctx context.Context, sample Sample) (map[string]float64, error)
}

// Config configures an Evaluator.
type Config struct {
	Scorer       Scorer
	Metrics      []string
	EmptyContext EmptyContextPolicy
	Logger       *slog.Logger
	Observer     *observability.Metrics
	Tracer       *observability.Tracer
}

// Evaluator wraps a Scorer with a fixed metric set.
type Evaluator struct {
	scorer       Scorer
	metrics      []string
	emptyContext EmptyContextPolicy
	logger       *slog.Logger
	observer     *observability.Metrics
	tracer       *observability.Tracer
}

// NewEvaluator creates an Evaluator from cfg.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if cfg.Scorer == nil {
		return nil, errors.New("quality: scorer is required")
	}
	metrics := cfg.Metrics
	if len(metrics) == 0 {
		metrics = DefaultMetrics
	}
	seen := make(map[string]bool, len(metrics))
	for _, name := range metrics {
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("quality: empty metric name")
		}
		if seen[name] {
			return nil, fmt.Errorf("quality: duplicate metric %q", name)
		}
		seen[name] = true
	}
	if cfg.EmptyContext == "" {
		cfg.EmptyContext = EmptyContextFloor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Evaluator{
		scorer:       cfg.Scorer,
		metrics:      append([]string(nil), metrics...),
		emptyContext: cfg.EmptyContext,
		logger:       cfg.Logger.With("component", "quality"),
		observer:     cfg.Observer,
		tracer:       cfg.Tracer,
	}, nil
}

// Metrics returns the configured metric names.
func (e *Evaluator) Metrics() []string {
	return append([]string(nil), e.metrics...)
}

// Evaluate scores answer with one scorer call and returns the per-metric
// breakdown and its mean. Scorer errors are returned unchanged in meaning;
// there is no retry.
func (e *Evaluator) Evaluate(ctx context.Context, question, answer string, contexts []string) (models.QualityScore, error) {
	start := time.Now()
	ctx, span := e.tracer.TraceEvaluation(ctx, len(contexts))
	defer span.End()

	if len(contexts) == 0 {
		if e.emptyContext == EmptyContextFail {
			e.observer.RecordEvaluation("error", time.Since(start).Seconds())
			e.tracer.RecordError(span, ErrEmptyContexts)
			return models.QualityScore{}, ErrEmptyContexts
		}
		e.logger.DebugContext(ctx, "no contexts, flooring quality to zero")
		breakdown := make(map[string]float64, len(e.metrics))
		for _, name := range e.metrics {
			breakdown[name] = 0
		}
		e.observer.RecordEvaluation("floored", time.Since(start).Seconds())
		return models.NewQualityScore(breakdown), nil
	}

	scores, err := e.scorer.Score(ctx, Sample{Question: question, Answer: answer, Contexts: contexts})
	if err != nil {
		e.observer.RecordEvaluation("error", time.Since(start).Seconds())
		e.tracer.RecordError(span, err)
		return models.QualityScore{}, fmt.Errorf("evaluate answer: %w", err)
	}

	breakdown := make(map[string]float64, len(e.metrics))
	for _, name := range e.metrics {
		value, ok := scores[name]
		if !ok {
			err := fmt.Errorf("%w %q", ErrMissingMetric, name)
			e.observer.RecordEvaluation("error", time.Since(start).Seconds())
			e.tracer.RecordError(span, err)
			return models.QualityScore{}, err
		}
		breakdown[name] = value
	}

	score := models.NewQualityScore(breakdown)
	e.tracer.SetAttributes(span, "quality.combined", score.Combined)
	e.observer.RecordEvaluation("success", time.Since(start).Seconds())
	return score, nil
}
