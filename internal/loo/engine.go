// Package loo measures how much each source document contributes to the
// quality of a grounded answer by leaving it out and answering again.
package loo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/ablate/internal/observability"
	"github.com/haasonsaas/ablate/internal/prompt"
	"github.com/haasonsaas/ablate/internal/resolver"
	"github.com/haasonsaas/ablate/pkg/models"
)

// ErrNoDocuments is returned when none of the requested URLs could be resolved.
var ErrNoDocuments = errors.New("no documents resolved")

// DocumentResolver turns URLs into documents.
type DocumentResolver interface {
	ResolveAll(ctx context.Context, urls []string, overrides resolver.Overrides) ([]models.Document, error)
}

// AnswerGenerator produces an answer for a prompt.
type AnswerGenerator interface {
	Generate(ctx context.Context, p prompt.Prompt) (string, error)
}

// QualityEvaluator scores an answer against the contexts it was built from.
type QualityEvaluator interface {
	Evaluate(ctx context.Context, question, answer string, contexts []string) (models.QualityScore, error)
}

// Options tunes a run.
type Options struct {
	// Concurrency caps how many ablations run at once. Values below 2 run
	// them sequentially.
	Concurrency int

	// Solo additionally scores an answer built from each document alone.
	Solo bool
}

// Config wires an Engine.
type Config struct {
	Resolver  DocumentResolver
	Generator AnswerGenerator
	Evaluator QualityEvaluator
	Options   Options

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// Engine runs leave-one-out attribution studies.
type Engine struct {
	resolver  DocumentResolver
	generator AnswerGenerator
	evaluator QualityEvaluator
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	now       func() time.Time
	newID     func() string
}

// New creates an Engine. Resolver, Generator and Evaluator are required.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Resolver == nil:
		return nil, errors.New("loo: resolver is required")
	case cfg.Generator == nil:
		return nil, errors.New("loo: generator is required")
	case cfg.Evaluator == nil:
		return nil, errors.New("loo: evaluator is required")
	}
	if cfg.Options.Concurrency < 1 {
		cfg.Options.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{
		resolver:  cfg.Resolver,
		generator: cfg.Generator,
		evaluator: cfg.Evaluator,
		opts:      cfg.Options,
		logger:    cfg.Logger.With("component", "loo"),
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		now:       cfg.Now,
		newID:     cfg.NewID,
	}, nil
}

// Run resolves urls, answers question with every document, then once per
// document with that document left out, and reports each document's impact:
// the full-context quality minus the quality without it.
//
// The report's per-document slices follow the order of the resolved
// documents. Any generation or evaluation failure fails the whole run; no
// partial report is returned.
func (e *Engine) Run(ctx context.Context, question string, urls []string, overrides resolver.Overrides) (*models.AttributionReport, error) {
	start := e.now()
	runID := e.newID()
	ctx = observability.AddRunID(ctx, runID)

	report, err := e.run(ctx, runID, question, urls, overrides)
	status := "success"
	var impacts []float64
	if err != nil {
		status = "error"
	} else {
		impacts = report.PerSourceImpact
	}
	e.metrics.RecordRun(status, e.now().Sub(start).Seconds(), impacts)
	return report, err
}

func (e *Engine) run(ctx context.Context, runID, question string, urls []string, overrides resolver.Overrides) (*models.AttributionReport, error) {
	docs, err := e.resolver.ResolveAll(ctx, urls, overrides)
	if err != nil {
		return nil, fmt.Errorf("resolve sources: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	ctx, span := e.tracer.TraceRun(ctx, runID, len(docs))
	defer span.End()

	e.logger.InfoContext(ctx, "starting attribution run",
		"question", question,
		"requested", len(urls),
		"documents", len(docs),
		"concurrency", e.opts.Concurrency,
	)

	fullAnswer, fullQuality, err := e.answerAndScore(ctx, question, docs)
	if err != nil {
		e.tracer.RecordError(span, err)
		return nil, fmt.Errorf("full context: %w", err)
	}
	e.logger.InfoContext(ctx, "scored full context", "combined", fullQuality.Combined)

	ablations := make([]models.Ablation, len(docs))
	err = e.forEach(ctx, len(docs), func(ctx context.Context, i int) error {
		ablation, err := e.ablate(ctx, question, docs, i, fullQuality)
		if err != nil {
			return err
		}
		ablations[i] = ablation
		return nil
	})
	if err != nil {
		e.tracer.RecordError(span, err)
		return nil, err
	}

	report := &models.AttributionReport{
		RunID:           runID,
		Question:        question,
		GeneratedAt:     e.now().UTC(),
		FullAnswer:      fullAnswer,
		FullQuality:     fullQuality,
		PerSourceImpact: make([]float64, len(docs)),
		SourcesMeta:     make([]models.SourceMeta, len(docs)),
		Ablations:       ablations,
	}
	for i, doc := range docs {
		report.PerSourceImpact[i] = ablations[i].Impact
		report.SourcesMeta[i] = doc.Meta()
	}

	if e.opts.Solo {
		solo := make([]models.QualityScore, len(docs))
		err := e.forEach(ctx, len(docs), func(ctx context.Context, i int) error {
			_, quality, err := e.answerAndScore(ctx, question, docs[i:i+1])
			if err != nil {
				return fmt.Errorf("solo source %d (%s): %w", i, docs[i].URL, err)
			}
			solo[i] = quality
			return nil
		})
		if err != nil {
			e.tracer.RecordError(span, err)
			return nil, err
		}
		report.SoloQuality = solo
	}

	e.tracer.SetAttributes(span, "run.full_quality", fullQuality.Combined, "run.impacts", report.PerSourceImpact)
	return report, nil
}

// ablate answers without docs[index] and compares the result to full.
func (e *Engine) ablate(ctx context.Context, question string, docs []models.Document, index int, full models.QualityScore) (models.Ablation, error) {
	ctx = observability.AddAblation(ctx, index)
	ctx, span := e.tracer.TraceAblation(ctx, index, docs[index].URL)
	defer span.End()

	answer, quality, err := e.answerAndScore(ctx, question, without(docs, index))
	if err != nil {
		e.tracer.RecordError(span, err)
		return models.Ablation{}, fmt.Errorf("ablation %d (%s): %w", index, docs[index].URL, err)
	}
	impact := full.Combined - quality.Combined
	e.tracer.SetAttributes(span, "ablation.impact", impact)
	e.logger.InfoContext(ctx, "ablation scored",
		"url", docs[index].URL,
		"combined", quality.Combined,
		"impact", impact,
	)
	return models.Ablation{
		Index:   index,
		Removed: docs[index].Meta(),
		Answer:  answer,
		Quality: quality,
		Impact:  impact,
	}, nil
}

func (e *Engine) answerAndScore(ctx context.Context, question string, docs []models.Document) (string, models.QualityScore, error) {
	answer, err := e.generator.Generate(ctx, prompt.Build(question, docs))
	if err != nil {
		return "", models.QualityScore{}, err
	}
	quality, err := e.evaluator.Evaluate(ctx, question, answer, texts(docs))
	if err != nil {
		return "", models.QualityScore{}, err
	}
	return answer, quality, nil
}

// forEach calls fn for 0..n-1, sequentially or on a bounded errgroup. The
// first error cancels the remaining calls and is returned.
func (e *Engine) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if e.opts.Concurrency <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// without returns a new slice holding every document except docs[index].
func without(docs []models.Document, index int) []models.Document {
	out := make([]models.Document, 0, len(docs)-1)
	out = append(out, docs[:index]...)
	return append(out, docs[index+1:]...)
}

func texts(docs []models.Document) []string {
	out := make([]string, len(docs))
	for i, doc := range docs {
		out[i] = doc.Text
	}
	return out
}
