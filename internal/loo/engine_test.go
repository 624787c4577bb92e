package loo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/ablate/internal/observability"
	"github.com/haasonsaas/ablate/internal/prompt"
	"github.com/haasonsaas/ablate/internal/quality"
	"github.com/haasonsaas/ablate/internal/resolver"
	"github.com/haasonsaas/ablate/pkg/models"
)

type stubResolver struct {
	docs []models.Document
	err  error
}

func (r *stubResolver) ResolveAll(context.Context, []string, resolver.Overrides) ([]models.Document, error) {
	return r.docs, r.err
}

// countingGenerator answers with the number of sources in the prompt and
// records every evidence block it saw.
type countingGenerator struct {
	mu       sync.Mutex
	evidence []string
	failOn   string
}

func (g *countingGenerator) Generate(_ context.Context, p prompt.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evidence = append(g.evidence, p.Evidence)
	if g.failOn != "" && !strings.Contains(p.Evidence, g.failOn) {
		return "", errors.New("generation failed")
	}
	return fmt.Sprintf("answer citing %d sources", strings.Count(p.Evidence, "[S")), nil
}

// tableScorer scores a sample by looking up its joined contexts.
type tableScorer struct {
	table map[string]float64
}

func (s *tableScorer) Score(_ context.Context, sample quality.Sample) (map[string]float64, error) {
	key := strings.Join(sample.Contexts, "|")
	value, ok := s.table[key]
	if !ok {
		return nil, fmt.Errorf("unexpected contexts %q", key)
	}
	return map[string]float64{
		quality.MetricFaithfulness:    value,
		quality.MetricAnswerRelevancy: value,
	}, nil
}

func testDocs() []models.Document {
	return []models.Document{
		{ID: "a", Title: "Alpha", URL: "https://a.example", Text: "a"},
		{ID: "b", Title: "Beta", URL: "https://b.example", Text: "b"},
		{ID: "c", Title: "Gamma", URL: "https://c.example", Text: "c"},
	}
}

func scenarioTable() map[string]float64 {
	return map[string]float64{
		"a|b|c": 0.80,
		"b|c":   0.50,
		"a|c":   0.75,
		"a|b":   0.85,
		"a":     0.60,
		"b":     0.20,
		"c":     0.10,
	}
}

type testEngine struct {
	engine    *Engine
	generator *countingGenerator
	metrics   *observability.Metrics
}

func newTestEngine(t *testing.T, docs []models.Document, table map[string]float64, opts Options) *testEngine {
	t.Helper()
	evaluator, err := quality.NewEvaluator(quality.Config{Scorer: &tableScorer{table: table}})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	generator := &countingGenerator{}
	metrics := observability.NewMetrics(nil)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	engine, err := New(Config{
		Resolver:  &stubResolver{docs: docs},
		Generator: generator,
		Evaluator: evaluator,
		Options:   opts,
		Metrics:   metrics,
		Now:       func() time.Time { return fixed },
		NewID:     func() string { return "run-1" },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEngine{engine: engine, generator: generator, metrics: metrics}
}

func assertImpacts(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("impacts = %v, want %v", got, want)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("impact[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without resolver")
	}
	if _, err := New(Config{Resolver: &stubResolver{}}); err == nil {
		t.Fatal("expected error without generator")
	}
	if _, err := New(Config{Resolver: &stubResolver{}, Generator: &countingGenerator{}}); err == nil {
		t.Fatal("expected error without evaluator")
	}
}

func TestRunScenario(t *testing.T) {
	te := newTestEngine(t, testDocs(), scenarioTable(), Options{})

	report, err := te.engine.Run(context.Background(), "What is x?", []string{"u1", "u2", "u3"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if math.Abs(report.FullQuality.Combined-0.80) > 1e-9 {
		t.Errorf("full quality = %v, want 0.80", report.FullQuality.Combined)
	}
	assertImpacts(t, report.PerSourceImpact, []float64{0.30, 0.05, -0.05})

	if report.RunID != "run-1" || report.Question != "What is x?" {
		t.Errorf("run metadata = %q %q", report.RunID, report.Question)
	}
	if report.FullAnswer != "answer citing 3 sources" {
		t.Errorf("full answer = %q", report.FullAnswer)
	}
	if report.SoloQuality != nil {
		t.Errorf("solo quality should be omitted, got %v", report.SoloQuality)
	}
	if got := testutil.ToFloat64(te.metrics.Runs.WithLabelValues("success")); got != 1 {
		t.Errorf("successful runs = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(te.metrics.SourceImpact); got != 1 {
		t.Errorf("impact histogram series = %d, want 1", got)
	}
}

func TestRunIndexAlignment(t *testing.T) {
	docs := testDocs()
	te := newTestEngine(t, docs, scenarioTable(), Options{})

	report, err := te.engine.Run(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.SourcesMeta) != len(docs) || len(report.PerSourceImpact) != len(docs) || len(report.Ablations) != len(docs) {
		t.Fatalf("misaligned lengths: meta=%d impacts=%d ablations=%d",
			len(report.SourcesMeta), len(report.PerSourceImpact), len(report.Ablations))
	}
	for i, doc := range docs {
		if report.SourcesMeta[i] != doc.Meta() {
			t.Errorf("meta[%d] = %+v, want %+v", i, report.SourcesMeta[i], doc.Meta())
		}
		ablation := report.Ablations[i]
		if ablation.Index != i || ablation.Removed != doc.Meta() {
			t.Errorf("ablation[%d] = %+v", i, ablation)
		}
		if ablation.Impact != report.PerSourceImpact[i] {
			t.Errorf("ablation[%d] impact %v != %v", i, ablation.Impact, report.PerSourceImpact[i])
		}
		if ablation.Answer != "answer citing 2 sources" {
			t.Errorf("ablation[%d] answer = %q", i, ablation.Answer)
		}
	}
}

func TestRunSubsetsDoNotAlias(t *testing.T) {
	docs := testDocs()
	original := append([]models.Document(nil), docs...)
	te := newTestEngine(t, docs, scenarioTable(), Options{})

	if _, err := te.engine.Run(context.Background(), "q", nil, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(docs, original) {
		t.Fatalf("documents mutated: %+v", docs)
	}
	// Evidence for ablation i never mentions the removed document and always
	// numbers the remaining ones from 1.
	for i, evidence := range te.generator.evidence[1:] {
		if strings.Contains(evidence, docs[i].URL) {
			t.Errorf("ablation %d evidence still contains %s", i, docs[i].URL)
		}
		if !strings.Contains(evidence, "[S1]") || !strings.Contains(evidence, "[S2]") || strings.Contains(evidence, "[S3]") {
			t.Errorf("ablation %d evidence markers wrong:\n%s", i, evidence)
		}
	}
}

func TestRunSingleDocument(t *testing.T) {
	docs := testDocs()[:1]
	te := newTestEngine(t, docs, map[string]float64{"a": 0.7}, Options{})

	report, err := te.engine.Run(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// With no contexts left the ablated answer is floored to zero, so the
	// single document carries the entire full-context quality.
	assertImpacts(t, report.PerSourceImpact, []float64{0.7})
	if report.Ablations[0].Quality.Combined != 0 {
		t.Errorf("empty-context quality = %v, want 0", report.Ablations[0].Quality.Combined)
	}
}

func TestRunNoDocuments(t *testing.T) {
	te := newTestEngine(t, nil, scenarioTable(), Options{})

	report, err := te.engine.Run(context.Background(), "q", []string{"https://gone.example"}, nil)
	if !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("error = %v, want ErrNoDocuments", err)
	}
	if report != nil {
		t.Errorf("report = %+v, want nil", report)
	}
	if len(te.generator.evidence) != 0 {
		t.Errorf("generator called %d times, want 0", len(te.generator.evidence))
	}
	if got := testutil.ToFloat64(te.metrics.Runs.WithLabelValues("error")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
}

func TestRunResolverError(t *testing.T) {
	evaluator, err := quality.NewEvaluator(quality.Config{Scorer: &tableScorer{}})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	engine, err := New(Config{
		Resolver:  &stubResolver{err: context.Canceled},
		Generator: &countingGenerator{},
		Evaluator: evaluator,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := engine.Run(context.Background(), "q", nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestRunDeterministic(t *testing.T) {
	first, err := newTestEngine(t, testDocs(), scenarioTable(), Options{}).engine.Run(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := newTestEngine(t, testDocs(), scenarioTable(), Options{}).engine.Run(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reports differ:\n%+v\n%+v", first, second)
	}
}

func TestRunConcurrentMatchesSequential(t *testing.T) {
	sequential, err := newTestEngine(t, testDocs(), scenarioTable(), Options{Solo: true}).engine.Run(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("sequential Run: %v", err)
	}
	concurrent, err := newTestEngine(t, testDocs(), scenarioTable(), Options{Concurrency: 3, Solo: true}).engine.Run(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("concurrent Run: %v", err)
	}
	if !reflect.DeepEqual(sequential, concurrent) {
		t.Errorf("concurrent report differs:\n%+v\n%+v", sequential, concurrent)
	}
}

func TestRunAblationFailureFailsRun(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			te := newTestEngine(t, testDocs(), scenarioTable(), Options{Concurrency: concurrency})
			// Every prompt without Alpha fails, so only the first ablation errors.
			te.generator.failOn = "https://a.example"

			report, err := te.engine.Run(context.Background(), "q", nil, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if report != nil {
				t.Errorf("partial report returned: %+v", report)
			}
			if !strings.Contains(err.Error(), "ablation 0") {
				t.Errorf("error = %v, want ablation 0 failure", err)
			}
		})
	}
}

func TestRunSolo(t *testing.T) {
	te := newTestEngine(t, testDocs(), scenarioTable(), Options{Solo: true})

	report, err := te.engine.Run(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []float64{0.60, 0.20, 0.10}
	if len(report.SoloQuality) != len(want) {
		t.Fatalf("solo quality = %+v", report.SoloQuality)
	}
	for i, w := range want {
		if math.Abs(report.SoloQuality[i].Combined-w) > 1e-9 {
			t.Errorf("solo[%d] = %v, want %v", i, report.SoloQuality[i].Combined, w)
		}
	}
}
