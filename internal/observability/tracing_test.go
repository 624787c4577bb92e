package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return NewTracerFromProvider(provider, "ablate-test"), recorder
}

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{name: "without endpoint", config: TraceConfig{ServiceVersion: "1.0.0"}},
		{name: "with endpoint", config: TraceConfig{ServiceName: "ablate", Endpoint: "localhost:4317", EnableInsecure: true}},
		{name: "with sampling", config: TraceConfig{Endpoint: "localhost:4317", SamplingRate: 0.5, EnableInsecure: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()
			if tracer == nil || tracer.tracer == nil {
				t.Fatal("NewTracer() returned an unusable tracer")
			}
		})
	}
}

func TestTracerDomainSpans(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)
	ctx := context.Background()

	ctx, run := tracer.TraceRun(ctx, "run-1", 3)
	_, ablation := tracer.TraceAblation(ctx, 1, "https://b.example")
	ablation.End()
	_, gen := tracer.TraceGeneration(ctx, "openai", "gpt-4o")
	tracer.RecordError(gen, errors.New("boom"))
	gen.End()
	run.End()

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("ended spans = %d, want 3", len(spans))
	}
	if spans[0].Name() != "attribution.ablation" {
		t.Errorf("first span = %q", spans[0].Name())
	}
	if spans[0].Parent().SpanID() != spans[2].SpanContext().SpanID() {
		t.Error("ablation span should be a child of the run span")
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("generation status = %v, want error", spans[1].Status().Code)
	}
	found := false
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "ablation.index" && attr.Value.AsInt64() == 1 {
			found = true
		}
	}
	if !found {
		t.Error("ablation.index attribute missing")
	}
}

func TestTracerSetAttributes(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)
	_, span := tracer.Start(context.Background(), "op", attribute.String("fixed", "yes"))
	tracer.SetAttributes(span, "count", 2, "score", 0.5, 42, "skipped", "tags", []string{"a"})
	span.End()

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range recorder.Ended()[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["fixed"].AsString() != "yes" {
		t.Errorf("fixed = %v", attrs["fixed"])
	}
	if attrs["count"].AsInt64() != 2 || attrs["score"].AsFloat64() != 0.5 {
		t.Errorf("numeric attributes = %v", attrs)
	}
	if _, ok := attrs["42"]; ok {
		t.Error("non-string key should be skipped")
	}
	if len(attrs["tags"].AsStringSlice()) != 1 {
		t.Errorf("tags = %v", attrs["tags"])
	}
}

func TestNilTracerIsNoop(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.TraceEvaluation(context.Background(), 2)
	tracer.RecordError(span, errors.New("ignored"))
	tracer.SetAttributes(span, "k", "v")
	span.End()
	if GetTraceID(ctx) != "" {
		t.Error("nil tracer should not start a trace")
	}
}
