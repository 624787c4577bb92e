// Package observability provides logging, metrics, and tracing for ablate.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts API keys and bearer
// tokens from messages and string attributes. Run and ablation identifiers
// stored in the context with AddRunID and AddAblation are attached to every
// record logged with a *Context method.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	ctx = observability.AddRunID(ctx, runID)
//	logger.InfoContext(ctx, "generating answer", "documents", len(docs))
//
// # Metrics
//
// NewMetrics registers Prometheus collectors with a caller-supplied
// registerer. All recording methods are safe on a nil *Metrics.
//
// # Tracing
//
// NewTracer exports spans over OTLP/gRPC when an endpoint is configured and
// falls back to the global no-op tracer otherwise.
package observability
