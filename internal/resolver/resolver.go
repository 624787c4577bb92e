// Package resolver turns URLs into documents, preferring caller overrides,
// then the source cache, then a live content provider.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/ablate/internal/observability"
	"github.com/haasonsaas/ablate/internal/sources"
	"github.com/haasonsaas/ablate/pkg/models"
)

// Cache lookup outcomes reported to metrics.
const (
	lookupOverride = "override"
	lookupHit      = "hit"
	lookupMiss     = "miss"
	lookupSkipped  = "skipped"
)

// Config configures a Resolver.
type Config struct {
	Repository sources.Repository
	Provider   Provider
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// Resolver resolves batches of URLs against overrides, the cache and a provider.
type Resolver struct {
	repo     sources.Repository
	provider Provider
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// New creates a Resolver. A nil Repository disables caching; a nil Provider
// makes every cache miss a skip.
func New(cfg Config) *Resolver {
	if cfg.Repository == nil {
		cfg.Repository = sources.NopRepository{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		repo:     cfg.Repository,
		provider: cfg.Provider,
		logger:   cfg.Logger.With("component", "resolver"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
	}
}

// ResolveAll returns one document per resolvable URL, in input order.
//
// For each URL an override wins over a cached entry, and a cached entry wins
// over a provider call. URLs whose override is malformed or whose provider
// call fails are skipped with a warning. The cache is loaded once and saved
// once, and only when a provider supplied something new. The only error
// returned is context cancellation.
func (r *Resolver) ResolveAll(ctx context.Context, urls []string, overrides Overrides) ([]models.Document, error) {
	cache := r.repo.Load(ctx)
	updated := false
	docs := make([]models.Document, 0, len(urls))

	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if doc, ok, err := overrides.Document(url); ok {
			if err != nil {
				r.skip(ctx, url, "override", err)
				continue
			}
			r.metrics.CacheLookup(lookupOverride)
			docs = append(docs, doc)
			continue
		}

		if entry, ok := cache[url]; ok {
			r.metrics.CacheLookup(lookupHit)
			docs = append(docs, entry.Document(url))
			continue
		}

		r.metrics.CacheLookup(lookupMiss)
		doc, err := r.fetch(ctx, url)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.skip(ctx, url, "provider", err)
			continue
		}
		cache[url] = models.NewCacheEntry(*doc)
		updated = true
		docs = append(docs, *doc)
	}

	if updated {
		r.repo.Save(ctx, cache)
	}
	r.logger.DebugContext(ctx, "resolved documents", "requested", len(urls), "resolved", len(docs))
	return docs, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) (*models.Document, error) {
	if r.provider == nil {
		return nil, errors.New("no content provider configured")
	}
	ctx, span := r.tracer.TraceResolve(ctx, r.provider.Name(), url)
	defer span.End()

	start := time.Now()
	doc, err := r.provider.Resolve(ctx, url)
	if err == nil && doc == nil {
		err = ErrNoResult
	}
	status := "success"
	if err != nil {
		status = "error"
		r.tracer.RecordError(span, err)
	}
	r.metrics.RecordFetch(r.provider.Name(), status, time.Since(start).Seconds())
	return doc, err
}

func (r *Resolver) skip(ctx context.Context, url, stage string, err error) {
	r.metrics.CacheLookup(lookupSkipped)
	r.logger.WarnContext(ctx, "skipping source", "url", url, "stage", stage, "error", err)
}
