package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/haasonsaas/ablate/internal/agent"
	"github.com/haasonsaas/ablate/internal/agent/providers"
	"github.com/haasonsaas/ablate/internal/config"
	"github.com/haasonsaas/ablate/internal/generate"
	"github.com/haasonsaas/ablate/internal/loo"
	"github.com/haasonsaas/ablate/internal/observability"
	"github.com/haasonsaas/ablate/internal/quality"
	"github.com/haasonsaas/ablate/internal/report"
	"github.com/haasonsaas/ablate/internal/resolver"
	"github.com/haasonsaas/ablate/internal/sources"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}))
	return cfg, nil
}

func runAttribution(cmd *cobra.Command, opts runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.concurrency > 0 {
		cfg.LOO.Concurrency = opts.concurrency
	}
	if opts.solo {
		cfg.LOO.Solo = true
	}
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unsupported format %q (want text or json)", opts.format)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	urls, err := collectURLs(opts.urls, opts.urlsFile)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return errors.New("at least one --url or --urls-file entry is required")
	}

	overridesPath := opts.overrides
	if overridesPath == "" {
		overridesPath = cfg.Resolver.Overrides
	}
	var overrides resolver.Overrides
	if overridesPath != "" {
		overrides, err = resolver.LoadOverrides(overridesPath)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	stopMetrics := serveMetrics(cfg.Metrics.Addr, registry)
	defer stopMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Attributes:     cfg.Tracing.Attributes,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	engine, closeEngine, err := buildEngine(cfg, metrics, tracer)
	if err != nil {
		return err
	}
	defer closeEngine()

	result, err := engine.Run(ctx, opts.question, urls, overrides)
	if textfile := cfg.Metrics.Textfile; textfile != "" {
		if werr := prometheus.WriteToTextfile(textfile, registry); werr != nil {
			slog.Warn("could not write metrics textfile", "path", textfile, "error", werr)
		}
	}
	if err != nil {
		return err
	}

	if opts.output != "" {
		if err := report.WriteFile(opts.output, result); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()
	if opts.format == "json" {
		return report.WriteJSON(out, result)
	}
	if err := report.WriteText(out, result); err != nil {
		return err
	}
	if opts.output != "" {
		fmt.Fprintf(out, "\nReport written to %s\n", opts.output)
	}
	return nil
}

// buildEngine wires the resolver, generator and evaluator described by cfg.
func buildEngine(cfg *config.Config, metrics *observability.Metrics, tracer *observability.Tracer) (*loo.Engine, func() error, error) {
	logger := slog.Default()

	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*loo.Engine, func() error, error) {
		_ = closeRepo()
		return nil, nil, err
	}

	contentProvider, err := buildContentProvider(cfg)
	if err != nil {
		return fail(err)
	}

	var limiter *rate.Limiter
	if rpm := cfg.Generation.RequestsPerMinute; rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(rpm/60), cfg.Generation.Burst)
	}

	genProvider, err := buildLLMProvider(cfg, cfg.Generation.Provider)
	if err != nil {
		return fail(err)
	}
	generator, err := generate.New(generate.Config{
		Provider:    genProvider,
		Model:       cfg.Generation.Model,
		MaxTokens:   cfg.Generation.MaxTokens,
		MaxAttempts: cfg.Generation.MaxAttempts,
		BaseDelay:   cfg.Generation.BaseDelay,
		Limiter:     limiter,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
	})
	if err != nil {
		return fail(err)
	}

	judgeProvider := genProvider
	if cfg.Quality.Provider != cfg.Generation.Provider {
		judgeProvider, err = buildLLMProvider(cfg, cfg.Quality.Provider)
		if err != nil {
			return fail(err)
		}
	}
	judge, err := quality.NewLLMJudge(quality.JudgeConfig{
		Provider:  judgeProvider,
		Model:     cfg.Quality.Model,
		Metrics:   cfg.Quality.Metrics,
		MaxTokens: cfg.Quality.MaxTokens,
		Limiter:   limiter,
	})
	if err != nil {
		return fail(err)
	}
	emptyContext, err := quality.ParseEmptyContextPolicy(cfg.Quality.EmptyContext)
	if err != nil {
		return fail(err)
	}
	evaluator, err := quality.NewEvaluator(quality.Config{
		Scorer:       judge,
		Metrics:      cfg.Quality.Metrics,
		EmptyContext: emptyContext,
		Logger:       logger,
		Observer:     metrics,
		Tracer:       tracer,
	})
	if err != nil {
		return fail(err)
	}

	engine, err := loo.New(loo.Config{
		Resolver: resolver.New(resolver.Config{
			Repository: repo,
			Provider:   contentProvider,
			Logger:     logger,
			Metrics:    metrics,
			Tracer:     tracer,
		}),
		Generator: generator,
		Evaluator: evaluator,
		Options:   loo.Options{Concurrency: cfg.LOO.Concurrency, Solo: cfg.LOO.Solo},
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	if err != nil {
		return fail(err)
	}
	return engine, closeRepo, nil
}

func buildContentProvider(cfg *config.Config) (resolver.Provider, error) {
	switch cfg.Resolver.Provider {
	case config.ProviderReadability:
		return resolver.NewReadabilityProvider(resolver.ReadabilityConfig{
			Timeout:   cfg.Resolver.Readability.Timeout,
			UserAgent: cfg.Resolver.Readability.UserAgent,
		}), nil
	default:
		return resolver.NewExaProvider(resolver.ExaConfig{
			APIKey:      cfg.Resolver.Exa.APIKey,
			BaseURL:     cfg.Resolver.Exa.BaseURL,
			Timeout:     cfg.Resolver.Exa.Timeout,
			MaxAttempts: cfg.Resolver.Exa.MaxAttempts,
		})
	}
}

func buildLLMProvider(cfg *config.Config, name string) (agent.LLMProvider, error) {
	providerCfg := cfg.ProviderConfig(name)
	switch name {
	case config.ProviderAnthropic:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
	case config.ProviderGoogle:
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
	case config.ProviderOpenAI:
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", name)
	}
}

// serveMetrics exposes registry on addr until the returned function is called.
// An empty addr serves nothing.
func serveMetrics(addr string, registry *prometheus.Registry) func() {
	if strings.TrimSpace(addr) == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// collectURLs merges --url values with the lines of --urls-file. Blank lines
// and lines starting with # are ignored.
func collectURLs(flagURLs []string, path string) ([]string, error) {
	urls := make([]string, 0, len(flagURLs))
	for _, u := range flagURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if path == "" {
		return urls, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open urls file: %w", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls file: %w", err)
	}
	return urls, nil
}

func openRepository(cfg *config.Config) (sources.Repository, func() error, error) {
	return sources.Open(sources.Config{
		Backend: cfg.Cache.Backend,
		Path:    cfg.Cache.Path,
		Logger:  slog.Default(),
	})
}

func runCacheList(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	entries := repo.Load(cmd.Context())
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No cached sources.")
		return nil
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tTITLE\tCHARS")
	for _, key := range keys {
		doc := entries[key].Document(key)
		fmt.Fprintf(w, "%s\t%s\t%d\n", key, doc.Title, len([]rune(doc.Text)))
	}
	return w.Flush()
}

func runCacheShow(cmd *cobra.Command, url string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	entry, ok := repo.Load(cmd.Context())[url]
	if !ok {
		return fmt.Errorf("%s is not cached", url)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(entry.Document(url))
}

func runCachePurge(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	count := len(repo.Load(cmd.Context()))
	repo.Save(cmd.Context(), sources.Entries{})
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d cached sources.\n", count)
	return nil
}
