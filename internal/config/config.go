// Package config loads ablate configuration from YAML or JSON5 files and the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the main configuration structure for ablate.
type Config struct {
	Version    int              `yaml:"version"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Cache      CacheConfig      `yaml:"cache"`
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Quality    QualityConfig    `yaml:"quality"`
	LOO        LOOConfig        `yaml:"loo"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ResolverConfig selects and configures the content provider.
type ResolverConfig struct {
	// Provider is "exa" or "readability".
	Provider    string            `yaml:"provider"`
	Exa         ExaConfig         `yaml:"exa"`
	Readability ReadabilityConfig `yaml:"readability"`

	// Overrides is an optional JSON/JSON5 file of per-URL documents.
	Overrides string `yaml:"overrides"`
}

type ExaConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type ReadabilityConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// CacheConfig configures the source repository.
type CacheConfig struct {
	// Backend is "file", "sqlite" or "none".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// GenerationConfig tunes the answer generator.
type GenerationConfig struct {
	// Provider names an entry of llm.providers; empty uses llm.default_provider.
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`

	// RequestsPerMinute, when positive, throttles every completion request
	// issued by the run, including judge calls.
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// QualityConfig tunes the LLM judge.
type QualityConfig struct {
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	MaxTokens    int      `yaml:"max_tokens"`
	Metrics      []string `yaml:"metrics"`
	EmptyContext string   `yaml:"empty_context"` // floor | fail
}

type LOOConfig struct {
	Concurrency int  `yaml:"concurrency"`
	Solo        bool `yaml:"solo"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls how Prometheus metrics leave the process.
type MetricsConfig struct {
	// Addr serves /metrics while a run is in progress, e.g. ":9090".
	Addr string `yaml:"addr"`
	// Textfile receives the final metric values in text exposition format.
	Textfile string `yaml:"textfile"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// Provider names.
const (
	ProviderExa         = "exa"
	ProviderReadability = "readability"
	ProviderOpenAI      = "openai"
	ProviderAnthropic   = "anthropic"
	ProviderGoogle      = "google"
)

// Credential environment variables.
const (
	EnvExaAPIKey       = "EXA_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_API_KEY"
)

// Load reads and parses the configuration file at path. An empty path
// yields the defaults. Environment variables referenced as ${VAR} are
// expanded, and missing API keys fall back to their standard variables.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Resolver.Provider == "" {
		cfg.Resolver.Provider = ProviderExa
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "file"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = ProviderOpenAI
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = cfg.LLM.DefaultProvider
	}
	if cfg.Generation.MaxAttempts == 0 {
		cfg.Generation.MaxAttempts = 3
	}
	if cfg.Generation.BaseDelay == 0 {
		cfg.Generation.BaseDelay = 10 * time.Second
	}
	if cfg.Generation.RequestsPerMinute > 0 && cfg.Generation.Burst == 0 {
		cfg.Generation.Burst = 1
	}
	if cfg.Quality.Provider == "" {
		cfg.Quality.Provider = cfg.Generation.Provider
	}
	if cfg.Quality.EmptyContext == "" {
		cfg.Quality.EmptyContext = "floor"
	}
	if cfg.LOO.Concurrency == 0 {
		cfg.LOO.Concurrency = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "ablate"
	}
}

func applyEnv(cfg *Config) {
	if cfg.Resolver.Exa.APIKey == "" {
		cfg.Resolver.Exa.APIKey = os.Getenv(EnvExaAPIKey)
	}
	for name, env := range map[string]string{
		ProviderOpenAI:    EnvOpenAIAPIKey,
		ProviderAnthropic: EnvAnthropicAPIKey,
		ProviderGoogle:    EnvGoogleAPIKey,
	} {
		provider := cfg.LLM.Providers[name]
		if provider.APIKey == "" {
			provider.APIKey = os.Getenv(env)
		}
		cfg.LLM.Providers[name] = provider
	}
}

func validate(cfg *Config) error {
	if err := ValidateVersion(cfg.Version); err != nil {
		return err
	}
	var problems []string
	switch cfg.Resolver.Provider {
	case ProviderExa, ProviderReadability:
	default:
		problems = append(problems, fmt.Sprintf("resolver.provider %q must be exa or readability", cfg.Resolver.Provider))
	}
	switch cfg.Cache.Backend {
	case "file", "sqlite", "none":
	default:
		problems = append(problems, fmt.Sprintf("cache.backend %q must be file, sqlite or none", cfg.Cache.Backend))
	}
	for _, field := range []struct{ name, value string }{
		{"generation.provider", cfg.Generation.Provider},
		{"quality.provider", cfg.Quality.Provider},
	} {
		switch field.value {
		case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
		default:
			problems = append(problems, fmt.Sprintf("%s %q must be openai, anthropic or google", field.name, field.value))
		}
	}
	switch strings.ToLower(cfg.Quality.EmptyContext) {
	case "floor", "fail":
	default:
		problems = append(problems, fmt.Sprintf("quality.empty_context %q must be floor or fail", cfg.Quality.EmptyContext))
	}
	if cfg.LOO.Concurrency < 1 {
		problems = append(problems, "loo.concurrency must be at least 1")
	}
	if cfg.Generation.MaxAttempts < 1 {
		problems = append(problems, "generation.max_attempts must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
