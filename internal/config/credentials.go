package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingCredential is returned by Validate when a required API key is unset.
var ErrMissingCredential = errors.New("missing credential")

// Validate checks that every service the configured run will call has a
// credential. It makes no network calls.
func (c *Config) Validate() error {
	var missing []string
	if c.Resolver.Provider == ProviderExa && strings.TrimSpace(c.Resolver.Exa.APIKey) == "" {
		missing = append(missing, fmt.Sprintf("resolver.exa.api_key (or %s)", EnvExaAPIKey))
	}
	seen := map[string]bool{}
	for _, name := range []string{c.Generation.Provider, c.Quality.Provider} {
		if seen[name] {
			continue
		}
		seen[name] = true
		if strings.TrimSpace(c.LLM.Providers[name].APIKey) == "" {
			missing = append(missing, fmt.Sprintf("llm.providers.%s.api_key (or %s)", name, envFor(name)))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}

// ProviderConfig returns the llm.providers entry for name.
func (c *Config) ProviderConfig(name string) LLMProviderConfig {
	return c.LLM.Providers[name]
}

func envFor(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return EnvAnthropicAPIKey
	case ProviderGoogle:
		return EnvGoogleAPIKey
	default:
		return EnvOpenAIAPIKey
	}
}
