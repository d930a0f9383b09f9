// Package resolve maps provider-agnostic configuration onto concrete chat
// providers, so the rest of the system never imports a provider package
// directly.
package resolve

import (
	"fmt"
	"strings"

	foreman "github.com/mkarlsen/foreman"
	"github.com/mkarlsen/foreman/provider/anthropic"
	"github.com/mkarlsen/foreman/provider/gemini"
	"github.com/mkarlsen/foreman/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string // "anthropic", "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // auto-filled for known providers
}

// Provider creates a foreman.Provider from a provider-agnostic Config. An
// empty model falls back to the provider's default.
func Provider(cfg Config) (foreman.Provider, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel(cfg.Provider)
	}
	switch cfg.Provider {
	case "anthropic":
		var opts []anthropic.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(cfg.APIKey, model, opts...), nil
	case "gemini", "google":
		var opts []gemini.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(cfg.APIKey, model, opts...), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		return openaicompat.New(cfg.APIKey, model, baseURL, openaicompat.WithName(cfg.Provider)), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

// FactoryOption configures Factory.
type FactoryOption func(*factoryConfig)

type factoryConfig struct {
	ollamaBaseURL string
}

// WithOllamaBaseURL points the ollama family at a non-default daemon address
// (e.g. "http://ollama:11434"). The /v1 suffix is added here.
func WithOllamaBaseURL(url string) FactoryOption {
	return func(c *factoryConfig) { c.ollamaBaseURL = url }
}

// Factory adapts Provider into the engine's factory shape, pulling the
// credential for the provider family out of the request keys.
func Factory(opts ...FactoryOption) foreman.ProviderFactory {
	var fc factoryConfig
	for _, opt := range opts {
		opt(&fc)
	}
	return func(provider, model string, keys foreman.RequestKeys) (foreman.Provider, error) {
		cfg := Config{
			Provider: provider,
			APIKey:   keys.KeyFor(provider),
			Model:    model,
		}
		if provider == "ollama" && fc.ollamaBaseURL != "" {
			cfg.BaseURL = strings.TrimSuffix(fc.ollamaBaseURL, "/") + "/v1"
		}
		return Provider(cfg)
	}
}

// DefaultModel returns the default model for a provider family.
func DefaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-20250514"
	case "gemini", "google":
		return "gemini-2.0-flash"
	case "ollama":
		return "llama3"
	default:
		return "gpt-4o"
	}
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
