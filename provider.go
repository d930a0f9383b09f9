package foreman

import "context"

// Provider abstracts the LLM backend. Implementations live under provider/;
// tests use scripted stubs.
type Provider interface {
	// Chat sends a request and returns a complete response. When req.Tools is
	// non-empty the response may contain tool calls instead of text.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider family name (e.g. "anthropic", "openai").
	Name() string
}

// ProviderFactory builds a Provider for a named provider family and model,
// using the given request credentials. An empty provider or model falls back
// to the server defaults. Factories are called once per LLM invocation so
// BYOK headers take effect without restarting anything.
type ProviderFactory func(provider, model string, keys RequestKeys) (Provider, error)
