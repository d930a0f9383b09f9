package foreman

// RequestKeys carries per-request provider credentials (BYOK). The value is
// captured once at API entry and passed explicitly into every background
// runner and fan-out child; there is no ambient task-local storage.
type RequestKeys struct {
	OpenAI    string
	Anthropic string
	Google    string
}

// KeyFor maps a provider family name to the matching credential.
// Gemini keys travel under the Google header; ollama needs none.
func (k RequestKeys) KeyFor(provider string) string {
	switch provider {
	case "openai", "groq", "deepseek", "together", "mistral":
		return k.OpenAI
	case "anthropic":
		return k.Anthropic
	case "gemini", "google":
		return k.Google
	}
	return ""
}

// Merged overlays k on top of defaults: request keys win where present,
// server defaults fill the gaps.
func (k RequestKeys) Merged(defaults RequestKeys) RequestKeys {
	out := k
	if out.OpenAI == "" {
		out.OpenAI = defaults.OpenAI
	}
	if out.Anthropic == "" {
		out.Anthropic = defaults.Anthropic
	}
	if out.Google == "" {
		out.Google = defaults.Google
	}
	return out
}

// Empty reports whether no credential is set.
func (k RequestKeys) Empty() bool {
	return k.OpenAI == "" && k.Anthropic == "" && k.Google == ""
}
