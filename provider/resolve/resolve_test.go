package resolve

import (
	"testing"

	foreman "github.com/mkarlsen/foreman"
)

func TestProviderFamilies(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
	}{
		{"anthropic", "anthropic"},
		{"gemini", "gemini"},
		{"google", "gemini"},
		{"openai", "openai"},
		{"groq", "groq"},
		{"ollama", "ollama"},
	}
	for _, tt := range tests {
		p, err := Provider(Config{Provider: tt.provider, APIKey: "k"})
		if err != nil {
			t.Fatalf("Provider(%q): %v", tt.provider, err)
		}
		if p.Name() != tt.wantName {
			t.Errorf("Provider(%q).Name() = %q, want %q", tt.provider, p.Name(), tt.wantName)
		}
	}
}

func TestProviderUnknown(t *testing.T) {
	if _, err := Provider(Config{Provider: "watson"}); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

func TestFactoryPicksRequestKey(t *testing.T) {
	factory := Factory()
	keys := foreman.RequestKeys{OpenAI: "oa", Anthropic: "an", Google: "go"}

	p, err := factory("anthropic", "", keys)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("name = %q", p.Name())
	}
	// groq rides the OpenAI credential.
	if _, err := factory("groq", "llama-3.1-70b", keys); err != nil {
		t.Errorf("factory(groq): %v", err)
	}
}

func TestDefaultModel(t *testing.T) {
	if got := DefaultModel("anthropic"); got == "" {
		t.Error("anthropic default model empty")
	}
	if got := DefaultModel("somewhere-new"); got != "gpt-4o" {
		t.Errorf("fallback model = %q", got)
	}
}
