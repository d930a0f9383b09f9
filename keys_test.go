package foreman

import "testing"

func TestKeyFor(t *testing.T) {
	k := RequestKeys{OpenAI: "oa", Anthropic: "an", Google: "go"}
	tests := []struct {
		provider string
		want     string
	}{
		{"openai", "oa"},
		{"groq", "oa"},
		{"deepseek", "oa"},
		{"together", "oa"},
		{"mistral", "oa"},
		{"anthropic", "an"},
		{"gemini", "go"},
		{"google", "go"},
		{"ollama", ""},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := k.KeyFor(tt.provider); got != tt.want {
			t.Errorf("KeyFor(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestMerged(t *testing.T) {
	request := RequestKeys{Anthropic: "user-key"}
	defaults := RequestKeys{OpenAI: "server-oa", Anthropic: "server-an"}

	got := request.Merged(defaults)
	if got.Anthropic != "user-key" {
		t.Errorf("request key overridden: %q", got.Anthropic)
	}
	if got.OpenAI != "server-oa" {
		t.Errorf("server default not filled: %q", got.OpenAI)
	}
	if got.Google != "" {
		t.Errorf("google key = %q, want empty", got.Google)
	}
}

func TestKeysEmpty(t *testing.T) {
	if !(RequestKeys{}).Empty() {
		t.Error("zero value should be empty")
	}
	if (RequestKeys{Google: "x"}).Empty() {
		t.Error("keys with google set should not be empty")
	}
}

func TestWorkerTaskPrompt(t *testing.T) {
	if got := WorkerTaskPrompt("do the thing", 0, ""); got != "do the thing" {
		t.Errorf("round 0 prompt = %q", got)
	}
	// Feedback without a revision round is ignored.
	if got := WorkerTaskPrompt("do the thing", 0, "stale"); got != "do the thing" {
		t.Errorf("round 0 prompt with feedback = %q", got)
	}
	got := WorkerTaskPrompt("do the thing", 1, "add sources")
	want := "do the thing\n\nRevision feedback: add sources"
	if got != want {
		t.Errorf("revision prompt = %q, want %q", got, want)
	}
}
