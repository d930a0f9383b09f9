package foreman

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// perOutputCap is the character budget for a single worker output in the
	// supervisor prompt; larger outputs are summarized first.
	perOutputCap = 4000
	// totalOutputCap bounds the concatenated outputs; when exceeded the whole
	// block is summarized again.
	totalOutputCap = 12000
)

// Supervisor assembles the review prompt, invokes the judge model, and parses
// the verdict. Parsing is deterministic: the same response text always yields
// the same ReviewResult.
type Supervisor struct {
	summarizer *Summarizer
	logger     *slog.Logger
}

// NewSupervisor creates a supervisor judge. logger may be nil.
func NewSupervisor(summarizer *Summarizer, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = nopLogger
	}
	if summarizer == nil {
		summarizer = NewSummarizer(logger)
	}
	return &Supervisor{summarizer: summarizer, logger: logger}
}

// Review judges this round's worker outputs. p is the judge model handle —
// the graph passes the first assigned worker's provider so bring-your-own-key
// setups work with a single credential.
func (s *Supervisor) Review(ctx context.Context, p Provider, description string, outputs []WorkerResult, revision, maxRevisions int) ReviewResult {
	formatted := s.formatOutputs(ctx, p, outputs)

	resp, err := p.Chat(ctx, ChatRequest{
		Messages: []ChatMessage{
			SystemMessage(supervisorSystemPrompt),
			UserMessage(SupervisorPrompt(description, formatted, revision, maxRevisions)),
		},
	})
	if err != nil {
		s.logger.Error("supervisor call failed", "provider", p.Name(), "error", err)
		return ReviewResult{
			Decision: DecisionRevise,
			Feedback: fmt.Sprintf("Supervisor call failed (%v); please revise and try again.", err),
		}
	}
	return ParseVerdict(resp.Content.AsText())
}

// formatOutputs renders each worker output under a header, summarizing
// oversized individual outputs and then the oversized whole.
func (s *Supervisor) formatOutputs(ctx context.Context, p Provider, outputs []WorkerResult) string {
	if len(outputs) == 0 {
		return "(no worker outputs)"
	}
	var b strings.Builder
	for _, wr := range outputs {
		text := wr.Output
		if len(text) > perOutputCap {
			text = s.summarizer.Summarize(ctx, p, text, perOutputCap)
		}
		fmt.Fprintf(&b, "\n--- Worker: %s ---\n%s\n", wr.AgentName, text)
	}
	combined := b.String()
	if len(combined) > totalOutputCap {
		combined = s.summarizer.Summarize(ctx, p, combined, totalOutputCap)
	}
	return combined
}

// ParseVerdict extracts a decision from the raw model response. Extraction
// order: fenced ```json block, any fenced block, then the substring between
// the first "{" and last "}". Anything unparseable defaults to revise with a
// diagnostic — approving silently on garbage is the one failure mode this
// loop must never have.
func ParseVerdict(raw string) ReviewResult {
	candidate := extractJSON(raw)
	if candidate == "" {
		return parseFailure("no JSON object found in supervisor response")
	}

	var parsed struct {
		Decision string `json:"decision"`
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return parseFailure("invalid JSON in supervisor response: " + err.Error())
	}
	decision := strings.ToLower(strings.TrimSpace(parsed.Decision))
	if !ValidDecision(decision) {
		return parseFailure(fmt.Sprintf("unknown decision %q in supervisor response", parsed.Decision))
	}
	return ReviewResult{Decision: Decision(decision), Feedback: parsed.Feedback}
}

func parseFailure(reason string) ReviewResult {
	return ReviewResult{
		Decision: DecisionRevise,
		Feedback: "Could not parse supervisor verdict (" + reason + "). Please revise the output and keep it clearly structured.",
	}
}

// extractJSON pulls the most likely JSON object out of a model response.
func extractJSON(raw string) string {
	if s, ok := fencedBlock(raw, "```json"); ok {
		return s
	}
	if s, ok := fencedBlock(raw, "```"); ok {
		return s
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}

// fencedBlock returns the content of the first fence opened by marker.
func fencedBlock(raw, marker string) (string, bool) {
	start := strings.Index(raw, marker)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(marker):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
