package foreman

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantDecision Decision
		wantFeedback string
	}{
		{
			name:         "bare json",
			raw:          `{"decision": "approve", "feedback": "looks good"}`,
			wantDecision: DecisionApprove,
			wantFeedback: "looks good",
		},
		{
			name:         "json fence",
			raw:          "Here is my verdict:\n```json\n{\"decision\": \"revise\", \"feedback\": \"add tests\"}\n```\nThanks.",
			wantDecision: DecisionRevise,
			wantFeedback: "add tests",
		},
		{
			name:         "plain fence",
			raw:          "```\n{\"decision\": \"reject\", \"feedback\": \"off topic\"}\n```",
			wantDecision: DecisionReject,
			wantFeedback: "off topic",
		},
		{
			name:         "surrounding prose",
			raw:          `I think {"decision": "approve", "feedback": "ship it"} is right.`,
			wantDecision: DecisionApprove,
			wantFeedback: "ship it",
		},
		{
			name:         "uppercase decision normalized",
			raw:          `{"decision": " APPROVE ", "feedback": "fine"}`,
			wantDecision: DecisionApprove,
			wantFeedback: "fine",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVerdict(tt.raw)
			if got.Decision != tt.wantDecision {
				t.Errorf("decision = %q, want %q", got.Decision, tt.wantDecision)
			}
			if got.Feedback != tt.wantFeedback {
				t.Errorf("feedback = %q, want %q", got.Feedback, tt.wantFeedback)
			}
		})
	}
}

func TestParseVerdictFailuresDefaultToRevise(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no json", "I approve of this output."},
		{"broken json", `{"decision": "approve",`},
		{"unknown decision", `{"decision": "maybe", "feedback": "hmm"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVerdict(tt.raw)
			if got.Decision != DecisionRevise {
				t.Errorf("decision = %q, want %q", got.Decision, DecisionRevise)
			}
			if !strings.Contains(got.Feedback, "Could not parse supervisor verdict") {
				t.Errorf("feedback = %q, want parse diagnostic", got.Feedback)
			}
		})
	}
}

func TestSupervisorReview(t *testing.T) {
	p := &fakeProvider{responses: []ChatResponse{
		{Content: TextContent(`{"decision": "approve", "feedback": "complete"}`)},
	}}
	s := NewSupervisor(nil, nil)

	got := s.Review(context.Background(), p, "write a haiku", []WorkerResult{
		{AgentID: "a1", AgentName: "Poet", Output: "an old silent pond"},
	}, 0, 3)

	if got.Decision != DecisionApprove {
		t.Fatalf("decision = %q, want approve", got.Decision)
	}
	req := p.requests[0]
	if len(req.Messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(req.Messages))
	}
	user := req.Messages[1].Content
	if !strings.Contains(user, "write a haiku") {
		t.Errorf("prompt missing task description: %q", user)
	}
	if !strings.Contains(user, "--- Worker: Poet ---") {
		t.Errorf("prompt missing worker header: %q", user)
	}
	if !strings.Contains(user, "Current revision: 0 of 3.") {
		t.Errorf("prompt missing revision counter: %q", user)
	}
}

func TestSupervisorReviewCallFailure(t *testing.T) {
	p := &fakeProvider{errs: []error{errors.New("boom")}}
	s := NewSupervisor(nil, nil)

	got := s.Review(context.Background(), p, "task", nil, 0, 3)
	if got.Decision != DecisionRevise {
		t.Fatalf("decision = %q, want revise on provider failure", got.Decision)
	}
	if !strings.Contains(got.Feedback, "Supervisor call failed") {
		t.Errorf("feedback = %q, want call-failure diagnostic", got.Feedback)
	}
}

func TestFormatOutputsEmpty(t *testing.T) {
	s := NewSupervisor(nil, nil)
	got := s.formatOutputs(context.Background(), &fakeProvider{}, nil)
	if got != "(no worker outputs)" {
		t.Fatalf("formatOutputs(nil) = %q", got)
	}
}

func TestFormatOutputsSummarizesOversized(t *testing.T) {
	// The summarizer model call fails, so the oversized output is
	// hard-truncated instead of summarized.
	p := &fakeProvider{errs: []error{errors.New("unavailable")}}
	s := NewSupervisor(nil, nil)

	big := strings.Repeat("x", perOutputCap+100)
	got := s.formatOutputs(context.Background(), p, []WorkerResult{
		{AgentName: "Bulk", Output: big},
	})
	if !strings.Contains(got, truncationMarker) {
		t.Errorf("oversized output not truncated: len=%d", len(got))
	}
	if !strings.Contains(got, "--- Worker: Bulk ---") {
		t.Errorf("missing worker header in %q", got[:80])
	}
}
