package foreman

import (
	"testing"
)

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		model  string
		in     int
		out    int
		want   float64
	}{
		{"claude-sonnet-4-20250514", 1_000_000, 1_000_000, 18.0},
		{"gpt-4o", 1_000_000, 0, 2.5},
		{"gpt-4o-mini", 0, 1_000_000, 0.6},
		{"unknown-model-9000", 1_000_000, 1_000_000, 0},
		{"gemini-2.0-flash", 500_000, 0, 0.05},
	}
	for _, tt := range tests {
		if got := EstimateCost(tt.model, tt.in, tt.out); got != tt.want {
			t.Errorf("EstimateCost(%q, %d, %d) = %v, want %v", tt.model, tt.in, tt.out, got, tt.want)
		}
	}
}

func TestEstimateCostPartialMatch(t *testing.T) {
	// Dated revisions resolve to their base model.
	if got := EstimateCost("gpt-4o-2024-11-20", 1_000_000, 0); got != 2.5 {
		t.Errorf("dated gpt-4o cost = %v, want 2.5", got)
	}
	// The longest name wins: a dated mini must not price as plain gpt-4o.
	if got := EstimateCost("gpt-4o-mini-2024-07-18", 1_000_000, 0); got != 0.15 {
		t.Errorf("dated gpt-4o-mini cost = %v, want 0.15", got)
	}
}

func TestEstimateCostRounding(t *testing.T) {
	// 100 input tokens of gpt-4o: 100/1e6 * 2.50 = 0.00025 exactly.
	if got := EstimateCost("gpt-4o", 100, 0); got != 0.00025 {
		t.Errorf("cost = %v, want 0.00025", got)
	}
	// Tiny costs round to six decimals, not to zero noise.
	if got := EstimateCost("gpt-4o-mini", 1, 1); got < 0 {
		t.Errorf("cost = %v, want non-negative", got)
	}
}

func TestTelemetryEvent(t *testing.T) {
	agent := &Agent{ID: "a1", Name: "Researcher"}
	ev := TelemetryEvent("t1", agent, "gpt-4o", Usage{InputTokens: 10, OutputTokens: 20})

	if ev.Type != EventTelemetry {
		t.Fatalf("type = %q", ev.Type)
	}
	p, ok := ev.Data.(TelemetryPayload)
	if !ok {
		t.Fatalf("data type = %T", ev.Data)
	}
	if p.TaskID != "t1" || p.AgentID != "a1" || p.AgentName != "Researcher" {
		t.Errorf("payload identity = %+v", p)
	}
	if p.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", p.TotalTokens)
	}
	if p.EstimatedCostUSD != EstimateCost("gpt-4o", 10, 20) {
		t.Errorf("cost = %v", p.EstimatedCostUSD)
	}
	if p.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestTelemetryEventNilAgent(t *testing.T) {
	ev := TelemetryEvent("t1", nil, "gpt-4o", Usage{InputTokens: 1})
	p := ev.Data.(TelemetryPayload)
	if p.AgentID != "" || p.AgentName != "" {
		t.Errorf("nil agent payload = %+v", p)
	}
}
