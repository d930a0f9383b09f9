package foreman

import (
	"math"
	"strings"
)

// modelPricing is USD per 1M tokens.
type modelPricing struct {
	input  float64
	output float64
}

// defaultPricing covers the models the engine dispatches by default. Lookup
// falls back to partial name matching so dated model revisions still price.
var defaultPricing = map[string]modelPricing{
	"claude-sonnet-4-20250514":  {input: 3.00, output: 15.00},
	"claude-haiku-3-5-20241022": {input: 0.80, output: 4.00},
	"gpt-4o":                    {input: 2.50, output: 10.00},
	"gpt-4o-mini":               {input: 0.15, output: 0.60},
	"gemini-2.0-flash":          {input: 0.10, output: 0.40},
	"gemini-1.5-pro":            {input: 1.25, output: 5.00},
}

// EstimateCost returns the estimated USD cost for a call, rounded to six
// decimals. Unknown models cost zero.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := lookupPricing(model)
	if !ok {
		return 0
	}
	cost := float64(inputTokens)/1e6*p.input + float64(outputTokens)/1e6*p.output
	return math.Round(cost*1e6) / 1e6
}

// lookupPricing finds pricing by exact model name, then by substring match in
// either direction (so "gpt-4o-2024-11-20" resolves to "gpt-4o").
func lookupPricing(model string) (modelPricing, bool) {
	if p, ok := defaultPricing[model]; ok {
		return p, true
	}
	// Prefer the longest partial match: "gpt-4o-mini" must win over "gpt-4o".
	var best string
	for name := range defaultPricing {
		if strings.Contains(model, name) || strings.Contains(name, model) {
			if len(name) > len(best) {
				best = name
			}
		}
	}
	if best == "" {
		return modelPricing{}, false
	}
	return defaultPricing[best], true
}

// TelemetryEvent builds the per-call token usage event.
func TelemetryEvent(taskID string, agent *Agent, model string, usage Usage) Event {
	payload := TelemetryPayload{
		TaskID:           taskID,
		Model:            model,
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		TotalTokens:      usage.InputTokens + usage.OutputTokens,
		EstimatedCostUSD: EstimateCost(model, usage.InputTokens, usage.OutputTokens),
		Timestamp:        EventTimestamp(),
	}
	if agent != nil {
		payload.AgentID = agent.ID
		payload.AgentName = agent.Name
	}
	return Event{Type: EventTelemetry, Data: payload}
}
