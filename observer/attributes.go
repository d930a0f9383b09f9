package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrTaskID       = attribute.Key("task.id")
	AttrTaskRevision = attribute.Key("task.revision")
	AttrAgentID      = attribute.Key("agent.id")
	AttrAgentName    = attribute.Key("agent.name")
)
