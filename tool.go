package foreman

import (
	"context"
	"encoding/json"
)

// ToolInvocation is one tool call made by a worker agent. TaskID and AgentID
// identify the caller so tools can attribute writes (spawned tasks, memory
// entries) without ambient state. Keys carries the run's merged credentials
// so work a tool spawns inherits them.
type ToolInvocation struct {
	TaskID  string
	AgentID string
	Name    string
	Args    json.RawMessage
	Keys    RequestKeys
}

// ToolResult is the outcome of a tool execution. Errors are data, not Go
// errors: a failed tool call is reported back to the model as text.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Text returns the result as a single string for the tool-result message.
func (r ToolResult) Text() string {
	if r.Error != "" {
		return "Error: " + r.Error
	}
	return r.Content
}

// Tool defines an agent capability with one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, call ToolInvocation) (ToolResult, error)
}

// ToolRegistry holds all registered tools and dispatches execution by name.
type ToolRegistry struct {
	tools []Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{}
}

// Add registers a tool.
func (r *ToolRegistry) Add(t Tool) {
	r.tools = append(r.tools, t)
}

// Len returns the number of registered tool functions.
func (r *ToolRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.AllDefinitions())
}

// AllDefinitions returns tool definitions from all registered tools.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	if r == nil {
		return nil
	}
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Execute dispatches a tool call by name. Unknown names come back as a
// ToolResult error so the model can recover.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolInvocation) (ToolResult, error) {
	if r != nil {
		for _, t := range r.tools {
			for _, d := range t.Definitions() {
				if d.Name == call.Name {
					return t.Execute(ctx, call)
				}
			}
		}
	}
	return ToolResult{Error: "unknown tool: " + call.Name}, nil
}
