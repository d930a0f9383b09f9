// Package tasks provides the create_task tool: workers spawn follow-up tasks
// through the task service, which enforces the lineage envelope (depth,
// per-parent, and global auto-task caps).
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	foreman "github.com/mkarlsen/foreman"
)

// Tool lets worker agents spawn follow-up tasks.
type Tool struct {
	tasks *foreman.TaskService
	keys  func() foreman.RequestKeys
}

// New creates the tool. keys supplies fallback credentials for invocations
// that carry none of their own; pass nil for no fallback. The invocation's
// keys win where both are set, so children run with the same credentials as
// the worker that spawned them.
func New(tasks *foreman.TaskService, keys func() foreman.RequestKeys) *Tool {
	if keys == nil {
		keys = func() foreman.RequestKeys { return foreman.RequestKeys{} }
	}
	return &Tool{tasks: tasks, keys: keys}
}

func (t *Tool) Definitions() []foreman.ToolDefinition {
	return []foreman.ToolDefinition{{
		Name:        "create_task",
		Description: "Create a follow-up task to be executed by the agent team. Use when the current task reveals additional work that deserves its own run. Depth and count limits apply; a denied request is not an error, just report it.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"description":{"type":"string","description":"What the new task should accomplish"},"assigned_agents":{"type":"array","items":{"type":"string"},"description":"Agent IDs to assign (empty = all workers)"}},"required":["description"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, call foreman.ToolInvocation) (foreman.ToolResult, error) {
	var params struct {
		Description    string   `json:"description"`
		AssignedAgents []string `json:"assigned_agents"`
	}
	if err := json.Unmarshal(call.Args, &params); err != nil {
		return foreman.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Description == "" {
		return foreman.ToolResult{Error: "description is required"}, nil
	}

	task, err := t.tasks.Create(ctx, foreman.TaskCreate{
		Description:    params.Description,
		AssignedAgents: params.AssignedAgents,
		ParentTaskID:   call.TaskID,
		SpawnedByAgent: call.AgentID,
	}, call.Keys.Merged(t.keys()))
	if err != nil {
		// Lineage denials go back to the model as content so it can adjust
		// instead of retrying blindly.
		return foreman.ToolResult{Content: fmt.Sprintf("Cannot create task: %v", err)}, nil
	}
	return foreman.ToolResult{Content: fmt.Sprintf("Created follow-up task %s (depth=%d)", task.ID, task.Depth)}, nil
}

var _ foreman.Tool = (*Tool)(nil)
