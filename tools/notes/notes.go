// Package notes provides the append_improvement_note tool: agents record
// structured observations about the system into a shared markdown file.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	foreman "github.com/mkarlsen/foreman"
)

const notesFile = "IMPROVEMENTS.md"

// Tool appends improvement notes to WORKSPACE_DIR/IMPROVEMENTS.md.
type Tool struct {
	workspace string
	mu        sync.Mutex
}

// New creates the tool rooted at workspace.
func New(workspace string) *Tool {
	return &Tool{workspace: workspace}
}

func (t *Tool) Definitions() []foreman.ToolDefinition {
	return []foreman.ToolDefinition{{
		Name:        "append_improvement_note",
		Description: "Record an improvement suggestion about the system. Notes accumulate in a shared markdown file for later review.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"title":{"type":"string","description":"Short title for the note"},"note":{"type":"string","description":"The observation or suggestion"}},"required":["title","note"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, call foreman.ToolInvocation) (foreman.ToolResult, error) {
	var params struct {
		Title string `json:"title"`
		Note  string `json:"note"`
	}
	if err := json.Unmarshal(call.Args, &params); err != nil {
		return foreman.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Title == "" || params.Note == "" {
		return foreman.ToolResult{Error: "title and note are required"}, nil
	}

	entry := fmt.Sprintf("## %s\n\n- Agent: %s\n- Task: %s\n- Date: %s\n\n%s\n\n",
		params.Title, call.AgentID, call.TaskID,
		time.Now().UTC().Format(time.RFC3339), params.Note)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.MkdirAll(t.workspace, 0o755); err != nil {
		return foreman.ToolResult{Error: "create workspace: " + err.Error()}, nil
	}
	f, err := os.OpenFile(filepath.Join(t.workspace, notesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return foreman.ToolResult{Error: "open notes file: " + err.Error()}, nil
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return foreman.ToolResult{Error: "append note: " + err.Error()}, nil
	}
	return foreman.ToolResult{Content: "Noted: " + params.Title}, nil
}

var _ foreman.Tool = (*Tool)(nil)
