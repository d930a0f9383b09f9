package notes

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	foreman "github.com/mkarlsen/foreman"
)

func TestAppendNotes(t *testing.T) {
	// The workspace directory may not exist yet; the tool creates it.
	ws := filepath.Join(t.TempDir(), "workspace")
	tool := New(ws)
	ctx := context.Background()

	res, err := tool.Execute(ctx, foreman.ToolInvocation{
		TaskID:  "t1",
		AgentID: "a1",
		Name:    "append_improvement_note",
		Args:    json.RawMessage(`{"title":"Slow searches","note":"Index the tasks table by parent_task_id."}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "Noted: Slow searches" {
		t.Errorf("result = %q", res.Content)
	}

	_, err = tool.Execute(ctx, foreman.ToolInvocation{
		TaskID:  "t2",
		AgentID: "a2",
		Name:    "append_improvement_note",
		Args:    json.RawMessage(`{"title":"Flaky fetches","note":"Retry http_fetch on timeouts."}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(ws, notesFile))
	if err != nil {
		t.Fatalf("read notes: %v", err)
	}
	body := string(data)
	for _, want := range []string{
		"## Slow searches",
		"## Flaky fetches",
		"- Agent: a1",
		"- Task: t2",
		"Index the tasks table",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("notes file missing %q", want)
		}
	}
	// Second note appended after the first.
	if strings.Index(body, "Slow searches") > strings.Index(body, "Flaky fetches") {
		t.Error("notes out of order")
	}
}

func TestAppendNoteValidation(t *testing.T) {
	tool := New(t.TempDir())
	res, err := tool.Execute(context.Background(), foreman.ToolInvocation{
		Name: "append_improvement_note",
		Args: json.RawMessage(`{"title":"no body"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == "" {
		t.Error("missing note accepted")
	}
}
