package memory

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	foreman "github.com/mkarlsen/foreman"
)

func TestInProcessStoreSearch(t *testing.T) {
	ctx := context.Background()
	store := NewInProcessStore()
	store.Store(ctx, "a1", "The deploy script lives in scripts/deploy.sh")
	store.Store(ctx, "a1", "Postgres schema migrations run on startup")
	store.Store(ctx, "a1", "Deploy requires the STAGING env var")
	store.Store(ctx, "other", "Deploy notes for a different agent")

	// Every query word must appear, case-insensitively.
	got, err := store.Search(ctx, "a1", "DEPLOY staging", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !strings.Contains(got[0].Content, "STAGING") {
		t.Fatalf("results = %+v", got)
	}

	// Newest first.
	got, _ = store.Search(ctx, "a1", "deploy", 10)
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if !strings.Contains(got[0].Content, "STAGING") {
		t.Errorf("first result = %q, want newest", got[0].Content)
	}

	// Limit caps results.
	got, _ = store.Search(ctx, "a1", "deploy", 1)
	if len(got) != 1 {
		t.Errorf("limited results = %d", len(got))
	}

	// Other agents' memories are invisible.
	got, _ = store.Search(ctx, "a1", "different", 10)
	if len(got) != 0 {
		t.Errorf("cross-agent leak: %+v", got)
	}
}

func TestToolStoreAndSearch(t *testing.T) {
	tool := New(nil) // nil store falls back to in-process
	ctx := context.Background()

	res, err := tool.Execute(ctx, foreman.ToolInvocation{
		AgentID: "a1",
		Name:    "memory_store",
		Args:    json.RawMessage(`{"content":"prefer tabs over spaces"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Content, "Stored memory ") {
		t.Errorf("store result = %q", res.Content)
	}

	res, err = tool.Execute(ctx, foreman.ToolInvocation{
		AgentID: "a1",
		Name:    "memory_search",
		Args:    json.RawMessage(`{"query":"tabs"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "1. prefer tabs over spaces" {
		t.Errorf("search result = %q", res.Content)
	}
}

func TestToolSearchNoMatches(t *testing.T) {
	tool := New(NewInProcessStore())
	res, err := tool.Execute(context.Background(), foreman.ToolInvocation{
		AgentID: "a1",
		Name:    "memory_search",
		Args:    json.RawMessage(`{"query":"anything"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "No matching memories." {
		t.Errorf("result = %q", res.Content)
	}
}

func TestToolStoreRequiresContent(t *testing.T) {
	tool := New(NewInProcessStore())
	res, err := tool.Execute(context.Background(), foreman.ToolInvocation{
		AgentID: "a1",
		Name:    "memory_store",
		Args:    json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == "" {
		t.Error("empty content accepted")
	}
}
