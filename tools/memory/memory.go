// Package memory provides the memory_store and memory_search tools: per-agent
// notes that persist across tasks. Backed by any foreman.MemoryStore; when no
// database is configured an in-process fallback keeps the tools available for
// the life of the process.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	foreman "github.com/mkarlsen/foreman"
)

// Tool exposes an agent memory store as tool functions.
type Tool struct {
	store foreman.MemoryStore
}

// New creates the tool. A nil store falls back to in-process memory.
func New(store foreman.MemoryStore) *Tool {
	if store == nil {
		store = NewInProcessStore()
	}
	return &Tool{store: store}
}

func (t *Tool) Definitions() []foreman.ToolDefinition {
	return []foreman.ToolDefinition{
		{
			Name:        "memory_store",
			Description: "Store a note in your persistent memory. Use for facts, decisions, or context worth remembering across tasks.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"content":{"type":"string","description":"The note to remember"}},"required":["content"]}`),
		},
		{
			Name:        "memory_search",
			Description: "Search your persistent memory by keywords. Returns matching notes, newest first.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Keywords to search for"},"limit":{"type":"integer","description":"Max results (default 10)"}},"required":["query"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, call foreman.ToolInvocation) (foreman.ToolResult, error) {
	var params struct {
		Content string `json:"content"`
		Query   string `json:"query"`
		Limit   int    `json:"limit"`
	}
	if err := json.Unmarshal(call.Args, &params); err != nil {
		return foreman.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	switch call.Name {
	case "memory_store":
		if params.Content == "" {
			return foreman.ToolResult{Error: "content is required"}, nil
		}
		entry, err := t.store.Store(ctx, call.AgentID, params.Content)
		if err != nil {
			return foreman.ToolResult{Error: "store failed: " + err.Error()}, nil
		}
		return foreman.ToolResult{Content: "Stored memory " + entry.ID}, nil
	case "memory_search":
		entries, err := t.store.Search(ctx, call.AgentID, params.Query, params.Limit)
		if err != nil {
			return foreman.ToolResult{Error: "search failed: " + err.Error()}, nil
		}
		if len(entries) == 0 {
			return foreman.ToolResult{Content: "No matching memories."}, nil
		}
		var b strings.Builder
		for i, e := range entries {
			fmt.Fprintf(&b, "%d. %s\n", i+1, e.Content)
		}
		return foreman.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
	default:
		return foreman.ToolResult{Error: "unknown memory tool: " + call.Name}, nil
	}
}

// InProcessStore is a foreman.MemoryStore held in maps. Nothing survives a
// restart; it exists so the memory tools work without a database path.
type InProcessStore struct {
	mu      sync.RWMutex
	entries map[string][]foreman.MemoryEntry // agentID -> newest last
}

// NewInProcessStore creates an empty store.
func NewInProcessStore() *InProcessStore {
	return &InProcessStore{entries: make(map[string][]foreman.MemoryEntry)}
}

func (s *InProcessStore) Store(ctx context.Context, agentID, content string) (foreman.MemoryEntry, error) {
	entry := foreman.MemoryEntry{
		ID:        foreman.NewID(),
		AgentID:   agentID,
		Content:   content,
		CreatedAt: foreman.NowUnix(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[agentID] = append(s.entries[agentID], entry)
	return entry, nil
}

func (s *InProcessStore) Search(ctx context.Context, agentID, query string, limit int) ([]foreman.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	words := strings.Fields(strings.ToLower(query))

	s.mu.RLock()
	defer s.mu.RUnlock()
	agentEntries := s.entries[agentID]

	var out []foreman.MemoryEntry
	for i := len(agentEntries) - 1; i >= 0 && len(out) < limit; i-- {
		e := agentEntries[i]
		lower := strings.ToLower(e.Content)
		match := true
		for _, w := range words {
			if !strings.Contains(lower, w) {
				match = false
				break
			}
		}
		if match {
			out = append(out, e)
		}
	}
	return out, nil
}

var (
	_ foreman.Tool        = (*Tool)(nil)
	_ foreman.MemoryStore = (*InProcessStore)(nil)
)
