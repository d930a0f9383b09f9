package foreman

import "context"

// MemoryEntry is one stored agent note.
type MemoryEntry struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// MemoryStore persists per-agent notes with keyword search, newest first.
// memory/sqlite provides the durable implementation; tools/memory falls back
// to an in-process store when no database path is configured.
type MemoryStore interface {
	Store(ctx context.Context, agentID, content string) (MemoryEntry, error)
	Search(ctx context.Context, agentID, query string, limit int) ([]MemoryEntry, error)
}
