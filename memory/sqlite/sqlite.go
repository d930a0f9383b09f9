// Package sqlite implements foreman.MemoryStore using pure-Go SQLite.
//
// Notes are per-agent and searched with LIKE keyword matching, newest first.
// Swap in a different backend by implementing foreman.MemoryStore with your
// own package.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	foreman "github.com/mkarlsen/foreman"
	_ "modernc.org/sqlite"
)

// Store implements foreman.MemoryStore backed by a local SQLite file.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates the store and its schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS agent_memories (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_memories_agent ON agent_memories (agent_id, created_at DESC)`)
	if err != nil {
		return fmt.Errorf("init memory schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Store appends a note for the agent.
func (s *Store) Store(ctx context.Context, agentID, content string) (foreman.MemoryEntry, error) {
	entry := foreman.MemoryEntry{
		ID:        foreman.NewID(),
		AgentID:   agentID,
		Content:   content,
		CreatedAt: foreman.NowUnix(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_memories (id, agent_id, content, created_at) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.AgentID, entry.Content, entry.CreatedAt)
	if err != nil {
		return foreman.MemoryEntry{}, fmt.Errorf("store memory: %w", err)
	}
	return entry, nil
}

// Search returns the agent's notes matching every keyword in query, newest
// first. An empty query returns the newest notes unfiltered.
func (s *Store) Search(ctx context.Context, agentID, query string, limit int) ([]foreman.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `SELECT id, agent_id, content, created_at FROM agent_memories WHERE agent_id = ?`
	args := []any{agentID}
	for _, word := range strings.Fields(query) {
		sqlQuery += ` AND content LIKE ?`
		args = append(args, "%"+word+"%")
	}
	sqlQuery += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var out []foreman.MemoryEntry
	for rows.Next() {
		var e foreman.MemoryEntry
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ foreman.MemoryStore = (*Store)(nil)
