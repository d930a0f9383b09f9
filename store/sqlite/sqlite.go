// Package sqlite implements foreman.CheckpointStore using pure-Go SQLite.
//
// Checkpoints survive a process restart, which is what makes the durable
// approval path work: a task can suspend in one process and resume in
// another.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	foreman "github.com/mkarlsen/foreman"
	_ "modernc.org/sqlite"
)

// Store implements foreman.CheckpointStore backed by a local SQLite file.
// The checkpoint body is stored as JSON; one row per suspended task.
type Store struct {
	db *sql.DB

	// SQLite allows one writer at a time; serialize writes here instead of
	// bubbling SQLITE_BUSY up to callers.
	mu sync.Mutex
}

// Open creates the store and its schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS checkpoints (
		task_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		saved_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("init checkpoint schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts the checkpoint for cp.TaskID.
func (s *Store) Save(ctx context.Context, cp foreman.Checkpoint) error {
	state, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (task_id, state, saved_at) VALUES (?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET state = excluded.state, saved_at = excluded.saved_at`,
		cp.TaskID, string(state), cp.SavedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.TaskID, err)
	}
	return nil
}

// Load returns foreman.ErrNotFound when no checkpoint exists for the task.
func (s *Store) Load(ctx context.Context, taskID string) (*foreman.Checkpoint, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE task_id = ?`, taskID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, foreman.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", taskID, err)
	}
	var cp foreman.Checkpoint
	if err := json.Unmarshal([]byte(state), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", taskID, err)
	}
	return &cp, nil
}

// Delete removes the checkpoint. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", taskID, err)
	}
	return nil
}

var _ foreman.CheckpointStore = (*Store)(nil)
