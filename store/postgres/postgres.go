// Package postgres implements foreman.Repository using PostgreSQL via pgx.
//
// The Repository accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
//
// Tasks are stored across three tables: the task row itself plus append-only
// worker_outputs and supervisor_reviews. Save is idempotent with respect to
// the append-only children: only rows beyond the already-persisted count are
// inserted.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	foreman "github.com/mkarlsen/foreman"
)

// Repository implements foreman.Repository backed by PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	agents *agentRepo
	tasks  *taskRepo
	logs   *logRepo
}

// New creates a Repository using an existing pgxpool.Pool. The caller owns
// the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:   pool,
		agents: &agentRepo{pool: pool},
		tasks:  &taskRepo{pool: pool},
		logs:   &logRepo{pool: pool},
	}
}

// Init creates the schema if it does not exist.
func (r *Repository) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'idle',
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			assigned_agents JSONB NOT NULL DEFAULT '[]',
			current_revision INT NOT NULL DEFAULT 0,
			max_revisions INT NOT NULL DEFAULT 3,
			final_output TEXT NOT NULL DEFAULT '',
			requires_human_approval BOOLEAN NOT NULL DEFAULT FALSE,
			parent_task_id TEXT NOT NULL DEFAULT '',
			depth INT NOT NULL DEFAULT 0,
			child_task_ids JSONB NOT NULL DEFAULT '[]',
			spawned_by_agent TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT 'user',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks (parent_task_id)`,
		`CREATE TABLE IF NOT EXISTS worker_outputs (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			ord INT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			output TEXT NOT NULL,
			revision INT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (task_id, ord)
		)`,
		`CREATE TABLE IF NOT EXISTS supervisor_reviews (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			ord INT NOT NULL,
			decision TEXT NOT NULL,
			feedback TEXT NOT NULL,
			revision INT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (task_id, ord)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_task ON execution_logs (task_id)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (r *Repository) Agents() foreman.AgentRepository      { return r.agents }
func (r *Repository) Tasks() foreman.TaskRepository        { return r.tasks }
func (r *Repository) Logs() foreman.ExecutionLogRepository { return r.logs }

// --- Agents ---

type agentRepo struct {
	pool *pgxpool.Pool
}

const agentColumns = `id, name, role, system_prompt, provider, model, status, created_at`

func scanAgent(row pgx.Row) (*foreman.Agent, error) {
	var a foreman.Agent
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.SystemPrompt, &a.Provider, &a.Model, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, foreman.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *agentRepo) List(ctx context.Context, skip, limit int) ([]foreman.Agent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY created_at, id OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []foreman.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *agentRepo) Get(ctx context.Context, id string) (*foreman.Agent, error) {
	return scanAgent(r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
}

func (r *agentRepo) Save(ctx context.Context, a *foreman.Agent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agents (id, name, role, system_prompt, provider, model, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			system_prompt = EXCLUDED.system_prompt,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			status = EXCLUDED.status`,
		a.ID, a.Name, a.Role, a.SystemPrompt, a.Provider, a.Model, a.Status, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

func (r *agentRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return foreman.ErrNotFound
	}
	return nil
}

func (r *agentRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n)
	return n, err
}

// --- Tasks ---

type taskRepo struct {
	pool *pgxpool.Pool
}

const taskColumns = `id, description, status, assigned_agents, current_revision, max_revisions,
	final_output, requires_human_approval, parent_task_id, depth, child_task_ids,
	spawned_by_agent, created_by, created_at, updated_at`

func scanTask(row pgx.Row) (*foreman.Task, error) {
	var t foreman.Task
	var assigned, children []byte
	err := row.Scan(&t.ID, &t.Description, &t.Status, &assigned, &t.CurrentRevision,
		&t.MaxRevisions, &t.FinalOutput, &t.RequiresHumanApproval, &t.ParentTaskID,
		&t.Depth, &children, &t.SpawnedByAgent, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, foreman.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(assigned, &t.AssignedAgentIDs); err != nil {
		return nil, fmt.Errorf("decode assigned_agents: %w", err)
	}
	if err := json.Unmarshal(children, &t.ChildTaskIDs); err != nil {
		return nil, fmt.Errorf("decode child_task_ids: %w", err)
	}
	return &t, nil
}

// loadChildren fills the append-only output and review slices.
func (r *taskRepo) loadChildren(ctx context.Context, t *foreman.Task) error {
	rows, err := r.pool.Query(ctx, `
		SELECT agent_id, agent_name, output, revision, created_at
		FROM worker_outputs WHERE task_id = $1 ORDER BY ord`, t.ID)
	if err != nil {
		return fmt.Errorf("load worker outputs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var wo foreman.WorkerOutput
		if err := rows.Scan(&wo.AgentID, &wo.AgentName, &wo.Output, &wo.Revision, &wo.CreatedAt); err != nil {
			return fmt.Errorf("scan worker output: %w", err)
		}
		t.WorkerOutputs = append(t.WorkerOutputs, wo)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rrows, err := r.pool.Query(ctx, `
		SELECT decision, feedback, revision, created_at
		FROM supervisor_reviews WHERE task_id = $1 ORDER BY ord`, t.ID)
	if err != nil {
		return fmt.Errorf("load supervisor reviews: %w", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var sr foreman.SupervisorReview
		if err := rrows.Scan(&sr.Decision, &sr.Feedback, &sr.Revision, &sr.CreatedAt); err != nil {
			return fmt.Errorf("scan supervisor review: %w", err)
		}
		t.SupervisorReviews = append(t.SupervisorReviews, sr)
	}
	return rrows.Err()
}

func (r *taskRepo) List(ctx context.Context, skip, limit int) ([]foreman.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, id OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []foreman.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *taskRepo) Get(ctx context.Context, id string) (*foreman.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *taskRepo) Save(ctx context.Context, t *foreman.Task) error {
	assigned, err := json.Marshal(emptyNotNull(t.AssignedAgentIDs))
	if err != nil {
		return fmt.Errorf("encode assigned_agents: %w", err)
	}
	children, err := json.Marshal(emptyNotNull(t.ChildTaskIDs))
	if err != nil {
		return fmt.Errorf("encode child_task_ids: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save task: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			assigned_agents = EXCLUDED.assigned_agents,
			current_revision = EXCLUDED.current_revision,
			max_revisions = EXCLUDED.max_revisions,
			final_output = EXCLUDED.final_output,
			requires_human_approval = EXCLUDED.requires_human_approval,
			child_task_ids = EXCLUDED.child_task_ids,
			updated_at = EXCLUDED.updated_at`,
		t.ID, t.Description, t.Status, assigned, t.CurrentRevision, t.MaxRevisions,
		t.FinalOutput, t.RequiresHumanApproval, t.ParentTaskID, t.Depth, children,
		t.SpawnedByAgent, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}

	// Append-only children: insert only rows past the persisted count.
	var haveOutputs int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM worker_outputs WHERE task_id = $1`, t.ID).Scan(&haveOutputs); err != nil {
		return fmt.Errorf("count worker outputs: %w", err)
	}
	for i := haveOutputs; i < len(t.WorkerOutputs); i++ {
		wo := t.WorkerOutputs[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO worker_outputs (task_id, ord, agent_id, agent_name, output, revision, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, i, wo.AgentID, wo.AgentName, wo.Output, wo.Revision, wo.CreatedAt)
		if err != nil {
			return fmt.Errorf("append worker output: %w", err)
		}
	}

	var haveReviews int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM supervisor_reviews WHERE task_id = $1`, t.ID).Scan(&haveReviews); err != nil {
		return fmt.Errorf("count supervisor reviews: %w", err)
	}
	for i := haveReviews; i < len(t.SupervisorReviews); i++ {
		sr := t.SupervisorReviews[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO supervisor_reviews (task_id, ord, decision, feedback, revision, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, i, sr.Decision, sr.Feedback, sr.Revision, sr.CreatedAt)
		if err != nil {
			return fmt.Errorf("append supervisor review: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *taskRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return foreman.ErrNotFound
	}
	return nil
}

func (r *taskRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}

func (r *taskRepo) CountByParent(ctx context.Context, parentID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE parent_task_id = $1`, parentID).Scan(&n)
	return n, err
}

func (r *taskRepo) CountAutoCreated(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE created_by <> 'user' AND created_by <> ''`).Scan(&n)
	return n, err
}

// --- Logs ---

type logRepo struct {
	pool *pgxpool.Pool
}

func (r *logRepo) Append(ctx context.Context, entry foreman.ExecutionLogEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO execution_logs (id, task_id, level, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.TaskID, entry.Level, entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append execution log: %w", err)
	}
	return nil
}

func (r *logRepo) ListByTask(ctx context.Context, taskID string) ([]foreman.ExecutionLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, level, message, created_at
		FROM execution_logs WHERE task_id = $1 ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	defer rows.Close()

	var out []foreman.ExecutionLogEntry
	for rows.Next() {
		var e foreman.ExecutionLogEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// emptyNotNull keeps JSON columns as [] instead of null for nil slices.
func emptyNotNull(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ foreman.Repository = (*Repository)(nil)
