package foreman

import "context"

// AgentRepository persists agents. Save is an upsert; Get returns ErrNotFound
// for unknown IDs.
type AgentRepository interface {
	List(ctx context.Context, skip, limit int) ([]Agent, error)
	Get(ctx context.Context, id string) (*Agent, error)
	Save(ctx context.Context, a *Agent) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// TaskRepository persists tasks together with their append-only worker
// outputs and supervisor reviews. Save must be idempotent with respect to
// those children: re-saving a task inserts only rows beyond the count already
// persisted.
type TaskRepository interface {
	List(ctx context.Context, skip, limit int) ([]Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	Save(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// CountByParent counts direct children of parentID.
	CountByParent(ctx context.Context, parentID string) (int, error)
	// CountAutoCreated counts tasks spawned by agents rather than callers.
	CountAutoCreated(ctx context.Context) (int, error)
}

// ExecutionLogRepository persists durable task history lines.
type ExecutionLogRepository interface {
	Append(ctx context.Context, entry ExecutionLogEntry) error
	ListByTask(ctx context.Context, taskID string) ([]ExecutionLogEntry, error)
}

// Repository bundles the per-entity repositories behind one pluggable
// back-end (store/memory, store/postgres).
type Repository interface {
	Agents() AgentRepository
	Tasks() TaskRepository
	Logs() ExecutionLogRepository
}
