// Package memory implements foreman.Repository with in-process maps. It is
// the default back-end for development and tests; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	foreman "github.com/mkarlsen/foreman"
)

// Repository is an in-memory foreman.Repository. Safe for concurrent use.
type Repository struct {
	agents *agentRepo
	tasks  *taskRepo
	logs   *logRepo
}

// New creates an empty repository.
func New() *Repository {
	return &Repository{
		agents: &agentRepo{items: make(map[string]foreman.Agent)},
		tasks:  &taskRepo{items: make(map[string]foreman.Task)},
		logs:   &logRepo{},
	}
}

func (r *Repository) Agents() foreman.AgentRepository      { return r.agents }
func (r *Repository) Tasks() foreman.TaskRepository        { return r.tasks }
func (r *Repository) Logs() foreman.ExecutionLogRepository { return r.logs }

// --- Agents ---

type agentRepo struct {
	mu    sync.RWMutex
	items map[string]foreman.Agent
}

func (r *agentRepo) List(ctx context.Context, skip, limit int) ([]foreman.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]foreman.Agent, 0, len(r.items))
	for _, a := range r.items {
		all = append(all, cloneAgent(a))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt < all[j].CreatedAt
		}
		return all[i].ID < all[j].ID
	})
	return window(all, skip, limit), nil
}

func (r *agentRepo) Get(ctx context.Context, id string) (*foreman.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, foreman.ErrNotFound
	}
	out := cloneAgent(a)
	return &out, nil
}

func (r *agentRepo) Save(ctx context.Context, a *foreman.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[a.ID] = cloneAgent(*a)
	return nil
}

func (r *agentRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return foreman.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *agentRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

// --- Tasks ---

type taskRepo struct {
	mu    sync.RWMutex
	items map[string]foreman.Task
}

func (r *taskRepo) List(ctx context.Context, skip, limit int) ([]foreman.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]foreman.Task, 0, len(r.items))
	for _, t := range r.items {
		all = append(all, cloneTask(t))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt > all[j].CreatedAt
		}
		return all[i].ID < all[j].ID
	})
	return window(all, skip, limit), nil
}

func (r *taskRepo) Get(ctx context.Context, id string) (*foreman.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.items[id]
	if !ok {
		return nil, foreman.ErrNotFound
	}
	out := cloneTask(t)
	return &out, nil
}

func (r *taskRepo) Save(ctx context.Context, t *foreman.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[t.ID] = cloneTask(*t)
	return nil
}

func (r *taskRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return foreman.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *taskRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

func (r *taskRepo) CountByParent(ctx context.Context, parentID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.items {
		if t.ParentTaskID == parentID {
			n++
		}
	}
	return n, nil
}

func (r *taskRepo) CountAutoCreated(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.items {
		if t.AutoCreated() {
			n++
		}
	}
	return n, nil
}

// --- Logs ---

type logRepo struct {
	mu      sync.RWMutex
	entries []foreman.ExecutionLogEntry
}

func (r *logRepo) Append(ctx context.Context, entry foreman.ExecutionLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *logRepo) ListByTask(ctx context.Context, taskID string) ([]foreman.ExecutionLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []foreman.ExecutionLogEntry
	for _, e := range r.entries {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Helpers ---

// Clones keep callers from mutating stored records through shared slices.

func cloneAgent(a foreman.Agent) foreman.Agent { return a }

func cloneTask(t foreman.Task) foreman.Task {
	out := t
	out.AssignedAgentIDs = append([]string(nil), t.AssignedAgentIDs...)
	out.WorkerOutputs = append([]foreman.WorkerOutput(nil), t.WorkerOutputs...)
	out.SupervisorReviews = append([]foreman.SupervisorReview(nil), t.SupervisorReviews...)
	out.ChildTaskIDs = append([]string(nil), t.ChildTaskIDs...)
	return out
}

func window[T any](all []T, skip, limit int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(all) {
		return nil
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

var _ foreman.Repository = (*Repository)(nil)
