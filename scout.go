package foreman

import (
	"context"
	"fmt"
	"log/slog"
)

// ScoutRequest configures a self-analysis launch.
type ScoutRequest struct {
	NumTasks int    `json:"num_tasks"`
	MaxDepth int    `json:"max_depth"`
	AgentID  string `json:"agent_id"`
}

// Scout launches a bounded recursive self-analysis task tree: one root task
// whose worker spawns children through the create_task tool. The lineage
// envelope in TaskService keeps the tree bounded regardless of what the
// model asks for.
type Scout struct {
	tasks  *TaskService
	agents *AgentService
	logger *slog.Logger
}

// NewScout creates the dispatcher. logger may be nil.
func NewScout(tasks *TaskService, agents *AgentService, logger *slog.Logger) *Scout {
	if logger == nil {
		logger = nopLogger
	}
	return &Scout{tasks: tasks, agents: agents, logger: logger}
}

// Launch clamps the request (1..10 tasks, depth 1..3) and creates the root
// analysis task. An empty agent ID assigns all worker-role agents.
func (s *Scout) Launch(ctx context.Context, req ScoutRequest, keys RequestKeys) (*Task, error) {
	numTasks := clamp(req.NumTasks, 1, 10)
	maxDepth := clamp(req.MaxDepth, 1, 3)

	var assigned []string
	if req.AgentID != "" {
		if _, err := s.agents.Get(ctx, req.AgentID); err != nil {
			return nil, fmt.Errorf("scout agent %s: %w", req.AgentID, err)
		}
		assigned = []string{req.AgentID}
	}

	task, err := s.tasks.Create(ctx, TaskCreate{
		Description:    ScoutPrompt(numTasks, maxDepth),
		AssignedAgents: assigned,
	}, keys)
	if err != nil {
		return nil, fmt.Errorf("launch scout: %w", err)
	}
	s.logger.Info("scout launched", "task", task.ID, "num_tasks", numTasks, "max_depth", maxDepth)
	return task, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
