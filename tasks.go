package foreman

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// TaskCreate is the payload for submitting a task.
type TaskCreate struct {
	Description           string   `json:"description"`
	AssignedAgents        []string `json:"assigned_agents"`
	MaxRevisions          int      `json:"max_revisions"`
	RequiresHumanApproval bool     `json:"requires_human_approval"`

	// Lineage. Set by the create_task tool for agent-spawned tasks.
	ParentTaskID   string `json:"parent_task_id"`
	SpawnedByAgent string `json:"spawned_by_agent"`
}

// TaskJob is one background execution unit: which task to run and the
// credentials it inherited from the submitting request.
type TaskJob struct {
	TaskID string      `json:"task_id"`
	Keys   RequestKeys `json:"keys"`
}

// Scheduler launches background task runs. The in-process implementation
// runs the graph in a tracked goroutine; internal/queue ships the job to an
// external worker over NATS. The engine contract is identical either way.
type Scheduler interface {
	Schedule(ctx context.Context, job TaskJob) error
}

// TaskService owns task creation, the lineage-safety envelope, status
// updates, and background launch. All task mutations go through Mutate so
// concurrent graph nodes serialize per task.
type TaskService struct {
	repo      Repository
	bus       *EventBus
	agents    *AgentService
	scheduler Scheduler
	locks     *keyedMutex
	settings  Settings
	logger    *slog.Logger
}

// NewTaskService creates the service. The scheduler is wired later by the
// engine (SetScheduler) because the in-process scheduler needs the graph.
func NewTaskService(repo Repository, bus *EventBus, agents *AgentService, settings Settings, logger *slog.Logger) *TaskService {
	if logger == nil {
		logger = nopLogger
	}
	return &TaskService{
		repo:     repo,
		bus:      bus,
		agents:   agents,
		locks:    newKeyedMutex(),
		settings: settings,
		logger:   logger,
	}
}

// SetScheduler wires the background launcher.
func (s *TaskService) SetScheduler(sched Scheduler) { s.scheduler = sched }

// Create validates lineage, persists the task, links it to its parent, emits
// a task_update, and schedules background execution. keys are the request
// credentials the run will inherit.
func (s *TaskService) Create(ctx context.Context, in TaskCreate, keys RequestKeys) (*Task, error) {
	description := norm.NFC.String(strings.TrimSpace(in.Description))
	if description == "" {
		return nil, fmt.Errorf("task description is required")
	}

	var parent *Task
	if in.ParentTaskID != "" {
		var err error
		parent, err = s.checkLineage(ctx, in.ParentTaskID)
		if err != nil {
			return nil, err
		}
	}

	assigned := in.AssignedAgents
	if len(assigned) == 0 {
		var err error
		assigned, err = s.allWorkerIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve default workers: %w", err)
		}
	}

	maxRevisions := in.MaxRevisions
	if maxRevisions <= 0 {
		maxRevisions = s.settings.MaxRevisions
	}

	now := NowUnix()
	t := &Task{
		ID:                    NewID(),
		Description:           description,
		Status:                TaskPending,
		AssignedAgentIDs:      assigned,
		MaxRevisions:          maxRevisions,
		RequiresHumanApproval: in.RequiresHumanApproval,
		CreatedBy:             "user",
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if parent != nil {
		t.ParentTaskID = parent.ID
		t.Depth = parent.Depth + 1
		t.SpawnedByAgent = in.SpawnedByAgent
		t.CreatedBy = "agent"
	}

	if err := s.repo.Tasks().Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}

	if parent != nil {
		_, err := s.Mutate(ctx, parent.ID, func(p *Task) error {
			p.ChildTaskIDs = append(p.ChildTaskIDs, t.ID)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("link child task: %w", err)
		}
	}

	s.publish(TaskUpdateEvent(t))

	if s.scheduler != nil {
		if err := s.scheduler.Schedule(ctx, TaskJob{TaskID: t.ID, Keys: keys}); err != nil {
			return nil, fmt.Errorf("schedule task: %w", err)
		}
	}
	return t, nil
}

// checkLineage enforces the task-spawn safety envelope. Every violation is
// an AutoTaskError naming the rule that tripped.
func (s *TaskService) checkLineage(ctx context.Context, parentID string) (*Task, error) {
	if !s.settings.AllowAutoTaskCreation {
		return nil, &AutoTaskError{Rule: "auto_task_creation_disabled", Detail: "automatic task creation is disabled"}
	}
	parent, err := s.repo.Tasks().Get(ctx, parentID)
	if err != nil {
		return nil, &AutoTaskError{Rule: "parent_not_found", Detail: fmt.Sprintf("parent task %s does not exist", parentID)}
	}
	if parent.Depth+1 > s.settings.MaxTaskDepth {
		return nil, &AutoTaskError{
			Rule:   "max_task_depth",
			Detail: fmt.Sprintf("child would be at depth %d, limit is %d", parent.Depth+1, s.settings.MaxTaskDepth),
		}
	}
	children, err := s.repo.Tasks().CountByParent(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("count children: %w", err)
	}
	if children >= s.settings.MaxChildTasksPerTask {
		return nil, &AutoTaskError{
			Rule:   "max_child_tasks",
			Detail: fmt.Sprintf("parent already has %d children, limit is %d", children, s.settings.MaxChildTasksPerTask),
		}
	}
	autoTotal, err := s.repo.Tasks().CountAutoCreated(ctx)
	if err != nil {
		return nil, fmt.Errorf("count auto-created tasks: %w", err)
	}
	if autoTotal >= s.settings.MaxTotalAutoTasks {
		return nil, &AutoTaskError{
			Rule:   "max_total_auto_tasks",
			Detail: fmt.Sprintf("%d auto-created tasks already exist, limit is %d", autoTotal, s.settings.MaxTotalAutoTasks),
		}
	}
	return parent, nil
}

// allWorkerIDs resolves the default assignment: every worker-role agent.
func (s *TaskService) allWorkerIDs(ctx context.Context) ([]string, error) {
	agents, err := s.agents.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, a := range agents {
		if a.Role == RoleWorker {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

// Get returns the task or ErrNotFound.
func (s *TaskService) Get(ctx context.Context, id string) (*Task, error) {
	return s.repo.Tasks().Get(ctx, id)
}

// List returns a page of tasks.
func (s *TaskService) List(ctx context.Context, skip, limit int) ([]Task, error) {
	return s.repo.Tasks().List(ctx, skip, limit)
}

// Count returns the total number of tasks.
func (s *TaskService) Count(ctx context.Context) (int, error) {
	return s.repo.Tasks().Count(ctx)
}

// Mutate applies fn to the task under its write lock and saves the result.
// Terminal statuses are sinks: a mutation that tries to move a task out of
// approved/rejected/failed is rejected here, once, for every caller.
func (s *TaskService) Mutate(ctx context.Context, id string, fn func(t *Task) error) (*Task, error) {
	lock := s.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	t, err := s.repo.Tasks().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := t.Status
	if err := fn(t); err != nil {
		return nil, err
	}
	if before.Terminal() && t.Status != before {
		return nil, fmt.Errorf("task %s is %s; terminal statuses are final", id, before)
	}
	t.UpdatedAt = NowUnix()
	if err := s.repo.Tasks().Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	return t, nil
}

// SetStatus transitions the task and emits a task_update event.
func (s *TaskService) SetStatus(ctx context.Context, id string, status TaskStatus) (*Task, error) {
	t, err := s.Mutate(ctx, id, func(t *Task) error {
		t.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(TaskUpdateEvent(t))
	return t, nil
}

// MarkFailed is the terminal error path: status failed, final output set to
// the reason, a durable execution log line, and log + task_update events.
func (s *TaskService) MarkFailed(ctx context.Context, id, reason string) {
	t, err := s.Mutate(ctx, id, func(t *Task) error {
		t.Status = TaskFailed
		t.FinalOutput = reason
		return nil
	})
	if err != nil {
		s.logger.Error("failed to mark task failed", "task", id, "error", err)
		return
	}
	s.AppendLog(ctx, id, "error", reason)
	s.publish(LogEvent(id, "", "", "error", reason))
	s.publish(TaskUpdateEvent(t))
}

// AppendLog persists a durable execution log line. Best-effort: log history
// must never fail a run.
func (s *TaskService) AppendLog(ctx context.Context, taskID, level, message string) {
	entry := ExecutionLogEntry{
		ID:        NewID(),
		TaskID:    taskID,
		Level:     level,
		Message:   message,
		CreatedAt: NowUnix(),
	}
	if err := s.repo.Logs().Append(ctx, entry); err != nil {
		s.logger.Warn("append execution log failed", "task", taskID, "error", err)
	}
}

// ApplyDecisionDirect short-circuits the FSM when no interrupt controller is
// available (in-memory mode without checkpointing): the human decision is
// applied straight to the persisted task. A revise decision schedules a
// fresh background run from the dispatch node.
func (s *TaskService) ApplyDecisionDirect(ctx context.Context, id string, d HumanDecision, keys RequestKeys) (*Task, error) {
	reschedule := false
	t, err := s.Mutate(ctx, id, func(t *Task) error {
		if t.Status != TaskPendingHumanApproval {
			return ErrNotPendingApproval
		}
		t.SupervisorReviews = append(t.SupervisorReviews, SupervisorReview{
			Decision:  d.Decision,
			Feedback:  d.Feedback,
			Revision:  t.CurrentRevision,
			CreatedAt: NowUnix(),
		})
		switch d.Decision {
		case DecisionApprove:
			t.Status = TaskApproved
			t.FinalOutput = joinRoundOutputs(t, t.CurrentRevision)
		case DecisionReject:
			t.Status = TaskRejected
			if d.Feedback != "" {
				t.FinalOutput = d.Feedback
			} else {
				t.FinalOutput = "Rejected by human"
			}
		case DecisionRevise:
			if t.CurrentRevision >= t.MaxRevisions {
				t.Status = TaskApproved
				t.FinalOutput = joinRoundOutputs(t, t.CurrentRevision)
				return nil
			}
			t.CurrentRevision++
			t.Status = TaskRevision
			reschedule = true
		default:
			return fmt.Errorf("invalid decision %q", d.Decision)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(TaskUpdateEvent(t))
	if reschedule && s.scheduler != nil {
		if err := s.scheduler.Schedule(ctx, TaskJob{TaskID: t.ID, Keys: keys}); err != nil {
			return nil, fmt.Errorf("schedule revision run: %w", err)
		}
	}
	return t, nil
}

func (s *TaskService) publish(ev Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// joinRoundOutputs concatenates the persisted outputs of one revision round
// with blank-line separators, in assignment order.
func joinRoundOutputs(t *Task, revision int) string {
	byAgent := make(map[string][]string)
	for _, wo := range t.WorkerOutputs {
		if wo.Revision == revision {
			byAgent[wo.AgentID] = append(byAgent[wo.AgentID], wo.Output)
		}
	}
	var parts []string
	for _, id := range t.AssignedAgentIDs {
		parts = append(parts, byAgent[id]...)
	}
	return strings.Join(parts, "\n\n")
}

// --- Background runners ---

// RunnerRegistry tracks live background FSM runs so shutdown can await them
// and diagnostics can list them. Runners deregister themselves on completion.
type RunnerRegistry struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	active map[string]struct{}
}

// NewRunnerRegistry creates an empty registry.
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{active: make(map[string]struct{})}
}

// Launch runs fn in a goroutine tracked under taskID.
func (r *RunnerRegistry) Launch(taskID string, fn func()) {
	r.mu.Lock()
	r.active[taskID] = struct{}{}
	r.mu.Unlock()
	r.wg.Add(1)
	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.active, taskID)
			r.mu.Unlock()
			r.wg.Done()
		}()
		fn()
	}()
}

// Active lists the task IDs with live runners.
func (r *RunnerRegistry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every tracked runner has finished.
func (r *RunnerRegistry) Wait() { r.wg.Wait() }

// inProcessScheduler runs each job's FSM in a tracked goroutine. The runner
// gets a fresh background context: the submitting HTTP request ends long
// before the task does.
type inProcessScheduler struct {
	registry *RunnerRegistry
	run      func(ctx context.Context, job TaskJob)
}

// NewInProcessScheduler creates the default scheduler.
func NewInProcessScheduler(registry *RunnerRegistry, run func(ctx context.Context, job TaskJob)) Scheduler {
	return &inProcessScheduler{registry: registry, run: run}
}

func (s *inProcessScheduler) Schedule(_ context.Context, job TaskJob) error {
	s.registry.Launch(job.TaskID, func() {
		s.run(context.Background(), job)
	})
	return nil
}

var _ Scheduler = (*inProcessScheduler)(nil)
