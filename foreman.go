package foreman

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Settings holds the engine knobs. Zero values are filled from
// DefaultSettings by New.
type Settings struct {
	DefaultProvider string
	DefaultModel    string

	MaxRevisions int
	GraphTimeout time.Duration
	RateLimitRPM int

	MaxTaskDepth          int
	MaxChildTasksPerTask  int
	MaxTotalAutoTasks     int
	AllowAutoTaskCreation bool

	BusCapacity         int
	BroadcastErrorDelay time.Duration
	MaxBroadcastErrors  int
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		DefaultProvider:       "anthropic",
		DefaultModel:          "claude-sonnet-4-20250514",
		MaxRevisions:          3,
		GraphTimeout:          600 * time.Second,
		RateLimitRPM:          60,
		MaxTaskDepth:          3,
		MaxChildTasksPerTask:  5,
		MaxTotalAutoTasks:     20,
		AllowAutoTaskCreation: true,
		BusCapacity:           defaultBusCapacity,
		BroadcastErrorDelay:   defaultBroadcastErrorDelay,
		MaxBroadcastErrors:    defaultMaxBroadcastErrors,
	}
}

// fillDefaults replaces zero values with the defaults. AllowAutoTaskCreation
// is a plain bool, so callers that want it off must build from
// DefaultSettings and flip it.
func (s Settings) fillDefaults() Settings {
	d := DefaultSettings()
	if s.DefaultProvider == "" {
		s.DefaultProvider = d.DefaultProvider
	}
	if s.DefaultModel == "" {
		s.DefaultModel = d.DefaultModel
	}
	if s.MaxRevisions <= 0 {
		s.MaxRevisions = d.MaxRevisions
	}
	if s.GraphTimeout <= 0 {
		s.GraphTimeout = d.GraphTimeout
	}
	if s.MaxTaskDepth <= 0 {
		s.MaxTaskDepth = d.MaxTaskDepth
	}
	if s.MaxChildTasksPerTask <= 0 {
		s.MaxChildTasksPerTask = d.MaxChildTasksPerTask
	}
	if s.MaxTotalAutoTasks <= 0 {
		s.MaxTotalAutoTasks = d.MaxTotalAutoTasks
	}
	if s.BusCapacity <= 0 {
		s.BusCapacity = d.BusCapacity
	}
	if s.BroadcastErrorDelay <= 0 {
		s.BroadcastErrorDelay = d.BroadcastErrorDelay
	}
	if s.MaxBroadcastErrors <= 0 {
		s.MaxBroadcastErrors = d.MaxBroadcastErrors
	}
	return s
}

// Deps are the required collaborators.
type Deps struct {
	Repo    Repository
	Factory ProviderFactory
}

// Engine assembles the whole orchestration pipeline. There are no package
// globals: everything hangs off this struct and is threaded into handlers.
type Engine struct {
	settings Settings
	logger   *slog.Logger
	tracer   Tracer

	repo        Repository
	bus         *EventBus
	broadcaster *Broadcaster
	limiter     *RateLimiter

	agents       *AgentService
	tasks        *TaskService
	executor     *WorkerExecutor
	supervisor   *Supervisor
	orchestrator *Orchestrator
	scout        *Scout

	approvals ApprovalController
	registry  *RunnerRegistry
	tools     *ToolRegistry

	serverKeys RequestKeys
	startedAt  time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger (default: discard).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer (default: none; spans are skipped).
func WithTracer(t Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithTools sets the worker tool registry.
func WithTools(r *ToolRegistry) Option {
	return func(e *Engine) { e.tools = r }
}

// WithApprovals sets the interrupt/resume controller. Without one, human
// decisions are applied directly to the persisted task.
func WithApprovals(c ApprovalController) Option {
	return func(e *Engine) { e.approvals = c }
}

// WithServerKeys sets the server-default provider credentials. Request keys
// override them per call.
func WithServerKeys(keys RequestKeys) Option {
	return func(e *Engine) { e.serverKeys = keys }
}

// New assembles an engine. Call Start to begin broadcasting, then serve the
// API on top of the exposed services.
func New(settings Settings, deps Deps, opts ...Option) *Engine {
	e := &Engine{
		settings:  settings.fillDefaults(),
		repo:      deps.Repo,
		registry:  NewRunnerRegistry(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = nopLogger
	}

	e.bus = NewEventBus(e.settings.BusCapacity, e.logger)
	e.broadcaster = NewBroadcaster(e.bus, e.logger,
		BroadcastErrorDelay(e.settings.BroadcastErrorDelay),
		BroadcastMaxErrors(e.settings.MaxBroadcastErrors))
	e.limiter = NewRateLimiter(e.settings.RateLimitRPM)

	e.agents = NewAgentService(e.repo.Agents(), e.bus, e.logger)
	e.tasks = NewTaskService(e.repo, e.bus, e.agents, e.settings, e.logger)
	e.executor = NewWorkerExecutor(e.agents, e.repo.Tasks(), e.bus, deps.Factory, e.limiter, e.tools, e.settings, e.logger, e.tracer)
	e.supervisor = NewSupervisor(NewSummarizer(e.logger), e.logger)
	e.orchestrator = NewOrchestrator(e.tasks, e.agents, e.executor, e.supervisor, e.approvals, e.bus, e.settings, e.logger, e.tracer)
	e.scout = NewScout(e.tasks, e.agents, e.logger)

	e.tasks.SetScheduler(NewInProcessScheduler(e.registry, e.RunTask))
	return e
}

// SetScheduler replaces the default in-process scheduler (queue mode).
func (e *Engine) SetScheduler(s Scheduler) { e.tasks.SetScheduler(s) }

// Start launches the broadcast consumer. It returns immediately; the
// consumer stops when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go e.broadcaster.Run(ctx)
}

// RunTask executes one task's graph to completion (or suspension). Request
// keys are merged over the server defaults before the run starts so BYOK
// children inherit the right credentials.
func (e *Engine) RunTask(ctx context.Context, job TaskJob) {
	job.Keys = job.Keys.Merged(e.serverKeys)
	e.orchestrator.Run(ctx, job)
}

// Approve routes a human decision to a task waiting on one. Three paths, in
// order: a live in-process gate, a durable checkpoint (restarted here), and
// the direct-apply fallback when no suspension is registered.
func (e *Engine) Approve(ctx context.Context, taskID string, d HumanDecision, keys RequestKeys) (*Task, error) {
	if !ValidDecision(string(d.Decision)) {
		return nil, errors.New("decision must be approve, revise, or reject")
	}
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != TaskPendingHumanApproval {
		return nil, ErrNotPendingApproval
	}

	if e.approvals != nil {
		cp, resumed, err := e.approvals.Deliver(taskID, d)
		if err != nil {
			return nil, err
		}
		if resumed {
			if cp != nil {
				// Durable checkpoint: restart the run with the human verdict.
				restart := *cp
				restart.Keys = keys.Merged(restart.Keys).Merged(e.serverKeys)
				e.registry.Launch(taskID, func() {
					e.orchestrator.ResumeRun(context.Background(), restart, d)
				})
			}
			return e.tasks.Get(ctx, taskID)
		}
	}
	return e.tasks.ApplyDecisionDirect(ctx, taskID, d, keys.Merged(e.serverKeys))
}

// Shutdown waits for live runners to finish, bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.registry.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Accessors for the API layer and binaries.

func (e *Engine) Agents() *AgentService      { return e.agents }
func (e *Engine) Tasks() *TaskService        { return e.tasks }
func (e *Engine) Scout() *Scout              { return e.scout }
func (e *Engine) Bus() *EventBus             { return e.bus }
func (e *Engine) Broadcaster() *Broadcaster  { return e.broadcaster }
func (e *Engine) Runners() *RunnerRegistry   { return e.registry }
func (e *Engine) Settings() Settings         { return e.settings }
func (e *Engine) Uptime() time.Duration      { return time.Since(e.startedAt) }

// nopLogger is a logger that discards all output. Used when WithLogger is
// not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
