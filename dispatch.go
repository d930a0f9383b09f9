package foreman

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const (
	// workerOutputPreviewLen bounds the worker_output event preview.
	workerOutputPreviewLen = 500
	// maxToolIterations caps the Chat -> tool -> Chat loop per worker.
	maxToolIterations = 6
)

// WorkerExecutor fans one dispatch round out across the assigned agents.
// Each worker runs independently: a failure is captured into its result as
// error text and never aborts the round. Agent status is restored on both
// success and failure paths.
type WorkerExecutor struct {
	agents   *AgentService
	taskRepo TaskRepository
	bus      *EventBus
	factory  ProviderFactory
	limiter  *RateLimiter
	tools    *ToolRegistry
	settings Settings
	logger   *slog.Logger
	tracer   Tracer
}

// NewWorkerExecutor creates the executor. tools, logger, and tracer may be nil.
func NewWorkerExecutor(agents *AgentService, taskRepo TaskRepository, bus *EventBus, factory ProviderFactory, limiter *RateLimiter, tools *ToolRegistry, settings Settings, logger *slog.Logger, tracer Tracer) *WorkerExecutor {
	if logger == nil {
		logger = nopLogger
	}
	return &WorkerExecutor{
		agents:   agents,
		taskRepo: taskRepo,
		bus:      bus,
		factory:  factory,
		limiter:  limiter,
		tools:    tools,
		settings: settings,
		logger:   logger,
		tracer:   tracer,
	}
}

// Execute runs every assigned agent concurrently and returns this round's
// results in assignment order. Unknown agent IDs are skipped with a warning.
func (e *WorkerExecutor) Execute(ctx context.Context, taskID string, agentIDs []string, revision int, feedback string, keys RequestKeys) []WorkerResult {
	ctx, span := startSpan(ctx, e.tracer, "task.dispatch",
		StringAttr("task", taskID),
		IntAttr("revision", revision),
		IntAttr("agents", len(agentIDs)))
	defer endSpan(span)

	slots := make([]*WorkerResult, len(agentIDs))
	var wg sync.WaitGroup
	for i, id := range agentIDs {
		agent, err := e.agents.Get(ctx, id)
		if err != nil {
			e.logger.Warn("skipping unknown agent", "task", taskID, "agent", id, "error", err)
			continue
		}
		wg.Add(1)
		go func(i int, agent *Agent) {
			defer wg.Done()
			result := e.runWorker(ctx, taskID, agent, revision, feedback, keys)
			slots[i] = &result
			e.publishOutput(taskID, result, revision)
		}(i, agent)
	}
	wg.Wait()

	results := make([]WorkerResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}

// runWorker drives one agent through one round: busy, invoke, restore.
// Failures become error-text results; agents always come back idle.
func (e *WorkerExecutor) runWorker(ctx context.Context, taskID string, agent *Agent, revision int, feedback string, keys RequestKeys) WorkerResult {
	ctx, span := startSpan(ctx, e.tracer, "worker.run",
		StringAttr("task", taskID),
		StringAttr("agent", agent.ID),
		IntAttr("revision", revision))
	defer endSpan(span)

	if err := e.agents.SetStatus(ctx, agent.ID, AgentBusy); err != nil {
		e.logger.Warn("set agent busy failed", "agent", agent.ID, "error", err)
	}

	output, err := e.invoke(ctx, taskID, agent, revision, feedback, keys)
	if err != nil {
		spanError(span, err)
		e.logger.Error("worker failed", "task", taskID, "agent", agent.ID, "error", err)
		// Error path: surface the failure briefly, then return to idle so the
		// agent stays dispatchable.
		if serr := e.agents.SetStatus(ctx, agent.ID, AgentError); serr != nil {
			e.logger.Warn("set agent error failed", "agent", agent.ID, "error", serr)
		}
		if serr := e.agents.SetStatus(ctx, agent.ID, AgentIdle); serr != nil {
			e.logger.Warn("restore agent idle failed", "agent", agent.ID, "error", serr)
		}
		return WorkerResult{AgentID: agent.ID, AgentName: agent.Name, Output: "Error: " + err.Error()}
	}

	if serr := e.agents.SetStatus(ctx, agent.ID, AgentIdle); serr != nil {
		e.logger.Warn("restore agent idle failed", "agent", agent.ID, "error", serr)
	}
	return WorkerResult{AgentID: agent.ID, AgentName: agent.Name, Output: output}
}

// invoke runs the worker conversation: one shot without tools, bounded
// iterations of Chat -> tool execution -> Chat with them.
func (e *WorkerExecutor) invoke(ctx context.Context, taskID string, agent *Agent, revision int, feedback string, keys RequestKeys) (string, error) {
	task, err := e.taskRepo.Get(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("load task: %w", err)
	}
	p, key, err := e.ProviderFor(agent, keys)
	if err != nil {
		return "", err
	}

	messages := []ChatMessage{
		SystemMessage(WorkerSystemPrompt(agent)),
		UserMessage(WorkerTaskPrompt(task.Description, revision, feedback)),
	}

	defs := e.tools.AllDefinitions()
	iterations := 1
	if len(defs) > 0 {
		iterations = maxToolIterations
	}

	var last ChatResponse
	for i := 0; i < iterations; i++ {
		if err := e.limiter.Acquire(ctx, p.Name(), key); err != nil {
			return "", err
		}
		resp, err := p.Chat(ctx, ChatRequest{Messages: messages, Tools: defs})
		if err != nil {
			e.publishLog(taskID, agent, "error", "LLM call failed: "+err.Error())
			return "", err
		}
		last = resp
		e.publishTelemetry(taskID, agent, resp)

		if len(resp.ToolCalls) == 0 {
			return resp.Content.AsText(), nil
		}

		messages = append(messages, ChatMessage{
			Role:      "assistant",
			Content:   resp.Content.AsText(),
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result, err := e.tools.Execute(ctx, ToolInvocation{
				TaskID:  taskID,
				AgentID: agent.ID,
				Name:    call.Name,
				Args:    call.Args,
				Keys:    keys,
			})
			if err != nil {
				result = ToolResult{Error: err.Error()}
			}
			messages = append(messages, ToolResultMessage(call.ID, result.Text()))
		}
	}
	// Iteration cap reached mid tool loop: return whatever text we have.
	return last.Content.AsText(), nil
}

// ProviderFor resolves the agent's provider/model (falling back to server
// defaults), builds it with the request keys, and wraps it with retry.
// The returned key is the credential used, for rate-limiter bucketing.
func (e *WorkerExecutor) ProviderFor(agent *Agent, keys RequestKeys) (Provider, string, error) {
	providerName := agent.Provider
	if providerName == "" {
		providerName = e.settings.DefaultProvider
	}
	model := agent.Model
	if model == "" {
		model = e.settings.DefaultModel
	}
	key := keys.KeyFor(providerName)
	p, err := e.factory(providerName, model, keys)
	if err != nil {
		return nil, "", fmt.Errorf("build provider %q: %w", providerName, err)
	}
	return WithRetry(p, RetryLogger(e.logger)), key, nil
}

// Acquire exposes the rate limiter so the review node can share the worker
// budget for its own provider calls.
func (e *WorkerExecutor) Acquire(ctx context.Context, provider, key string) error {
	return e.limiter.Acquire(ctx, provider, key)
}

func (e *WorkerExecutor) publishOutput(taskID string, wr WorkerResult, revision int) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(Event{Type: EventWorkerOutput, Data: WorkerOutputPayload{
		TaskID:        taskID,
		AgentID:       wr.AgentID,
		AgentName:     wr.AgentName,
		OutputPreview: truncateStr(wr.Output, workerOutputPreviewLen),
		Revision:      revision,
		Timestamp:     EventTimestamp(),
	}})
}

func (e *WorkerExecutor) publishLog(taskID string, agent *Agent, level, msg string) {
	if e.bus != nil {
		e.bus.Publish(LogEvent(taskID, agent.ID, agent.Name, level, msg))
	}
}

func (e *WorkerExecutor) publishTelemetry(taskID string, agent *Agent, resp ChatResponse) {
	if e.bus == nil {
		return
	}
	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		return
	}
	model := resp.Model
	if model == "" {
		model = agent.Model
	}
	e.bus.Publish(TelemetryEvent(taskID, agent, model, resp.Usage))
}
