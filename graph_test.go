package foreman_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	foreman "github.com/mkarlsen/foreman"
	memstore "github.com/mkarlsen/foreman/store/memory"
)

// scriptProvider plays both sides of the loop: worker calls get the reply
// function's output, supervisor calls pop the next scripted verdict. The two
// are told apart by the review prompt's fixed closing instruction.
type scriptProvider struct {
	worker   func(system, user string) (string, error)
	verdicts []string

	mu            sync.Mutex
	verdictIdx    int
	workerPrompts []string
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Chat(_ context.Context, req foreman.ChatRequest) (foreman.ChatResponse, error) {
	user := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(user, "Judge whether the combined output") {
		p.mu.Lock()
		i := p.verdictIdx
		if i >= len(p.verdicts) {
			i = len(p.verdicts) - 1
		}
		p.verdictIdx++
		v := p.verdicts[i]
		p.mu.Unlock()
		return foreman.ChatResponse{Content: foreman.TextContent(v)}, nil
	}

	p.mu.Lock()
	p.workerPrompts = append(p.workerPrompts, user)
	p.mu.Unlock()
	if p.worker == nil {
		return foreman.ChatResponse{Content: foreman.TextContent("done")}, nil
	}
	system := req.Messages[0].Content
	out, err := p.worker(system, user)
	if err != nil {
		return foreman.ChatResponse{}, err
	}
	return foreman.ChatResponse{Content: foreman.TextContent(out)}, nil
}

func (p *scriptProvider) prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.workerPrompts...)
}

func newTestEngine(t *testing.T, p foreman.Provider, opts ...foreman.Option) *foreman.Engine {
	t.Helper()
	settings := foreman.DefaultSettings()
	settings.RateLimitRPM = 60000 // keep test rounds out of the limiter
	factory := func(provider, model string, keys foreman.RequestKeys) (foreman.Provider, error) {
		return p, nil
	}
	return foreman.New(settings, foreman.Deps{Repo: memstore.New(), Factory: factory}, opts...)
}

func createWorker(t *testing.T, eng *foreman.Engine, name, systemPrompt string) *foreman.Agent {
	t.Helper()
	a, err := eng.Agents().Create(context.Background(), foreman.AgentCreate{
		Name:         name,
		Role:         foreman.RoleWorker,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		t.Fatalf("create agent %s: %v", name, err)
	}
	return a
}

func waitForStatus(t *testing.T, eng *foreman.Engine, id string, status foreman.TaskStatus) *foreman.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		task, err := eng.Tasks().Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Status == status {
			return task
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s stuck in %s, want %s", id, task.Status, status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const approveVerdict = `{"decision": "approve", "feedback": "looks complete"}`

func TestRunHappyPath(t *testing.T) {
	p := &scriptProvider{
		worker: func(system, _ string) (string, error) {
			if strings.Contains(system, "Alpha") {
				return "alpha output", nil
			}
			return "beta output", nil
		},
		verdicts: []string{approveVerdict},
	}
	eng := newTestEngine(t, p)

	a := createWorker(t, eng, "Agent A", "You are Alpha.")
	b := createWorker(t, eng, "Agent B", "You are Beta.")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "Compare two approaches",
		AssignedAgents: []string{a.ID, b.ID},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()

	got, err := eng.Tasks().Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != foreman.TaskApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	if got.FinalOutput != "alpha output\n\nbeta output" {
		t.Errorf("final output = %q", got.FinalOutput)
	}
	if got.CurrentRevision != 0 {
		t.Errorf("revision = %d, want 0", got.CurrentRevision)
	}
	if len(got.WorkerOutputs) != 2 {
		t.Fatalf("worker outputs = %d, want 2", len(got.WorkerOutputs))
	}
	for _, wo := range got.WorkerOutputs {
		if wo.Revision != 0 {
			t.Errorf("output revision = %d, want 0", wo.Revision)
		}
	}
	if len(got.SupervisorReviews) != 1 || got.SupervisorReviews[0].Decision != foreman.DecisionApprove {
		t.Errorf("reviews = %+v", got.SupervisorReviews)
	}
	for _, id := range []string{a.ID, b.ID} {
		agent, err := eng.Agents().Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get agent: %v", err)
		}
		if agent.Status != foreman.AgentIdle {
			t.Errorf("agent %s status = %s, want idle", agent.Name, agent.Status)
		}
	}
}

func TestRunReviseThenApprove(t *testing.T) {
	p := &scriptProvider{
		worker:   func(_, _ string) (string, error) { return "draft", nil },
		verdicts: []string{`{"decision": "revise", "feedback": "add detail"}`, approveVerdict},
	}
	eng := newTestEngine(t, p)
	a := createWorker(t, eng, "Writer", "")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "Write a summary",
		AssignedAgents: []string{a.ID},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()

	got, _ := eng.Tasks().Get(context.Background(), task.ID)
	if got.Status != foreman.TaskApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	if got.CurrentRevision != 1 {
		t.Errorf("revision = %d, want 1", got.CurrentRevision)
	}
	if len(got.WorkerOutputs) != 2 {
		t.Errorf("worker outputs = %d, want 2 (one per round)", len(got.WorkerOutputs))
	}
	if len(got.SupervisorReviews) != 2 {
		t.Errorf("reviews = %d, want 2", len(got.SupervisorReviews))
	}

	prompts := p.prompts()
	if len(prompts) != 2 {
		t.Fatalf("worker prompts = %d, want 2", len(prompts))
	}
	if strings.Contains(prompts[0], "Revision feedback:") {
		t.Errorf("round 0 prompt carries feedback: %q", prompts[0])
	}
	if !strings.Contains(prompts[1], "Revision feedback: add detail") {
		t.Errorf("round 1 prompt missing feedback: %q", prompts[1])
	}
}

func TestRunRevisionBudgetForcesApproval(t *testing.T) {
	p := &scriptProvider{
		worker:   func(_, _ string) (string, error) { return "never good enough", nil },
		verdicts: []string{`{"decision": "revise", "feedback": "again"}`},
	}
	eng := newTestEngine(t, p)
	a := createWorker(t, eng, "Worker", "")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "Impossible standards",
		AssignedAgents: []string{a.ID},
		MaxRevisions:   1,
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()

	got, _ := eng.Tasks().Get(context.Background(), task.ID)
	if got.Status != foreman.TaskApproved {
		t.Fatalf("status = %s, want forced approval after budget", got.Status)
	}
	if got.CurrentRevision != 1 {
		t.Errorf("revision = %d, want 1", got.CurrentRevision)
	}
	if len(got.SupervisorReviews) != 2 {
		t.Errorf("reviews = %d, want 2", len(got.SupervisorReviews))
	}
	if got.FinalOutput != "never good enough" {
		t.Errorf("final output = %q", got.FinalOutput)
	}
}

func TestRunReject(t *testing.T) {
	p := &scriptProvider{
		worker:   func(_, _ string) (string, error) { return "off topic ramble", nil },
		verdicts: []string{`{"decision": "reject", "feedback": "not relevant to the task"}`},
	}
	eng := newTestEngine(t, p)
	a := createWorker(t, eng, "Worker", "")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "Stay on topic",
		AssignedAgents: []string{a.ID},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()

	got, _ := eng.Tasks().Get(context.Background(), task.ID)
	if got.Status != foreman.TaskRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
	if got.FinalOutput != "not relevant to the task" {
		t.Errorf("final output = %q", got.FinalOutput)
	}
}

func TestRunWorkerErrorIsolation(t *testing.T) {
	p := &scriptProvider{
		worker: func(system, _ string) (string, error) {
			if strings.Contains(system, "FAIL") {
				return "", errors.New("model unavailable")
			}
			return "solid result", nil
		},
		verdicts: []string{approveVerdict},
	}
	eng := newTestEngine(t, p)
	bad := createWorker(t, eng, "Flaky", "FAIL")
	good := createWorker(t, eng, "Steady", "You are reliable.")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "Survive a partial failure",
		AssignedAgents: []string{bad.ID, good.ID},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()

	got, _ := eng.Tasks().Get(context.Background(), task.ID)
	if got.Status != foreman.TaskApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	if len(got.WorkerOutputs) != 2 {
		t.Fatalf("worker outputs = %d, want 2", len(got.WorkerOutputs))
	}
	if !strings.HasPrefix(got.WorkerOutputs[0].Output, "Error: ") {
		t.Errorf("failed worker output = %q, want error text", got.WorkerOutputs[0].Output)
	}
	if got.WorkerOutputs[1].Output != "solid result" {
		t.Errorf("good worker output = %q", got.WorkerOutputs[1].Output)
	}
	for _, id := range []string{bad.ID, good.ID} {
		agent, _ := eng.Agents().Get(context.Background(), id)
		if agent.Status != foreman.AgentIdle {
			t.Errorf("agent %s status = %s, want idle", agent.Name, agent.Status)
		}
	}
}

func TestRunHumanApprovalGate(t *testing.T) {
	p := &scriptProvider{
		worker:   func(_, _ string) (string, error) { return "pending work", nil },
		verdicts: []string{`{"decision": "revise", "feedback": "supervisor is unsure"}`},
	}
	eng := newTestEngine(t, p, foreman.WithApprovals(foreman.NewGateController(time.Minute)))
	a := createWorker(t, eng, "Worker", "")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:           "Needs a human eye",
		AssignedAgents:        []string{a.ID},
		RequiresHumanApproval: true,
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	waitForStatus(t, eng, task.ID, foreman.TaskPendingHumanApproval)

	if _, err := eng.Approve(context.Background(), task.ID,
		foreman.HumanDecision{Decision: foreman.DecisionApprove, Feedback: "overruled, ship it"},
		foreman.RequestKeys{}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	got := waitForStatus(t, eng, task.ID, foreman.TaskApproved)

	// The supervisor's verdict stays; the human decision is appended after it.
	if len(got.SupervisorReviews) != 2 {
		t.Fatalf("reviews = %d, want supervisor + human", len(got.SupervisorReviews))
	}
	if got.SupervisorReviews[0].Decision != foreman.DecisionRevise {
		t.Errorf("supervisor review rewritten: %+v", got.SupervisorReviews[0])
	}
	human := got.SupervisorReviews[1]
	if human.Decision != foreman.DecisionApprove || human.Feedback != "overruled, ship it" {
		t.Errorf("human review = %+v", human)
	}
	if human.Revision != got.SupervisorReviews[0].Revision {
		t.Errorf("human review revision = %d, want %d", human.Revision, got.SupervisorReviews[0].Revision)
	}
	if got.FinalOutput != "pending work" {
		t.Errorf("final output = %q", got.FinalOutput)
	}
}

func TestRunHumanApprovalDirectApply(t *testing.T) {
	p := &scriptProvider{
		worker:   func(_, _ string) (string, error) { return "draft v1", nil },
		verdicts: []string{approveVerdict},
	}
	// No approval controller: the runner exits on suspension and the approve
	// call applies the decision straight to the stored task.
	eng := newTestEngine(t, p)
	a := createWorker(t, eng, "Worker", "")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:           "Direct apply path",
		AssignedAgents:        []string{a.ID},
		RequiresHumanApproval: true,
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()
	waitForStatus(t, eng, task.ID, foreman.TaskPendingHumanApproval)

	got, err := eng.Approve(context.Background(), task.ID,
		foreman.HumanDecision{Decision: foreman.DecisionApprove}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != foreman.TaskApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	if got.FinalOutput != "draft v1" {
		t.Errorf("final output = %q", got.FinalOutput)
	}
}

func TestRunHumanRejectDefaultFeedback(t *testing.T) {
	p := &scriptProvider{
		worker:   func(_, _ string) (string, error) { return "whatever", nil },
		verdicts: []string{approveVerdict},
	}
	eng := newTestEngine(t, p)
	a := createWorker(t, eng, "Worker", "")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:           "Rejected without comment",
		AssignedAgents:        []string{a.ID},
		RequiresHumanApproval: true,
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()
	waitForStatus(t, eng, task.ID, foreman.TaskPendingHumanApproval)

	got, err := eng.Approve(context.Background(), task.ID,
		foreman.HumanDecision{Decision: foreman.DecisionReject}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != foreman.TaskRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
	if got.FinalOutput != "Rejected by human" {
		t.Errorf("final output = %q", got.FinalOutput)
	}
}

func TestRunHumanReviseReschedules(t *testing.T) {
	p := &scriptProvider{
		worker:   func(_, _ string) (string, error) { return "take two", nil },
		verdicts: []string{approveVerdict},
	}
	eng := newTestEngine(t, p)
	a := createWorker(t, eng, "Worker", "")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:           "One more pass",
		AssignedAgents:        []string{a.ID},
		RequiresHumanApproval: true,
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()
	waitForStatus(t, eng, task.ID, foreman.TaskPendingHumanApproval)

	if _, err := eng.Approve(context.Background(), task.ID,
		foreman.HumanDecision{Decision: foreman.DecisionRevise, Feedback: "tighten the intro"},
		foreman.RequestKeys{}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// The rescheduled round runs with the human feedback and suspends again.
	waitForStatus(t, eng, task.ID, foreman.TaskPendingHumanApproval)

	prompts := p.prompts()
	if len(prompts) != 2 {
		t.Fatalf("worker prompts = %d, want 2", len(prompts))
	}
	if !strings.Contains(prompts[1], "Revision feedback: tighten the intro") {
		t.Errorf("revision prompt missing human feedback: %q", prompts[1])
	}

	got, err := eng.Approve(context.Background(), task.ID,
		foreman.HumanDecision{Decision: foreman.DecisionApprove}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("final approve: %v", err)
	}
	if got.Status != foreman.TaskApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	if got.CurrentRevision != 1 {
		t.Errorf("revision = %d, want 1", got.CurrentRevision)
	}
	if got.FinalOutput != "take two" {
		t.Errorf("final output = %q", got.FinalOutput)
	}
}

func TestRunSkipsUnknownAgents(t *testing.T) {
	p := &scriptProvider{
		worker: func(system, _ string) (string, error) {
			if strings.Contains(system, "Alpha") {
				return "alpha output", nil
			}
			return "beta output", nil
		},
		verdicts: []string{approveVerdict},
	}
	eng := newTestEngine(t, p)
	a := createWorker(t, eng, "Agent A", "You are Alpha.")
	b := createWorker(t, eng, "Agent B", "You are Beta.")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "One assignee was deleted meanwhile",
		AssignedAgents: []string{a.ID, "agent-gone", b.ID},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()

	got, _ := eng.Tasks().Get(context.Background(), task.ID)
	if got.Status != foreman.TaskApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	// The unknown ID contributes nothing; the real agents keep their
	// assignment order.
	if len(got.WorkerOutputs) != 2 {
		t.Fatalf("worker outputs = %d, want 2", len(got.WorkerOutputs))
	}
	if got.WorkerOutputs[0].Output != "alpha output" || got.WorkerOutputs[1].Output != "beta output" {
		t.Errorf("outputs out of order: %q, %q", got.WorkerOutputs[0].Output, got.WorkerOutputs[1].Output)
	}
	if got.FinalOutput != "alpha output\n\nbeta output" {
		t.Errorf("final output = %q", got.FinalOutput)
	}
}

func TestRunAllAgentsUnknownStillReviewed(t *testing.T) {
	p := &scriptProvider{verdicts: []string{approveVerdict}}
	eng := newTestEngine(t, p)

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "Every assignee was deleted meanwhile",
		AssignedAgents: []string{"agent-gone-1", "agent-gone-2"},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()

	// Zero valid agents is not a crash: the round reaches review with no
	// outputs and the verdict still routes the task to a terminal state.
	got, _ := eng.Tasks().Get(context.Background(), task.ID)
	if got.Status != foreman.TaskApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	if len(got.WorkerOutputs) != 0 {
		t.Errorf("worker outputs = %d, want 0", len(got.WorkerOutputs))
	}
	if got.FinalOutput != "" {
		t.Errorf("final output = %q, want empty", got.FinalOutput)
	}
	if len(got.SupervisorReviews) != 1 || got.SupervisorReviews[0].Decision != foreman.DecisionApprove {
		t.Errorf("reviews = %+v", got.SupervisorReviews)
	}
	if len(p.prompts()) != 0 {
		t.Errorf("worker prompts = %d, want 0", len(p.prompts()))
	}
}

// toolOnceProvider emits a single tool call on the first worker turn, then
// plain text; supervisor turns approve.
type toolOnceProvider struct {
	mu     sync.Mutex
	called bool
}

func (p *toolOnceProvider) Name() string { return "script" }

func (p *toolOnceProvider) Chat(_ context.Context, req foreman.ChatRequest) (foreman.ChatResponse, error) {
	user := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(user, "Judge whether the combined output") {
		return foreman.ChatResponse{Content: foreman.TextContent(approveVerdict)}, nil
	}
	p.mu.Lock()
	first := !p.called
	p.called = true
	p.mu.Unlock()
	if first {
		return foreman.ChatResponse{ToolCalls: []foreman.ToolCall{{
			ID:   "call-1",
			Name: "record_credentials",
			Args: json.RawMessage(`{}`),
		}}}, nil
	}
	return foreman.ChatResponse{Content: foreman.TextContent("done")}, nil
}

// keyRecordingTool captures the credentials each invocation carries.
type keyRecordingTool struct {
	mu       sync.Mutex
	recorded []foreman.RequestKeys
}

func (k *keyRecordingTool) Definitions() []foreman.ToolDefinition {
	return []foreman.ToolDefinition{{
		Name:        "record_credentials",
		Description: "test-only recorder",
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}}
}

func (k *keyRecordingTool) Execute(_ context.Context, call foreman.ToolInvocation) (foreman.ToolResult, error) {
	k.mu.Lock()
	k.recorded = append(k.recorded, call.Keys)
	k.mu.Unlock()
	return foreman.ToolResult{Content: "recorded"}, nil
}

func (k *keyRecordingTool) keys() []foreman.RequestKeys {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]foreman.RequestKeys(nil), k.recorded...)
}

func TestToolCallsCarryRequestKeys(t *testing.T) {
	p := &toolOnceProvider{}
	rec := &keyRecordingTool{}
	registry := foreman.NewToolRegistry()
	registry.Add(rec)
	eng := newTestEngine(t, p,
		foreman.WithTools(registry),
		foreman.WithServerKeys(foreman.RequestKeys{Anthropic: "server-anthropic"}),
	)
	a := createWorker(t, eng, "Spawner", "")

	_, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "Work that calls a tool",
		AssignedAgents: []string{a.ID},
	}, foreman.RequestKeys{OpenAI: "sk-user-request-key"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()

	got := rec.keys()
	if len(got) != 1 {
		t.Fatalf("tool invocations = %d, want 1", len(got))
	}
	// The invocation carries the run's merged credentials: the caller's BYOK
	// key plus server defaults filling the gaps.
	if got[0].OpenAI != "sk-user-request-key" {
		t.Errorf("invocation OpenAI key = %q, want the request key", got[0].OpenAI)
	}
	if got[0].Anthropic != "server-anthropic" {
		t.Errorf("invocation Anthropic key = %q, want the server default", got[0].Anthropic)
	}
}

func TestApproveValidation(t *testing.T) {
	p := &scriptProvider{verdicts: []string{approveVerdict}}
	eng := newTestEngine(t, p)
	a := createWorker(t, eng, "Worker", "")

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "No approval needed",
		AssignedAgents: []string{a.ID},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	eng.Runners().Wait()

	// Bad decision string.
	if _, err := eng.Approve(context.Background(), task.ID,
		foreman.HumanDecision{Decision: "maybe"}, foreman.RequestKeys{}); err == nil {
		t.Error("invalid decision accepted")
	}
	// Task is approved, not pending.
	_, err = eng.Approve(context.Background(), task.ID,
		foreman.HumanDecision{Decision: foreman.DecisionApprove}, foreman.RequestKeys{})
	if !errors.Is(err, foreman.ErrNotPendingApproval) {
		t.Errorf("err = %v, want ErrNotPendingApproval", err)
	}
	// Unknown task.
	_, err = eng.Approve(context.Background(), "nope",
		foreman.HumanDecision{Decision: foreman.DecisionApprove}, foreman.RequestKeys{})
	if !errors.Is(err, foreman.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
