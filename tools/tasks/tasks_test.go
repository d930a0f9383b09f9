package tasks

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	foreman "github.com/mkarlsen/foreman"
	memstore "github.com/mkarlsen/foreman/store/memory"
)

type noopScheduler struct{}

func (noopScheduler) Schedule(context.Context, foreman.TaskJob) error { return nil }

func newEngine(t *testing.T, allowAuto bool) *foreman.Engine {
	t.Helper()
	settings := foreman.DefaultSettings()
	settings.AllowAutoTaskCreation = allowAuto
	factory := func(provider, model string, keys foreman.RequestKeys) (foreman.Provider, error) {
		return nil, nil
	}
	eng := foreman.New(settings, foreman.Deps{Repo: memstore.New(), Factory: factory})
	eng.SetScheduler(noopScheduler{})
	return eng
}

func TestCreateTaskLinksLineage(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, true)
	parent, err := eng.Tasks().Create(ctx, foreman.TaskCreate{
		Description:    "root work",
		AssignedAgents: []string{"a1"},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}

	var gotKeys bool
	tool := New(eng.Tasks(), func() foreman.RequestKeys {
		gotKeys = true
		return foreman.RequestKeys{Anthropic: "byok"}
	})

	res, err := tool.Execute(ctx, foreman.ToolInvocation{
		TaskID:  parent.ID,
		AgentID: "a1",
		Name:    "create_task",
		Args:    json.RawMessage(`{"description":"follow-up research","assigned_agents":["a1"]}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Content, "Created follow-up task ") {
		t.Fatalf("result = %q", res.Content)
	}
	if !strings.Contains(res.Content, "(depth=1)") {
		t.Errorf("depth missing: %q", res.Content)
	}
	if !gotKeys {
		t.Error("keys func not consulted")
	}

	parent, err = eng.Tasks().Get(ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(parent.ChildTaskIDs) != 1 {
		t.Errorf("parent children = %v", parent.ChildTaskIDs)
	}
}

type captureScheduler struct {
	jobs []foreman.TaskJob
}

func (s *captureScheduler) Schedule(_ context.Context, job foreman.TaskJob) error {
	s.jobs = append(s.jobs, job)
	return nil
}

func TestCreateTaskInheritsInvocationKeys(t *testing.T) {
	ctx := context.Background()
	settings := foreman.DefaultSettings()
	settings.AllowAutoTaskCreation = true
	factory := func(provider, model string, keys foreman.RequestKeys) (foreman.Provider, error) {
		return nil, nil
	}
	eng := foreman.New(settings, foreman.Deps{Repo: memstore.New(), Factory: factory})
	sched := &captureScheduler{}
	eng.SetScheduler(sched)

	parent, err := eng.Tasks().Create(ctx, foreman.TaskCreate{
		Description:    "root work",
		AssignedAgents: []string{"a1"},
	}, foreman.RequestKeys{OpenAI: "sk-user-request-key"})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}

	tool := New(eng.Tasks(), func() foreman.RequestKeys {
		return foreman.RequestKeys{Anthropic: "server-anthropic"}
	})
	if _, err := tool.Execute(ctx, foreman.ToolInvocation{
		TaskID:  parent.ID,
		AgentID: "a1",
		Name:    "create_task",
		Args:    json.RawMessage(`{"description":"follow-up research"}`),
		Keys:    foreman.RequestKeys{OpenAI: "sk-user-request-key"},
	}); err != nil {
		t.Fatal(err)
	}

	if len(sched.jobs) != 2 {
		t.Fatalf("scheduled jobs = %d, want parent + child", len(sched.jobs))
	}
	// The spawned child runs with the caller's BYOK key, with the fallback
	// filling providers the invocation left blank.
	child := sched.jobs[1]
	if child.Keys.OpenAI != "sk-user-request-key" {
		t.Errorf("child OpenAI key = %q, want the invocation key", child.Keys.OpenAI)
	}
	if child.Keys.Anthropic != "server-anthropic" {
		t.Errorf("child Anthropic key = %q, want the fallback", child.Keys.Anthropic)
	}
}

func TestCreateTaskDenialIsContentNotError(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, false)
	parent, err := eng.Tasks().Create(ctx, foreman.TaskCreate{
		Description:    "root work",
		AssignedAgents: []string{"a1"},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}

	tool := New(eng.Tasks(), nil)
	res, err := tool.Execute(ctx, foreman.ToolInvocation{
		TaskID:  parent.ID,
		AgentID: "a1",
		Name:    "create_task",
		Args:    json.RawMessage(`{"description":"not allowed"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != "" {
		t.Errorf("denial reported as error: %q", res.Error)
	}
	if !strings.HasPrefix(res.Content, "Cannot create task: ") {
		t.Errorf("result = %q", res.Content)
	}
}

func TestCreateTaskRequiresDescription(t *testing.T) {
	eng := newEngine(t, true)
	tool := New(eng.Tasks(), nil)
	res, err := tool.Execute(context.Background(), foreman.ToolInvocation{
		Name: "create_task",
		Args: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == "" {
		t.Error("empty description accepted")
	}
}
