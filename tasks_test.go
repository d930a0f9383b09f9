package foreman_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	foreman "github.com/mkarlsen/foreman"
	memstore "github.com/mkarlsen/foreman/store/memory"
)

// noopScheduler keeps created tasks pending so lineage tests can inspect the
// tree without runs mutating it.
type noopScheduler struct{}

func (noopScheduler) Schedule(context.Context, foreman.TaskJob) error { return nil }

func newLineageEngine(t *testing.T, settings foreman.Settings) *foreman.Engine {
	t.Helper()
	factory := func(provider, model string, keys foreman.RequestKeys) (foreman.Provider, error) {
		return &scriptProvider{verdicts: []string{approveVerdict}}, nil
	}
	eng := foreman.New(settings, foreman.Deps{Repo: memstore.New(), Factory: factory})
	eng.SetScheduler(noopScheduler{})
	return eng
}

func lineageSettings() foreman.Settings {
	s := foreman.DefaultSettings()
	s.MaxTaskDepth = 2
	s.MaxChildTasksPerTask = 2
	s.MaxTotalAutoTasks = 3
	return s
}

func TestTaskCreateValidation(t *testing.T) {
	eng := newLineageEngine(t, lineageSettings())
	if _, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{Description: "   "}, foreman.RequestKeys{}); err == nil {
		t.Error("blank description accepted")
	}
}

func TestTaskCreateNormalizesDescription(t *testing.T) {
	eng := newLineageEngine(t, lineageSettings())
	// "e" + combining acute accent composes to "é" under NFC.
	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "  résumé review  ",
		AssignedAgents: []string{"a1"},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Description != "résumé review" {
		t.Errorf("description = %q", task.Description)
	}
}

func TestTaskCreateDefaultsToAllWorkers(t *testing.T) {
	eng := newLineageEngine(t, lineageSettings())
	w1, _ := eng.Agents().Create(context.Background(), foreman.AgentCreate{Name: "W1", Role: foreman.RoleWorker})
	w2, _ := eng.Agents().Create(context.Background(), foreman.AgentCreate{Name: "W2", Role: foreman.RoleWorker})
	_, _ = eng.Agents().Create(context.Background(), foreman.AgentCreate{Name: "Judge", Role: foreman.RoleSupervisor})

	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{Description: "use everyone"}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(task.AssignedAgentIDs) != 2 {
		t.Fatalf("assigned = %v, want the two workers", task.AssignedAgentIDs)
	}
	assigned := strings.Join(task.AssignedAgentIDs, ",")
	if !strings.Contains(assigned, w1.ID) || !strings.Contains(assigned, w2.ID) {
		t.Errorf("assigned = %v", task.AssignedAgentIDs)
	}
}

func TestTaskLineageLinksParentAndChild(t *testing.T) {
	eng := newLineageEngine(t, lineageSettings())
	parent, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "root",
		AssignedAgents: []string{"a1"},
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}

	child, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    "child",
		AssignedAgents: []string{"a1"},
		ParentTaskID:   parent.ID,
		SpawnedByAgent: "a1",
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.Depth != 1 || child.ParentTaskID != parent.ID {
		t.Errorf("child lineage = depth %d parent %q", child.Depth, child.ParentTaskID)
	}
	if child.CreatedBy != "agent" || child.SpawnedByAgent != "a1" {
		t.Errorf("child provenance = %q / %q", child.CreatedBy, child.SpawnedByAgent)
	}
	if !child.AutoCreated() {
		t.Error("child should count as auto-created")
	}

	p, _ := eng.Tasks().Get(context.Background(), parent.ID)
	if len(p.ChildTaskIDs) != 1 || p.ChildTaskIDs[0] != child.ID {
		t.Errorf("parent children = %v", p.ChildTaskIDs)
	}
}

func TestTaskLineageRules(t *testing.T) {
	assertRule := func(t *testing.T, err error, rule string) {
		t.Helper()
		var ae *foreman.AutoTaskError
		if !errors.As(err, &ae) {
			t.Fatalf("err = %v, want AutoTaskError", err)
		}
		if ae.Rule != rule {
			t.Errorf("rule = %q, want %q", ae.Rule, rule)
		}
	}

	t.Run("disabled", func(t *testing.T) {
		s := lineageSettings()
		s.AllowAutoTaskCreation = false
		eng := newLineageEngine(t, s)
		parent := mustCreateWith(t, eng, "root", "")
		_, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
			Description:    "child",
			AssignedAgents: []string{"a1"},
			ParentTaskID:   parent.ID,
		}, foreman.RequestKeys{})
		assertRule(t, err, "auto_task_creation_disabled")
	})

	t.Run("parent not found", func(t *testing.T) {
		eng := newLineageEngine(t, lineageSettings())
		_, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
			Description:    "orphan",
			AssignedAgents: []string{"a1"},
			ParentTaskID:   "missing",
		}, foreman.RequestKeys{})
		assertRule(t, err, "parent_not_found")
	})

	t.Run("max depth", func(t *testing.T) {
		eng := newLineageEngine(t, lineageSettings()) // depth limit 2
		root := mustCreateWith(t, eng, "root", "")
		c1 := mustCreateWith(t, eng, "depth 1", root.ID)
		c2 := mustCreateWith(t, eng, "depth 2", c1.ID)
		_, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
			Description:    "depth 3",
			AssignedAgents: []string{"a1"},
			ParentTaskID:   c2.ID,
		}, foreman.RequestKeys{})
		assertRule(t, err, "max_task_depth")
	})

	t.Run("max children per parent", func(t *testing.T) {
		eng := newLineageEngine(t, lineageSettings()) // 2 children max
		root := mustCreateWith(t, eng, "root", "")
		mustCreateWith(t, eng, "c1", root.ID)
		mustCreateWith(t, eng, "c2", root.ID)
		_, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
			Description:    "c3",
			AssignedAgents: []string{"a1"},
			ParentTaskID:   root.ID,
		}, foreman.RequestKeys{})
		assertRule(t, err, "max_child_tasks")
	})

	t.Run("max total auto tasks", func(t *testing.T) {
		s := lineageSettings()
		s.MaxChildTasksPerTask = 10
		s.MaxTotalAutoTasks = 2
		eng := newLineageEngine(t, s)
		root := mustCreateWith(t, eng, "root", "")
		mustCreateWith(t, eng, "c1", root.ID)
		mustCreateWith(t, eng, "c2", root.ID)
		_, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
			Description:    "c3",
			AssignedAgents: []string{"a1"},
			ParentTaskID:   root.ID,
		}, foreman.RequestKeys{})
		assertRule(t, err, "max_total_auto_tasks")
	})
}

func mustCreateWith(t *testing.T, eng *foreman.Engine, desc, parentID string) *foreman.Task {
	t.Helper()
	task, err := eng.Tasks().Create(context.Background(), foreman.TaskCreate{
		Description:    desc,
		AssignedAgents: []string{"a1"},
		ParentTaskID:   parentID,
	}, foreman.RequestKeys{})
	if err != nil {
		t.Fatalf("create %q: %v", desc, err)
	}
	return task
}

func TestMutateTerminalStatusIsFinal(t *testing.T) {
	eng := newLineageEngine(t, lineageSettings())
	task := mustCreateWith(t, eng, "doomed", "")

	eng.Tasks().MarkFailed(context.Background(), task.ID, "engine exploded")
	got, _ := eng.Tasks().Get(context.Background(), task.ID)
	if got.Status != foreman.TaskFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.FinalOutput != "engine exploded" {
		t.Errorf("final output = %q", got.FinalOutput)
	}

	_, err := eng.Tasks().SetStatus(context.Background(), task.ID, foreman.TaskRunning)
	if err == nil {
		t.Fatal("terminal task left its sink status")
	}
	if !strings.Contains(err.Error(), "terminal statuses are final") {
		t.Errorf("err = %v", err)
	}

	// Mutations that do not change the status are still allowed.
	if _, err := eng.Tasks().SetStatus(context.Background(), task.ID, foreman.TaskFailed); err != nil {
		t.Errorf("same-status mutation rejected: %v", err)
	}
}

func TestMarkFailedAppendsExecutionLog(t *testing.T) {
	repo := memstore.New()
	factory := func(provider, model string, keys foreman.RequestKeys) (foreman.Provider, error) {
		return &scriptProvider{}, nil
	}
	eng := foreman.New(foreman.DefaultSettings(), foreman.Deps{Repo: repo, Factory: factory})
	eng.SetScheduler(noopScheduler{})

	task := mustCreateWith(t, eng, "will fail", "")
	eng.Tasks().MarkFailed(context.Background(), task.ID, "timed out")

	logs, err := repo.Logs().ListByTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].Level != "error" || logs[0].Message != "timed out" {
		t.Errorf("log entry = %+v", logs[0])
	}
}
