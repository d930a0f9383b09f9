package foreman

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// graphNode enumerates the fixed orchestration topology:
//
//	dispatch_workers -> review -> {approve | revise | reject}
//	revise -> dispatch_workers
//
// approve and reject are absorbing. The topology is hand-rolled on purpose:
// five nodes do not need a graph framework.
type graphNode string

const (
	nodeDispatch graphNode = "dispatch_workers"
	nodeReview   graphNode = "review"
	nodeRoute    graphNode = "route"
	nodeApprove  graphNode = "approve"
	nodeReject   graphNode = "reject"
	nodeRevise   graphNode = "revise"
)

// runState is the transient per-run state threaded between nodes. The
// repository stays authoritative: runState only carries what the next node
// needs (this round's results and the verdict to route on).
type runState struct {
	revision int
	feedback string
	results  []WorkerResult
	review   *ReviewResult
}

// Orchestrator drives a task through the graph. One background runner per
// live task calls Run; the dispatch node fans out further.
type Orchestrator struct {
	tasks      *TaskService
	agents     *AgentService
	executor   *WorkerExecutor
	supervisor *Supervisor
	approvals  ApprovalController
	bus        *EventBus
	settings   Settings
	logger     *slog.Logger
	tracer     Tracer
}

// NewOrchestrator assembles the FSM. approvals may be nil (direct-apply
// fallback); logger and tracer may be nil.
func NewOrchestrator(tasks *TaskService, agents *AgentService, executor *WorkerExecutor, supervisor *Supervisor, approvals ApprovalController, bus *EventBus, settings Settings, logger *slog.Logger, tracer Tracer) *Orchestrator {
	if logger == nil {
		logger = nopLogger
	}
	return &Orchestrator{
		tasks:      tasks,
		agents:     agents,
		executor:   executor,
		supervisor: supervisor,
		approvals:  approvals,
		bus:        bus,
		settings:   settings,
		logger:     logger,
		tracer:     tracer,
	}
}

// Run executes the graph for one task under the global deadline. It is the
// entry point for background runners and the queue worker. Suspensions are
// not errors: the runner exits and the task stays pending_human_approval.
func (o *Orchestrator) Run(ctx context.Context, job TaskJob) {
	ctx, cancel := context.WithTimeout(ctx, o.settings.GraphTimeout)
	defer cancel()

	ctx, span := startSpan(ctx, o.tracer, "task.run", StringAttr("task", job.TaskID))
	defer endSpan(span)

	task, err := o.tasks.Get(ctx, job.TaskID)
	if err != nil {
		o.logger.Error("run aborted, task not found", "task", job.TaskID, "error", err)
		return
	}
	if task.Status.Terminal() {
		o.logger.Warn("run skipped, task already terminal", "task", job.TaskID, "status", task.Status)
		return
	}

	if _, err := o.tasks.SetStatus(ctx, job.TaskID, TaskRunning); err != nil {
		o.logger.Error("set task running failed", "task", job.TaskID, "error", err)
		return
	}

	st := &runState{
		revision: task.CurrentRevision,
		feedback: lastReviewFeedback(task),
	}
	o.finish(ctx, span, job.TaskID, o.loop(ctx, job, st, nodeDispatch))
}

// ResumeRun continues a durably checkpointed run with the human decision
// injected in place of the supervisor's verdict.
func (o *Orchestrator) ResumeRun(ctx context.Context, cp Checkpoint, d HumanDecision) {
	ctx, cancel := context.WithTimeout(ctx, o.settings.GraphTimeout)
	defer cancel()

	ctx, span := startSpan(ctx, o.tracer, "task.resume", StringAttr("task", cp.TaskID))
	defer endSpan(span)

	// The human verdict is appended as its own review at the same revision;
	// the supervisor's stored review is never rewritten.
	_, err := o.tasks.Mutate(ctx, cp.TaskID, func(t *Task) error {
		t.SupervisorReviews = append(t.SupervisorReviews, SupervisorReview{
			Decision:  d.Decision,
			Feedback:  d.Feedback,
			Revision:  cp.Revision,
			CreatedAt: NowUnix(),
		})
		return nil
	})
	if err != nil {
		o.logger.Error("resume failed to record human review", "task", cp.TaskID, "error", err)
		return
	}

	st := &runState{
		revision: cp.Revision,
		results:  cp.Results,
		review:   &ReviewResult{Decision: d.Decision, Feedback: d.Feedback},
	}
	o.finish(ctx, span, cp.TaskID, o.loop(ctx, TaskJob{TaskID: cp.TaskID, Keys: cp.Keys}, st, nodeRoute))
}

// finish maps the loop outcome onto the task: suspensions exit quietly,
// deadline hits mark the task failed with a dated message, anything else
// unexpected is a fatal engine error.
func (o *Orchestrator) finish(ctx context.Context, span Span, taskID string, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrRunSuspended) || errors.Is(err, ErrGateReleased):
		o.logger.Info("run suspended for human approval", "task", taskID)
		return
	case errors.Is(err, context.DeadlineExceeded):
		spanError(span, err)
		reason := fmt.Sprintf("Task timed out after %s at %s", o.settings.GraphTimeout, time.Now().UTC().Format(time.RFC3339))
		// The run context is dead; use a fresh one so the failure persists.
		o.tasks.MarkFailed(context.WithoutCancel(ctx), taskID, reason)
	default:
		spanError(span, err)
		o.logger.Error("task run failed", "task", taskID, "error", err)
		o.tasks.MarkFailed(context.WithoutCancel(ctx), taskID, "Task failed: "+err.Error())
	}
}

// loop walks the graph until a terminal node or an error.
func (o *Orchestrator) loop(ctx context.Context, job TaskJob, st *runState, node graphNode) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in graph node %s: %v", node, r)
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch node {
		case nodeDispatch:
			if err := o.dispatchNode(ctx, job, st); err != nil {
				return err
			}
			node = nodeReview
		case nodeReview:
			next, err := o.reviewNode(ctx, job, st)
			if err != nil {
				return err
			}
			node = next
		case nodeRoute:
			node = o.route(ctx, job.TaskID, st)
		case nodeApprove:
			return o.approveNode(ctx, job.TaskID, st)
		case nodeReject:
			return o.rejectNode(ctx, job.TaskID, st)
		case nodeRevise:
			if err := o.reviseNode(ctx, job.TaskID, st); err != nil {
				return err
			}
			node = nodeDispatch
		default:
			return fmt.Errorf("unknown graph node %q", node)
		}
	}
}

// dispatchNode fans the workers out, appends this round's outputs to the
// task atomically, and moves it under review.
func (o *Orchestrator) dispatchNode(ctx context.Context, job TaskJob, st *runState) error {
	task, err := o.tasks.Get(ctx, job.TaskID)
	if err != nil {
		return err
	}

	st.results = o.executor.Execute(ctx, job.TaskID, task.AssignedAgentIDs, st.revision, st.feedback, job.Keys)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := NowUnix()
	t, err := o.tasks.Mutate(ctx, job.TaskID, func(t *Task) error {
		for _, wr := range st.results {
			t.WorkerOutputs = append(t.WorkerOutputs, WorkerOutput{
				AgentID:   wr.AgentID,
				AgentName: wr.AgentName,
				Output:    wr.Output,
				Revision:  st.revision,
				CreatedAt: now,
			})
		}
		t.Status = TaskUnderReview
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist worker outputs: %w", err)
	}
	o.publish(TaskUpdateEvent(t))
	return nil
}

// reviewNode asks the supervisor for a verdict, persists it, and either
// proceeds to routing or suspends for human approval.
func (o *Orchestrator) reviewNode(ctx context.Context, job TaskJob, st *runState) (graphNode, error) {
	task, err := o.tasks.Get(ctx, job.TaskID)
	if err != nil {
		return "", err
	}

	judge, key, err := o.judgeProvider(ctx, task, job.Keys)
	if err != nil {
		return "", fmt.Errorf("build supervisor provider: %w", err)
	}
	if err := o.executor.Acquire(ctx, judge.Name(), key); err != nil {
		return "", err
	}

	review := o.supervisor.Review(ctx, judge, task.Description, st.results, st.revision, task.MaxRevisions)
	st.review = &review

	t, err := o.tasks.Mutate(ctx, job.TaskID, func(t *Task) error {
		t.SupervisorReviews = append(t.SupervisorReviews, SupervisorReview{
			Decision:  review.Decision,
			Feedback:  review.Feedback,
			Revision:  st.revision,
			CreatedAt: NowUnix(),
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("persist review: %w", err)
	}
	o.publish(Event{Type: EventSupervisorReview, Data: SupervisorReviewPayload{
		TaskID:    t.ID,
		Decision:  review.Decision,
		Feedback:  review.Feedback,
		Revision:  st.revision,
		Timestamp: EventTimestamp(),
	}})

	if !task.RequiresHumanApproval {
		return nodeRoute, nil
	}
	return o.suspendForHuman(ctx, job, st, review)
}

// suspendForHuman parks the run on the approval controller. On resume the
// human decision replaces the supervisor's for routing and is appended as
// its own review.
func (o *Orchestrator) suspendForHuman(ctx context.Context, job TaskJob, st *runState, review ReviewResult) (graphNode, error) {
	t, err := o.tasks.SetStatus(ctx, job.TaskID, TaskPendingHumanApproval)
	if err != nil {
		return "", err
	}
	o.publish(Event{Type: EventHumanApprovalRequired, Data: HumanApprovalPayload{
		TaskID:    t.ID,
		Revision:  st.revision,
		Decision:  review.Decision,
		Feedback:  review.Feedback,
		Timestamp: EventTimestamp(),
	}})

	if o.approvals == nil {
		// No controller: the approve API applies the decision directly.
		return "", ErrRunSuspended
	}

	decision, err := o.approvals.Await(ctx, Checkpoint{
		TaskID:   job.TaskID,
		Revision: st.revision,
		Results:  st.results,
		Keys:     job.Keys,
	})
	if err != nil {
		return "", err
	}

	_, err = o.tasks.Mutate(ctx, job.TaskID, func(t *Task) error {
		t.SupervisorReviews = append(t.SupervisorReviews, SupervisorReview{
			Decision:  decision.Decision,
			Feedback:  decision.Feedback,
			Revision:  st.revision,
			CreatedAt: NowUnix(),
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("persist human review: %w", err)
	}
	st.review = &ReviewResult{Decision: decision.Decision, Feedback: decision.Feedback}
	return nodeRoute, nil
}

// route is the routing predicate over the current verdict.
func (o *Orchestrator) route(ctx context.Context, taskID string, st *runState) graphNode {
	if st.review == nil {
		// Defensive: nothing to judge with, close the task out.
		o.logger.Warn("routing with no review, defaulting to approve", "task", taskID)
		return nodeApprove
	}
	switch st.review.Decision {
	case DecisionApprove:
		return nodeApprove
	case DecisionReject:
		return nodeReject
	case DecisionRevise:
		task, err := o.tasks.Get(ctx, taskID)
		maxRevisions := o.settings.MaxRevisions
		if err == nil {
			maxRevisions = task.MaxRevisions
		}
		if st.revision >= maxRevisions {
			// Budget burned: forced closure.
			o.logger.Info("revision budget exhausted, forcing approval", "task", taskID, "revision", st.revision)
			return nodeApprove
		}
		return nodeRevise
	default:
		return nodeApprove
	}
}

// approveNode finalizes the task with this round's outputs joined by blank
// lines, in assignment order.
func (o *Orchestrator) approveNode(ctx context.Context, taskID string, st *runState) error {
	t, err := o.tasks.Mutate(ctx, taskID, func(t *Task) error {
		t.Status = TaskApproved
		t.FinalOutput = joinResults(st.results)
		return nil
	})
	if err != nil {
		return err
	}
	o.publish(TaskUpdateEvent(t))
	return nil
}

// rejectNode finalizes the task with the supervisor's reasoning.
func (o *Orchestrator) rejectNode(ctx context.Context, taskID string, st *runState) error {
	feedback := "Rejected by supervisor"
	if st.review != nil && st.review.Feedback != "" {
		feedback = st.review.Feedback
	}
	t, err := o.tasks.Mutate(ctx, taskID, func(t *Task) error {
		t.Status = TaskRejected
		t.FinalOutput = feedback
		return nil
	})
	if err != nil {
		return err
	}
	o.publish(TaskUpdateEvent(t))
	return nil
}

// reviseNode opens the next round: bump the revision, clear the transient
// results (persisted history is untouched), and announce the new round.
func (o *Orchestrator) reviseNode(ctx context.Context, taskID string, st *runState) error {
	t, err := o.tasks.Mutate(ctx, taskID, func(t *Task) error {
		t.CurrentRevision++
		t.Status = TaskRevision
		return nil
	})
	if err != nil {
		return err
	}
	st.revision = t.CurrentRevision
	if st.review != nil {
		st.feedback = st.review.Feedback
	}
	st.results = nil
	st.review = nil

	msg := fmt.Sprintf("Revision %d requested. Re-dispatching workers.", t.CurrentRevision)
	o.tasks.AppendLog(ctx, taskID, "info", msg)
	o.publish(LogEvent(taskID, "", "", "info", msg))
	o.publish(TaskUpdateEvent(t))
	return nil
}

// judgeProvider builds the supervisor's model handle using the first
// assigned worker's provider and model, so a single BYOK credential covers
// the whole loop.
func (o *Orchestrator) judgeProvider(ctx context.Context, task *Task, keys RequestKeys) (Provider, string, error) {
	var agent *Agent
	for _, id := range task.AssignedAgentIDs {
		a, err := o.agents.Get(ctx, id)
		if err == nil {
			agent = a
			break
		}
	}
	if agent == nil {
		agent = &Agent{Provider: o.settings.DefaultProvider, Model: o.settings.DefaultModel}
	}
	return o.executor.ProviderFor(agent, keys)
}

func (o *Orchestrator) publish(ev Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}

// joinResults concatenates this round's outputs with blank-line separators.
func joinResults(results []WorkerResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Output)
	}
	return joinNonEmpty(parts)
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if out == "" {
			out = p
			continue
		}
		out += "\n\n" + p
	}
	return out
}

// lastReviewFeedback returns the feedback of the most recent review, used to
// seed the dispatch prompt when a run restarts mid-revision.
func lastReviewFeedback(t *Task) string {
	if len(t.SupervisorReviews) == 0 {
		return ""
	}
	return t.SupervisorReviews[len(t.SupervisorReviews)-1].Feedback
}
