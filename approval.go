package foreman

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRunSuspended is returned through the graph when a run has durably
// checkpointed itself and the runner should exit. The approve API call
// reconstructs the run later.
var ErrRunSuspended = errors.New("run suspended awaiting human decision")

// ErrGateReleased is returned by the in-process gate when its TTL expires
// before a human decision arrives. The task stays pending_human_approval and
// a later approve call falls back to direct application.
var ErrGateReleased = errors.New("approval gate released")

// defaultGateTTL bounds how long an in-process runner blocks on a human.
const defaultGateTTL = 30 * time.Minute

// Checkpoint captures the FSM state at the suspension point: enough to
// rebuild the routing step with the human's decision injected in place of
// the supervisor's.
type Checkpoint struct {
	TaskID   string         `json:"task_id"`
	Revision int            `json:"revision"`
	Results  []WorkerResult `json:"results"`
	Keys     RequestKeys    `json:"keys"`
	SavedAt  int64          `json:"saved_at"`
}

// CheckpointStore persists suspended run state across process boundaries.
// store/sqlite provides the implementation.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	// Load returns ErrNotFound when no checkpoint exists for the task.
	Load(ctx context.Context, taskID string) (*Checkpoint, error)
	Delete(ctx context.Context, taskID string) error
}

// ApprovalController suspends a run on a pending human verdict and routes
// the eventual decision back to it. Two implementations, one interface:
// the in-process gate blocks the runner on a channel; the durable controller
// persists a checkpoint and lets the runner exit.
type ApprovalController interface {
	// Await is called by the review node after the task has been moved to
	// pending_human_approval. It returns the human decision (in-process) or
	// ErrRunSuspended after checkpointing (durable).
	Await(ctx context.Context, cp Checkpoint) (HumanDecision, error)
	// Deliver routes a human decision to the suspended run. resumed reports
	// whether a suspension accepted it; a non-nil checkpoint means the caller
	// must restart the run itself (durable mode).
	Deliver(taskID string, d HumanDecision) (cp *Checkpoint, resumed bool, err error)
}

// --- In-process controller ---

// gate is a single-use decision channel with an auto-release TTL, so an
// abandoned approval cannot pin a runner goroutine forever.
type gate struct {
	ch       chan HumanDecision
	ttlTimer *time.Timer
}

// GateController blocks each suspended runner on a per-task gate until the
// approve API delivers a decision or the TTL elapses.
type GateController struct {
	mu    sync.Mutex
	ttl   time.Duration
	gates map[string]*gate
}

// NewGateController creates the in-process controller. ttl <= 0 uses the
// 30-minute default.
func NewGateController(ttl time.Duration) *GateController {
	if ttl <= 0 {
		ttl = defaultGateTTL
	}
	return &GateController{ttl: ttl, gates: make(map[string]*gate)}
}

func (c *GateController) Await(ctx context.Context, cp Checkpoint) (HumanDecision, error) {
	g := &gate{ch: make(chan HumanDecision, 1)}
	g.ttlTimer = time.AfterFunc(c.ttl, func() { c.release(cp.TaskID, g) })

	c.mu.Lock()
	if old, ok := c.gates[cp.TaskID]; ok {
		old.ttlTimer.Stop()
		close(old.ch)
	}
	c.gates[cp.TaskID] = g
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.release(cp.TaskID, g)
		return HumanDecision{}, ctx.Err()
	case d, ok := <-g.ch:
		if !ok {
			return HumanDecision{}, ErrGateReleased
		}
		return d, nil
	}
}

func (c *GateController) Deliver(taskID string, d HumanDecision) (*Checkpoint, bool, error) {
	c.mu.Lock()
	g, ok := c.gates[taskID]
	if ok {
		delete(c.gates, taskID)
	}
	c.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	g.ttlTimer.Stop()
	g.ch <- d
	return nil, true, nil
}

// release drops the gate if it is still the registered one, closing the
// channel so a blocked Await wakes up.
func (c *GateController) release(taskID string, g *gate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.gates[taskID]; ok && cur == g {
		delete(c.gates, taskID)
		close(g.ch)
	}
}

// --- Durable controller ---

// DurableController persists checkpoints so a suspension survives process
// restarts. The runner exits after Await; Deliver hands the checkpoint back
// to the engine, which restarts the run with the human decision injected.
type DurableController struct {
	store CheckpointStore
}

// NewDurableController creates the checkpoint-backed controller.
func NewDurableController(store CheckpointStore) *DurableController {
	return &DurableController{store: store}
}

func (c *DurableController) Await(ctx context.Context, cp Checkpoint) (HumanDecision, error) {
	cp.SavedAt = NowUnix()
	if err := c.store.Save(ctx, cp); err != nil {
		return HumanDecision{}, err
	}
	return HumanDecision{}, ErrRunSuspended
}

func (c *DurableController) Deliver(taskID string, d HumanDecision) (*Checkpoint, bool, error) {
	ctx := context.Background()
	cp, err := c.store.Load(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if err := c.store.Delete(ctx, taskID); err != nil {
		return nil, false, err
	}
	return cp, true, nil
}

var (
	_ ApprovalController = (*GateController)(nil)
	_ ApprovalController = (*DurableController)(nil)
)
