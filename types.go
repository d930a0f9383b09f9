package foreman

import (
	"encoding/json"
	"strings"
	"time"
)

// --- Domain types (persisted records) ---

// AgentRole distinguishes agents that produce output from the one that judges it.
type AgentRole string

const (
	RoleWorker     AgentRole = "worker"
	RoleSupervisor AgentRole = "supervisor"
)

// AgentStatus is the live dispatch state of an agent.
type AgentStatus string

const (
	AgentIdle  AgentStatus = "idle"
	AgentBusy  AgentStatus = "busy"
	AgentError AgentStatus = "error"
)

type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Role         AgentRole   `json:"role"`
	SystemPrompt string      `json:"system_prompt"`
	Provider     string      `json:"provider,omitempty"`
	Model        string      `json:"model,omitempty"`
	Status       AgentStatus `json:"status"`
	CreatedAt    int64       `json:"created_at"`
}

// TaskStatus tracks a task through the orchestration graph.
type TaskStatus string

const (
	TaskPending              TaskStatus = "pending"
	TaskRunning              TaskStatus = "running"
	TaskUnderReview          TaskStatus = "under_review"
	TaskRevision             TaskStatus = "revision"
	TaskApproved             TaskStatus = "approved"
	TaskRejected             TaskStatus = "rejected"
	TaskFailed               TaskStatus = "failed"
	TaskPendingHumanApproval TaskStatus = "pending_human_approval"
)

// Terminal reports whether the status is a sink: once set it never changes.
func (s TaskStatus) Terminal() bool {
	return s == TaskApproved || s == TaskRejected || s == TaskFailed
}

// Decision is a supervisor (or human) verdict on a round of worker outputs.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionRevise  Decision = "revise"
	DecisionReject  Decision = "reject"
)

// ValidDecision reports whether s is one of the three known verdicts.
func ValidDecision(s string) bool {
	switch Decision(s) {
	case DecisionApprove, DecisionRevise, DecisionReject:
		return true
	}
	return false
}

// Task is the unit of work driven through the orchestration graph.
// WorkerOutputs and SupervisorReviews are append-only: entries are never
// mutated or reordered once persisted.
type Task struct {
	ID                    string             `json:"id"`
	Description           string             `json:"description"`
	Status                TaskStatus         `json:"status"`
	AssignedAgentIDs      []string           `json:"assigned_agents"`
	WorkerOutputs         []WorkerOutput     `json:"worker_outputs"`
	SupervisorReviews     []SupervisorReview `json:"supervisor_reviews"`
	CurrentRevision       int                `json:"current_revision"`
	MaxRevisions          int                `json:"max_revisions"`
	FinalOutput           string             `json:"final_output"`
	RequiresHumanApproval bool               `json:"requires_human_approval"`

	// Lineage. Depth is 0 for root tasks and parent.Depth+1 otherwise.
	ParentTaskID   string   `json:"parent_task_id,omitempty"`
	Depth          int      `json:"depth"`
	ChildTaskIDs   []string `json:"child_task_ids"`
	SpawnedByAgent string   `json:"spawned_by_agent,omitempty"`
	CreatedBy      string   `json:"created_by"` // "user" or "agent"

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// AutoCreated reports whether the task was spawned by an agent rather than a caller.
func (t *Task) AutoCreated() bool { return t.CreatedBy != "" && t.CreatedBy != "user" }

// WorkerOutput is one worker's answer for one revision round. AgentName is a
// denormalized snapshot so deleting the agent keeps history readable.
type WorkerOutput struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Output    string `json:"output"`
	Revision  int    `json:"revision"`
	CreatedAt int64  `json:"created_at"`
}

// SupervisorReview is one verdict over the outputs of one revision round.
// Human override decisions are appended as additional reviews at the same
// revision; persisted reviews are never rewritten.
type SupervisorReview struct {
	Decision  Decision `json:"decision"`
	Feedback  string   `json:"feedback"`
	Revision  int      `json:"revision"`
	CreatedAt int64    `json:"created_at"`
}

// ExecutionLogEntry is a persisted line of task history (failures, round
// transitions). The event bus carries the live copy; this is the durable one.
type ExecutionLogEntry struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

// --- Run-state types (transient, per graph execution) ---

// WorkerResult is one worker's contribution to the current round.
type WorkerResult struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Output    string `json:"output"`
}

// ReviewResult is the parsed supervisor verdict for the current round.
type ReviewResult struct {
	Decision Decision `json:"decision"`
	Feedback string   `json:"feedback"`
}

// HumanDecision is the payload of a human approval call.
type HumanDecision struct {
	Decision Decision `json:"decision"`
	Feedback string   `json:"feedback"`
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type ChatRequest struct {
	Messages  []ChatMessage    `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

type ChatResponse struct {
	Content   Content    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	Model     string     `json:"model,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- Content ---

// Block is one element of a structured model response.
type Block struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Content is a model response body: either plain text or an ordered sequence
// of typed blocks. Providers normalize their wire formats into this.
type Content struct {
	Text   string  `json:"text,omitempty"`
	Blocks []Block `json:"blocks,omitempty"`
}

// TextContent wraps a plain string response.
func TextContent(s string) Content { return Content{Text: s} }

// BlockContent wraps a block-sequence response.
func BlockContent(blocks ...Block) Content { return Content{Blocks: blocks} }

// AsText flattens the content to a single string: the plain text when set,
// otherwise the block texts joined in order.
func (c Content) AsText() string {
	if len(c.Blocks) == 0 {
		return c.Text
	}
	var b strings.Builder
	for _, blk := range c.Blocks {
		b.WriteString(blk.Text)
	}
	return b.String()
}

// Empty reports whether the content carries no text at all.
func (c Content) Empty() bool { return c.AsText() == "" }

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}

// --- Events ---

// EventType enumerates the kinds of snapshot events the engine emits.
type EventType string

const (
	EventTaskUpdate            EventType = "task_update"
	EventAgentUpdate           EventType = "agent_update"
	EventLog                   EventType = "log"
	EventWorkerOutput          EventType = "worker_output"
	EventSupervisorReview      EventType = "supervisor_review"
	EventHumanApprovalRequired EventType = "human_approval_required"
	EventTelemetry             EventType = "telemetry"
)

// Event is a fire-and-forget snapshot of a state change. Data is one of the
// typed payload structs below; the wire form is {"type": ..., "data": {...}}.
// The repository is authoritative; events are not commands.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type TaskUpdatePayload struct {
	TaskID          string     `json:"task_id"`
	Status          TaskStatus `json:"status"`
	CurrentRevision int        `json:"current_revision"`
	MaxRevisions    int        `json:"max_revisions"`
	FinalOutput     string     `json:"final_output,omitempty"`
	Timestamp       string     `json:"timestamp"`
}

type AgentUpdatePayload struct {
	AgentID   string      `json:"agent_id"`
	AgentName string      `json:"agent_name"`
	Status    AgentStatus `json:"status"`
	Timestamp string      `json:"timestamp"`
}

type LogPayload struct {
	TaskID    string `json:"task_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type WorkerOutputPayload struct {
	TaskID        string `json:"task_id"`
	AgentID       string `json:"agent_id"`
	AgentName     string `json:"agent_name"`
	OutputPreview string `json:"output_preview"`
	Revision      int    `json:"revision"`
	Timestamp     string `json:"timestamp"`
}

type SupervisorReviewPayload struct {
	TaskID    string   `json:"task_id"`
	Decision  Decision `json:"decision"`
	Feedback  string   `json:"feedback"`
	Revision  int      `json:"revision"`
	Timestamp string   `json:"timestamp"`
}

type HumanApprovalPayload struct {
	TaskID    string   `json:"task_id"`
	Revision  int      `json:"revision"`
	Decision  Decision `json:"decision"`
	Feedback  string   `json:"feedback"`
	Timestamp string   `json:"timestamp"`
}

type TelemetryPayload struct {
	TaskID           string  `json:"task_id,omitempty"`
	AgentID          string  `json:"agent_id,omitempty"`
	AgentName        string  `json:"agent_name,omitempty"`
	Model            string  `json:"model"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Timestamp        string  `json:"timestamp"`
}

// EventTimestamp formats the wire timestamp for event payloads.
func EventTimestamp() string { return time.Now().UTC().Format(time.RFC3339) }

// TaskUpdateEvent builds the standard snapshot for a task transition.
func TaskUpdateEvent(t *Task) Event {
	return Event{Type: EventTaskUpdate, Data: TaskUpdatePayload{
		TaskID:          t.ID,
		Status:          t.Status,
		CurrentRevision: t.CurrentRevision,
		MaxRevisions:    t.MaxRevisions,
		FinalOutput:     t.FinalOutput,
		Timestamp:       EventTimestamp(),
	}}
}

// AgentUpdateEvent builds the snapshot for an agent status change.
func AgentUpdateEvent(a *Agent) Event {
	return Event{Type: EventAgentUpdate, Data: AgentUpdatePayload{
		AgentID:   a.ID,
		AgentName: a.Name,
		Status:    a.Status,
		Timestamp: EventTimestamp(),
	}}
}

// LogEvent builds a log-line event scoped to a task and, optionally, an agent.
func LogEvent(taskID, agentID, agentName, level, message string) Event {
	return Event{Type: EventLog, Data: LogPayload{
		TaskID:    taskID,
		AgentID:   agentID,
		AgentName: agentName,
		Level:     level,
		Message:   message,
		Timestamp: EventTimestamp(),
	}}
}
