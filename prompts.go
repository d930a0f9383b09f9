package foreman

import (
	"fmt"
	"strings"
)

// Prompt templates for the worker, supervisor, summarizer, and scout roles.
// Kept in one place so the wording can be tuned without touching the graph.

const defaultWorkerSystemPrompt = `You are a worker agent in a multi-agent team. Complete the assigned task thoroughly and return your best result as plain text. Be concrete and concise; do not ask questions back.`

// WorkerSystemPrompt returns the system prompt for a worker agent,
// preferring the agent's own configured prompt.
func WorkerSystemPrompt(a *Agent) string {
	if a != nil && strings.TrimSpace(a.SystemPrompt) != "" {
		return a.SystemPrompt
	}
	return defaultWorkerSystemPrompt
}

// WorkerTaskPrompt builds the user message for one dispatch round. On
// revision rounds the previous supervisor feedback is appended so workers
// know what to fix.
func WorkerTaskPrompt(description string, revision int, feedback string) string {
	if revision > 0 && feedback != "" {
		return description + "\n\nRevision feedback: " + feedback
	}
	return description
}

const supervisorSystemPrompt = `You are a supervisor agent. You judge the combined output of worker agents against the task description. Respond with a single JSON object and nothing else:
{"decision": "approve" | "revise" | "reject", "feedback": "<short explanation, and concrete fixes when revising>"}`

// SupervisorPrompt builds the user message for the review node.
func SupervisorPrompt(description string, formattedOutputs string, revision, maxRevisions int) string {
	var b strings.Builder
	b.WriteString("Task description:\n")
	b.WriteString(description)
	b.WriteString("\n\nWorker outputs:\n")
	b.WriteString(formattedOutputs)
	fmt.Fprintf(&b, "\n\nCurrent revision: %d of %d.", revision, maxRevisions)
	b.WriteString("\nJudge whether the combined output completes the task. Reply with the JSON verdict only.")
	return b.String()
}

// SummarizerPrompt asks the model to compress text that exceeded a cap.
func SummarizerPrompt(text string) string {
	return "Summarize the following text, preserving all decisions, numbers, and conclusions. Keep the summary under 2000 characters.\n\n" + text
}

// ScoutPrompt builds the root self-analysis task description. The scout task
// spawns up to numTasks children (bounded by the lineage envelope) via the
// create_task tool.
func ScoutPrompt(numTasks, maxDepth int) string {
	return fmt.Sprintf(`Analyze this system for weaknesses and improvement opportunities. Identify up to %d distinct, concrete follow-up investigations and spawn one child task for each using the create_task tool (stay within a task-tree depth of %d). For each child, write a self-contained task description. Finish with a short summary of what you spawned and why.`, numTasks, maxDepth)
}
