// Package foreman is a multi-agent task orchestration engine.
//
// Callers submit a task (a description plus a set of worker agents); the
// engine fans the workers out in parallel against a pluggable LLM provider,
// asks a supervisor agent to judge the combined output, loops through bounded
// revision rounds, optionally pauses for human approval, and finalizes the
// task. Progress streams to subscribers as typed events.
//
// # Quick Start
//
// Assemble an engine and submit a task:
//
//	repo := memory.NewStore()
//	eng := foreman.New(foreman.DefaultSettings(),
//		foreman.Deps{Repo: repo, Factory: factory},
//		foreman.WithLogger(logger),
//	)
//	eng.Start(ctx)
//
//	task, err := eng.Tasks().Create(ctx, foreman.TaskCreate{
//		Description:    "Summarize the quarterly report",
//		AssignedAgents: []string{workerID},
//	}, keys)
//
// # Core pieces
//
// The fixed orchestration graph lives in graph.go: dispatch_workers runs all
// assigned agents concurrently, review asks the supervisor for a verdict, and
// the routing predicate ends the task (approve/reject) or loops through
// revision. Repositories (store/memory, store/postgres) persist every
// transition; the event bus (bus.go) and broadcaster (broadcast.go) push
// snapshots to WebSocket subscribers; approval.go suspends and resumes runs
// that need a human decision.
//
// Providers implement the Provider interface (provider/openaicompat,
// provider/anthropic, provider/gemini). Compose them with WithRetry, or wrap
// them with observer.WrapProvider for OTEL traces and metrics.
package foreman
