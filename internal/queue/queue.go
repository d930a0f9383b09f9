// Package queue ships task-run jobs over NATS so graph execution can happen
// in a separate worker process. The publishing side implements the engine's
// Scheduler interface; the consuming side feeds jobs into a run function.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	foreman "github.com/mkarlsen/foreman"
)

// Subject carries serialized TaskJob payloads. Workers join one queue group
// so each job is delivered to exactly one of them.
const (
	Subject    = "foreman.tasks.run"
	QueueGroup = "foreman-workers"
)

// Scheduler publishes task jobs to NATS instead of running them in-process.
type Scheduler struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewScheduler creates the publishing side. logger may be nil.
func NewScheduler(conn *nats.Conn, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{conn: conn, logger: logger}
}

// Schedule publishes the job. The per-request keys travel with it so the
// worker runs with the submitter's credentials.
func (s *Scheduler) Schedule(ctx context.Context, job foreman.TaskJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode task job: %w", err)
	}
	if err := s.conn.Publish(Subject, payload); err != nil {
		return fmt.Errorf("publish task job %s: %w", job.TaskID, err)
	}
	s.logger.Debug("task job published", "task", job.TaskID)
	return nil
}

// RunFunc executes one task job to completion.
type RunFunc func(ctx context.Context, job foreman.TaskJob)

// Consumer pulls task jobs off the queue group and runs them.
type Consumer struct {
	conn   *nats.Conn
	run    RunFunc
	logger *slog.Logger
	sub    *nats.Subscription
}

// NewConsumer creates the consuming side. logger may be nil.
func NewConsumer(conn *nats.Conn, run RunFunc, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Consumer{conn: conn, run: run, logger: logger}
}

// Start subscribes to the job subject. Each message runs in its own
// goroutine under ctx; malformed payloads are logged and dropped.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.conn.QueueSubscribe(Subject, QueueGroup, func(msg *nats.Msg) {
		var job foreman.TaskJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			c.logger.Error("malformed task job dropped", "error", err)
			return
		}
		c.logger.Info("task job received", "task", job.TaskID)
		go c.run(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Subject, err)
	}
	c.sub = sub
	return nil
}

// Stop drains the subscription so in-flight deliveries finish.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Drain()
}

var _ foreman.Scheduler = (*Scheduler)(nil)
