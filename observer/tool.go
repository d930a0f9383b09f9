package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	foreman "github.com/mkarlsen/foreman"
)

// ObservedTool wraps a foreman.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner foreman.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner foreman.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Definitions() []foreman.ToolDefinition {
	return o.inner.Definitions()
}

func (o *ObservedTool) Execute(ctx context.Context, call foreman.ToolInvocation) (foreman.ToolResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(call.Name),
		AttrTaskID.String(call.TaskID),
		AttrAgentID.String(call.AgentID),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, call)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if result.Error != "" {
		status = "tool_error"
	}
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result.Content)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(call.Name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(call.Name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", call.Name),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_length", len(result.Content)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

var _ foreman.Tool = (*ObservedTool)(nil)
