package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "treasuryd"

// StartPlanSpan starts a span for an orchestration run.
func StartPlanSpan(ctx context.Context, runID string, stepCount int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "plan",
		trace.WithAttributes(
			attribute.String("plan.run_id", runID),
			attribute.Int("plan.steps", stepCount),
		),
	)
}

// StartStepSpan starts a span for one step within a run.
func StartStepSpan(ctx context.Context, kind string, index int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("step.kind", kind),
			attribute.Int("step.index", index),
		),
	)
}

// StartExecutionSpan starts a span covering an execution status transition.
func StartExecutionSpan(ctx context.Context, executionID, status string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execution.transition",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("execution.status", status),
		),
	)
}
