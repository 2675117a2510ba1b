package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "treasuryd"

// Metrics holds all treasuryd metric instruments.
type Metrics struct {
	PlansOrchestrated   metric.Int64Counter
	StepsFailed         metric.Int64Counter
	FallbacksUsed       metric.Int64Counter
	ExecutionsStarted   metric.Int64Counter
	ExecutionsTerminal  metric.Int64Counter
	PlanDuration        metric.Float64Histogram
	CollaboratorLatency metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.PlansOrchestrated, err = meter.Int64Counter("treasuryd.plans.orchestrated",
		metric.WithDescription("Number of orchestration runs completed"))
	if err != nil {
		return nil, err
	}

	m.StepsFailed, err = meter.Int64Counter("treasuryd.steps.failed",
		metric.WithDescription("Number of steps that produced a failure result"))
	if err != nil {
		return nil, err
	}

	m.FallbacksUsed, err = meter.Int64Counter("treasuryd.steps.fallbacks",
		metric.WithDescription("Number of steps resolved with the synthetic fallback candidate"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsStarted, err = meter.Int64Counter("treasuryd.executions.started",
		metric.WithDescription("Number of executions created"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsTerminal, err = meter.Int64Counter("treasuryd.executions.terminal",
		metric.WithDescription("Number of executions reaching a terminal status"))
	if err != nil {
		return nil, err
	}

	m.PlanDuration, err = meter.Float64Histogram("treasuryd.plan.duration_seconds",
		metric.WithDescription("Orchestration run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.CollaboratorLatency, err = meter.Float64Histogram("treasuryd.collaborator.latency_seconds",
		metric.WithDescription("Collaborator call latency in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
