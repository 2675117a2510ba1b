// Package service holds treasuryd's business logic: plan orchestration
// and execution lifecycle coordination.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	otelad "github.com/solsuite/treasuryd/internal/adapter/otel"
	"github.com/solsuite/treasuryd/internal/config"
	"github.com/solsuite/treasuryd/internal/domain/plan"
	"github.com/solsuite/treasuryd/internal/port/collaborator"
	"github.com/solsuite/treasuryd/internal/port/messagequeue"
)

// Broadcaster pushes typed events to connected clients. Satisfied by the
// WebSocket hub; nil disables broadcasting.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Orchestrator runs ordered plan steps against the collaborator directory.
//
// It never returns an error: every failure path, including a panic inside
// the run itself, is absorbed into a PlanResult the caller can render.
// Callers that need to distinguish success from degraded output inspect
// the per-step details.
type Orchestrator struct {
	directory collaborator.Directory
	cfg       config.Orchestrator
	queue     messagequeue.Queue
	hub       Broadcaster
	metrics   *otelad.Metrics
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. queue, hub and metrics may be
// nil to disable the corresponding side channel.
func NewOrchestrator(directory collaborator.Directory, cfg config.Orchestrator, queue messagequeue.Queue, hub Broadcaster, metrics *otelad.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		directory: directory,
		cfg:       cfg,
		queue:     queue,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run orchestrates the request's steps in order and returns the aggregate
// result. One failing step never aborts the others, and the result is
// always OK at the top level.
func (o *Orchestrator) Run(ctx context.Context, req plan.OrchestrateRequest) (result *plan.Result) {
	started := time.Now()
	runID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "orchestration panicked", "run_id", runID, "panic", r)
			result = o.degradedResult(runID, started, fmt.Sprintf("internal error: %v", r))
		}
		o.finish(ctx, result)
	}()

	ctx, span := otelad.StartPlanSpan(ctx, runID, len(req.Steps))
	defer span.End()

	objective := req.Constraints.Objective
	if objective == "" {
		objective = plan.Objective(o.cfg.DefaultObjective)
	}

	result = &plan.Result{
		OK:    true,
		RunID: runID,
		Steps: make([]plan.StepResult, 0, len(req.Steps)),
	}

	// Malformed or empty input still produces a renderable plan with one
	// explanatory step.
	if len(req.Steps) == 0 {
		result.Steps = append(result.Steps, plan.StepResult{
			Kind:    "plan",
			OK:      true,
			Summary: "Nothing to orchestrate: no recognizable steps in the request",
			Details: plan.Details{Degraded: true},
			Timing:  plan.Timing{StartedAt: started.UTC()},
		})
	}

	for i, step := range req.Steps {
		sr := o.runStep(ctx, i, step, objective)
		result.Steps = append(result.Steps, sr)

		if sel := sr.Details.Metrics.Selected; sel != nil {
			result.Estimates.FeesUSD += sel.FeesUSD
			result.Estimates.TimeMinutes += sel.TimeMinutes
		}
	}

	result.Timings = plan.Timing{
		StartedAt:  started.UTC(),
		DurationMs: time.Since(started).Milliseconds(),
	}
	return result
}

// runStep executes one step under the configured step deadline. Panics in
// a single step degrade to a failed StepResult for that step only.
func (o *Orchestrator) runStep(ctx context.Context, index int, step plan.Step, objective plan.Objective) (sr plan.StepResult) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "step panicked", "kind", step.Kind, "panic", r)
			sr = o.failedStep(step, fmt.Sprintf("internal error: %v", r))
		}
		sr.Timing = plan.Timing{
			StartedAt:  started.UTC(),
			DurationMs: time.Since(started).Milliseconds(),
		}
		sr.References = o.directory.References(step.Kind)
		if !sr.OK && o.metrics != nil {
			o.metrics.StepsFailed.Add(ctx, 1)
		}
	}()

	if o.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()
	}

	ctx, span := otelad.StartStepSpan(ctx, string(step.Kind), index)
	defer span.End()

	switch step.Kind {
	case plan.KindGas:
		return o.gasStep(ctx, step)
	case plan.KindYield:
		return o.yieldStep(ctx, step)
	case plan.KindBridge:
		return o.quoteStep(ctx, step, objective, o.directory.BridgeQuotes)
	case plan.KindSwap:
		return o.quoteStep(ctx, step, objective, o.directory.SwapQuotes)
	case plan.KindVest:
		return o.toolStep(ctx, step)
	default:
		return plan.StepResult{
			Kind:    step.Kind,
			OK:      true,
			Summary: fmt.Sprintf("Step type %q is not supported yet", step.Kind),
		}
	}
}

func (o *Orchestrator) gasStep(ctx context.Context, step plan.Step) plan.StepResult {
	chain := step.ParamString("chain", "solana")

	est, err := o.directory.Gas(ctx, chain)
	if err != nil {
		return o.failedStep(step, err.Error())
	}

	data, _ := json.Marshal(est)
	selected := &plan.Candidate{Provider: "gas", FeesUSD: est.FeesUSD}
	return plan.StepResult{
		Kind:    step.Kind,
		OK:      true,
		Summary: fmt.Sprintf("Estimated gas on %s: $%s", est.Chain, formatAmount(est.FeesUSD)),
		Details: plan.Details{
			Metrics: plan.Metrics{Selected: selected},
			Data:    data,
		},
	}
}

func (o *Orchestrator) yieldStep(ctx context.Context, step plan.Step) plan.StepResult {
	asset := step.ParamString("asset", "USDC")
	chain := step.ParamString("chain", "solana")

	quote, err := o.directory.Yield(ctx, asset, chain)
	if err != nil {
		return o.failedStep(step, err.Error())
	}

	data, _ := json.Marshal(quote)
	return plan.StepResult{
		Kind: step.Kind,
		OK:   true,
		Summary: fmt.Sprintf("Top yield on %s for %s: %s%% via %s",
			quote.Chain, quote.Asset, formatAmount(quote.APY), quote.Project),
		Details: plan.Details{Data: data},
	}
}

// quoteStep handles the multi-candidate kinds: collect candidates from
// every source, select one by objective, and synthesize a fallback when
// everything failed so the step never has zero candidates.
func (o *Orchestrator) quoteStep(ctx context.Context, step plan.Step, objective plan.Objective, quotes func(context.Context, plan.Step) []plan.Candidate) plan.StepResult {
	candidates := quotes(ctx, step)
	if len(candidates) == 0 {
		candidates = []plan.Candidate{plan.FallbackCandidate()}
		if o.metrics != nil {
			o.metrics.FallbacksUsed.Add(ctx, 1)
		}
	}

	selected, _ := plan.SelectCandidate(candidates, objective)
	return plan.StepResult{
		Kind: step.Kind,
		OK:   true,
		Summary: fmt.Sprintf("%s via %s (%s): $%s, ~%s min",
			titleKind(step.Kind), selected.Provider, objective,
			formatAmount(selected.FeesUSD), formatAmount(selected.TimeMinutes)),
		Details: plan.Details{
			Candidates: candidates,
			Metrics:    plan.Metrics{Selected: &selected},
			Degraded:   selected.Fallback,
		},
	}
}

func (o *Orchestrator) toolStep(ctx context.Context, step plan.Step) plan.StepResult {
	data, err := o.directory.Tool(ctx, step)
	if err != nil {
		return o.failedStep(step, err.Error())
	}

	return plan.StepResult{
		Kind:    step.Kind,
		OK:      true,
		Summary: fmt.Sprintf("Executed %s step", step.Kind),
		Details: plan.Details{Data: data},
	}
}

// failedStep produces the readable per-step failure shape: the step stays
// present in the plan with a summary and the captured error text.
func (o *Orchestrator) failedStep(step plan.Step, errText string) plan.StepResult {
	return plan.StepResult{
		Kind:    step.Kind,
		OK:      false,
		Summary: fmt.Sprintf("Failed to orchestrate %s", step.Kind),
		Details: plan.Details{Error: errText},
	}
}

// degradedResult is the never-throw outer shape: a single explanatory
// step inside an OK result.
func (o *Orchestrator) degradedResult(runID string, started time.Time, errText string) *plan.Result {
	return &plan.Result{
		OK:    true,
		RunID: runID,
		Steps: []plan.StepResult{{
			Kind:    "plan",
			OK:      true,
			Summary: "Plan could not be fully orchestrated; showing a degraded result",
			Details: plan.Details{Error: errText, Degraded: true},
		}},
		Timings: plan.Timing{
			StartedAt:  started.UTC(),
			DurationMs: time.Since(started).Milliseconds(),
		},
	}
}

// finish records metrics and fans the run summary out to NATS and the
// WebSocket hub. All side channels are best-effort.
func (o *Orchestrator) finish(ctx context.Context, result *plan.Result) {
	if result == nil {
		return
	}

	failed := 0
	for _, s := range result.Steps {
		if !s.OK {
			failed++
		}
	}

	if o.metrics != nil {
		o.metrics.PlansOrchestrated.Add(ctx, 1)
		o.metrics.PlanDuration.Record(ctx, float64(result.Timings.DurationMs)/1000)
	}

	o.logger.InfoContext(ctx, "plan orchestrated",
		"run_id", result.RunID,
		"steps", len(result.Steps),
		"failed_steps", failed,
		"duration_ms", result.Timings.DurationMs)

	payload := messagequeue.PlanCompletedPayload{
		RunID:       result.RunID,
		Steps:       len(result.Steps),
		FailedSteps: failed,
		FeesUSD:     result.Estimates.FeesUSD,
		TimeMinutes: result.Estimates.TimeMinutes,
		DurationMs:  result.Timings.DurationMs,
	}

	if o.hub != nil {
		o.hub.BroadcastEvent(ctx, "plan.completed", payload)
	}
	if o.queue != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			if err := o.queue.Publish(ctx, messagequeue.SubjectPlanCompleted, data); err != nil {
				o.logger.WarnContext(ctx, "plan completion publish failed",
					"run_id", result.RunID, "error", err)
			}
		}
	}
}

// formatAmount trims trailing zeros so 5.20 renders as 5.2 and 12 as 12.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func titleKind(k plan.Kind) string {
	s := string(k)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
