package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/solsuite/treasuryd/internal/config"
	"github.com/solsuite/treasuryd/internal/domain/plan"
	"github.com/solsuite/treasuryd/internal/port/collaborator"
)

// stubDirectory implements collaborator.Directory with pluggable behavior.
type stubDirectory struct {
	gas    func(ctx context.Context, chain string) (*collaborator.GasEstimate, error)
	yield  func(ctx context.Context, asset, chain string) (*collaborator.YieldQuote, error)
	bridge func(ctx context.Context, step plan.Step) []plan.Candidate
	swap   func(ctx context.Context, step plan.Step) []plan.Candidate
	tool   func(ctx context.Context, step plan.Step) (json.RawMessage, error)
	refs   func(kind plan.Kind) []plan.Reference
}

func (s *stubDirectory) Gas(ctx context.Context, chain string) (*collaborator.GasEstimate, error) {
	if s.gas == nil {
		return &collaborator.GasEstimate{Chain: chain, FeesUSD: 0.01}, nil
	}
	return s.gas(ctx, chain)
}

func (s *stubDirectory) Yield(ctx context.Context, asset, chain string) (*collaborator.YieldQuote, error) {
	if s.yield == nil {
		return &collaborator.YieldQuote{Asset: asset, Chain: chain, Project: "aave", APY: 5.2}, nil
	}
	return s.yield(ctx, asset, chain)
}

func (s *stubDirectory) BridgeQuotes(ctx context.Context, step plan.Step) []plan.Candidate {
	if s.bridge == nil {
		return nil
	}
	return s.bridge(ctx, step)
}

func (s *stubDirectory) SwapQuotes(ctx context.Context, step plan.Step) []plan.Candidate {
	if s.swap == nil {
		return nil
	}
	return s.swap(ctx, step)
}

func (s *stubDirectory) Tool(ctx context.Context, step plan.Step) (json.RawMessage, error) {
	if s.tool == nil {
		return json.RawMessage(`{}`), nil
	}
	return s.tool(ctx, step)
}

func (s *stubDirectory) References(kind plan.Kind) []plan.Reference {
	if s.refs == nil {
		return []plan.Reference{{Label: string(kind), URL: "http://test"}}
	}
	return s.refs(kind)
}

func testOrchestrator(dir collaborator.Directory) *Orchestrator {
	return NewOrchestrator(dir, config.Orchestrator{DefaultObjective: "cheapest"}, nil, nil, nil, slog.Default())
}

func TestRunPreservesStepOrder(t *testing.T) {
	o := testOrchestrator(&stubDirectory{})
	req := plan.OrchestrateRequest{Steps: []plan.Step{
		{Kind: plan.KindGas},
		{Kind: plan.KindYield},
		{Kind: plan.KindSwap},
	}}

	result := o.Run(context.Background(), req)
	if !result.OK {
		t.Fatal("expected OK result")
	}
	if len(result.Steps) != 3 {
		t.Fatalf("expected 3 step results, got %d", len(result.Steps))
	}
	for i, want := range []plan.Kind{plan.KindGas, plan.KindYield, plan.KindSwap} {
		if result.Steps[i].Kind != want {
			t.Errorf("step %d: got kind %s, want %s", i, result.Steps[i].Kind, want)
		}
	}
	if result.RunID == "" {
		t.Error("expected non-empty run id")
	}
}

func TestRunFailureIsolation(t *testing.T) {
	o := testOrchestrator(&stubDirectory{
		gas: func(context.Context, string) (*collaborator.GasEstimate, error) {
			return nil, errors.New("gas endpoint down")
		},
	})
	req := plan.OrchestrateRequest{Steps: []plan.Step{
		{Kind: plan.KindGas},
		{Kind: plan.KindYield, Params: map[string]any{"asset": "USDC", "chain": "base"}},
	}}

	result := o.Run(context.Background(), req)
	if !result.OK {
		t.Fatal("a failed step must not fail the plan")
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(result.Steps))
	}

	failed := result.Steps[0]
	if failed.OK {
		t.Error("expected first step to fail")
	}
	if failed.Summary != "Failed to orchestrate gas" {
		t.Errorf("unexpected failure summary: %q", failed.Summary)
	}
	if !strings.Contains(failed.Details.Error, "gas endpoint down") {
		t.Errorf("expected captured error text, got %q", failed.Details.Error)
	}

	if !result.Steps[1].OK {
		t.Error("expected second step to succeed")
	}
}

func TestRunYieldSummary(t *testing.T) {
	o := testOrchestrator(&stubDirectory{
		yield: func(_ context.Context, asset, chain string) (*collaborator.YieldQuote, error) {
			return &collaborator.YieldQuote{Asset: asset, Chain: chain, Project: "aave", APY: 5.2}, nil
		},
	})
	req := plan.OrchestrateRequest{Steps: []plan.Step{
		{Kind: plan.KindYield, Params: map[string]any{"asset": "USDC", "chain": "base"}},
	}}

	result := o.Run(context.Background(), req)
	got := result.Steps[0]
	if !got.OK {
		t.Fatalf("expected OK step, got %+v", got)
	}
	want := "Top yield on base for USDC: 5.2% via aave"
	if got.Summary != want {
		t.Errorf("summary = %q, want %q", got.Summary, want)
	}
}

func TestRunObjectiveSelection(t *testing.T) {
	candidates := []plan.Candidate{
		{Provider: "cheap", FeesUSD: 1, TimeMinutes: 30, SecurityScore: 40},
		{Provider: "fast", FeesUSD: 9, TimeMinutes: 2, SecurityScore: 60},
		{Provider: "secure", FeesUSD: 5, TimeMinutes: 20, SecurityScore: 95},
	}
	dir := &stubDirectory{
		bridge: func(context.Context, plan.Step) []plan.Candidate { return candidates },
	}

	tests := []struct {
		objective plan.Objective
		want      string
	}{
		{plan.ObjectiveCheapest, "cheap"},
		{plan.ObjectiveFastest, "fast"},
		{plan.ObjectiveMostSecure, "secure"},
	}
	for _, tt := range tests {
		t.Run(string(tt.objective), func(t *testing.T) {
			o := testOrchestrator(dir)
			result := o.Run(context.Background(), plan.OrchestrateRequest{
				Steps:       []plan.Step{{Kind: plan.KindBridge}},
				Constraints: plan.Constraints{Objective: tt.objective},
			})

			sel := result.Steps[0].Details.Metrics.Selected
			if sel == nil || sel.Provider != tt.want {
				t.Fatalf("selected = %+v, want provider %s", sel, tt.want)
			}
			if !strings.Contains(result.Steps[0].Summary, tt.want) {
				t.Errorf("summary %q should name the provider", result.Steps[0].Summary)
			}
			if !strings.Contains(result.Steps[0].Summary, string(tt.objective)) {
				t.Errorf("summary %q should name the objective", result.Steps[0].Summary)
			}
		})
	}
}

func TestRunFallbackCandidateWhenAllSourcesFail(t *testing.T) {
	o := testOrchestrator(&stubDirectory{
		swap: func(context.Context, plan.Step) []plan.Candidate { return nil },
	})

	result := o.Run(context.Background(), plan.OrchestrateRequest{
		Steps: []plan.Step{{Kind: plan.KindSwap}},
	})

	step := result.Steps[0]
	if !step.OK {
		t.Fatal("fallback step should still be OK")
	}
	if len(step.Details.Candidates) != 1 {
		t.Fatalf("expected exactly one synthetic candidate, got %d", len(step.Details.Candidates))
	}
	c := step.Details.Candidates[0]
	if !c.Fallback || c.Provider != "internal-estimate" {
		t.Fatalf("unexpected fallback candidate: %+v", c)
	}
	if !step.Details.Degraded {
		t.Error("fallback selection should be flagged degraded")
	}
	// The deterministic placeholder still contributes to the rollup.
	if result.Estimates.FeesUSD != 5.0 || result.Estimates.TimeMinutes != 15.0 {
		t.Errorf("unexpected estimates: %+v", result.Estimates)
	}
}

func TestRunUnknownKindDegrades(t *testing.T) {
	o := testOrchestrator(&stubDirectory{})

	result := o.Run(context.Background(), plan.OrchestrateRequest{
		Steps: []plan.Step{{Kind: plan.Kind("rebalance")}},
	})

	step := result.Steps[0]
	if !step.OK {
		t.Fatal("unknown kinds must not fail the step")
	}
	if !strings.Contains(step.Summary, "not supported") {
		t.Errorf("summary should note the unsupported type, got %q", step.Summary)
	}
}

func TestRunEstimatesRollup(t *testing.T) {
	o := testOrchestrator(&stubDirectory{
		bridge: func(context.Context, plan.Step) []plan.Candidate {
			return []plan.Candidate{{Provider: "wormhole", FeesUSD: 2.5, TimeMinutes: 12}}
		},
		swap: func(context.Context, plan.Step) []plan.Candidate {
			return []plan.Candidate{{Provider: "jupiter", FeesUSD: 0.5, TimeMinutes: 1}}
		},
	})

	result := o.Run(context.Background(), plan.OrchestrateRequest{
		Steps: []plan.Step{{Kind: plan.KindBridge}, {Kind: plan.KindSwap}},
	})

	if result.Estimates.FeesUSD != 3.0 {
		t.Errorf("fees rollup = %v, want 3.0", result.Estimates.FeesUSD)
	}
	if result.Estimates.TimeMinutes != 13.0 {
		t.Errorf("time rollup = %v, want 13.0", result.Estimates.TimeMinutes)
	}
}

func TestRunStepPanicIsIsolated(t *testing.T) {
	o := testOrchestrator(&stubDirectory{
		gas: func(context.Context, string) (*collaborator.GasEstimate, error) {
			panic("boom")
		},
	})

	result := o.Run(context.Background(), plan.OrchestrateRequest{
		Steps: []plan.Step{{Kind: plan.KindGas}, {Kind: plan.KindYield}},
	})

	if !result.OK {
		t.Fatal("a panicking step must not fail the plan")
	}
	if result.Steps[0].OK {
		t.Error("panicking step should produce a failed result")
	}
	if !result.Steps[1].OK {
		t.Error("subsequent steps should still run")
	}
}

func TestRunNeverThrows(t *testing.T) {
	// A panic outside any single step still yields an OK result with one
	// explanatory degraded step.
	o := testOrchestrator(&stubDirectory{
		refs: func(plan.Kind) []plan.Reference { panic("directory broken") },
	})

	result := o.Run(context.Background(), plan.OrchestrateRequest{
		Steps: []plan.Step{{Kind: plan.KindGas}},
	})

	if !result.OK {
		t.Fatal("orchestrator must never surface a hard failure")
	}
	if len(result.Steps) != 1 {
		t.Fatalf("expected a single explanatory step, got %d", len(result.Steps))
	}
	if !result.Steps[0].Details.Degraded {
		t.Error("expected the degraded flag on the explanatory step")
	}
}

func TestRunEmptyInputStillYieldsAStep(t *testing.T) {
	o := testOrchestrator(&stubDirectory{})

	result := o.Run(context.Background(), plan.OrchestrateRequest{})
	if !result.OK {
		t.Fatal("empty input must still produce an OK result")
	}
	if len(result.Steps) < 1 {
		t.Fatal("expected at least one explanatory step")
	}
	if !result.Steps[0].Details.Degraded {
		t.Error("explanatory step should be flagged degraded")
	}
}

func TestRunStepTimingPopulated(t *testing.T) {
	o := testOrchestrator(&stubDirectory{})

	result := o.Run(context.Background(), plan.OrchestrateRequest{
		Steps: []plan.Step{{Kind: plan.KindGas}},
	})

	timing := result.Steps[0].Timing
	if timing.StartedAt.IsZero() {
		t.Error("expected step started_at to be set")
	}
	if timing.DurationMs < 0 {
		t.Error("expected non-negative duration")
	}
	if result.Timings.StartedAt.IsZero() {
		t.Error("expected plan started_at to be set")
	}
}
