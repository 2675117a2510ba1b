// Package plan defines the Step, Candidate and PlanResult domain entities
// for treasury operation orchestration.
package plan

import (
	"encoding/json"
	"time"
)

// Kind identifies the type of operation a step performs.
// The set is open-ended: unknown kinds flow through orchestration and
// degrade to an "unsupported" result instead of failing the plan.
type Kind string

const (
	KindGas    Kind = "gas"
	KindYield  Kind = "yield"
	KindBridge Kind = "bridge"
	KindSwap   Kind = "swap"
	KindVest   Kind = "vest"
)

// Objective is the tie-break rule used to pick among candidates.
type Objective string

const (
	ObjectiveCheapest   Objective = "cheapest"
	ObjectiveFastest    Objective = "fastest"
	ObjectiveMostSecure Objective = "most_secure"
)

// Step is one unit of planned work. Steps are created by a planning phase,
// consumed exactly once by the orchestrator, and never mutated afterward.
type Step struct {
	Kind   Kind           `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// ParamString returns the named parameter as a string, or fallback when
// absent or of another type.
func (s Step) ParamString(key, fallback string) string {
	if v, ok := s.Params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Candidate is one possible way to fulfill a step, carrying the metrics
// used for objective-based selection.
type Candidate struct {
	Provider      string  `json:"provider"`
	FeesUSD       float64 `json:"fees_usd"`
	TimeMinutes   float64 `json:"time_minutes"`
	SecurityScore float64 `json:"security_score"`
	Fallback      bool    `json:"fallback,omitempty"`
}

// Reference points at a collaborator endpoint used while processing a step.
type Reference struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Timing records when work started and how long it took.
type Timing struct {
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Metrics exposes the winning candidate for transparency.
type Metrics struct {
	Selected *Candidate `json:"selected,omitempty"`
}

// Details carries the per-step debugging payload: every candidate
// considered, the selection outcome, and any captured error text.
type Details struct {
	Candidates []Candidate     `json:"candidates,omitempty"`
	Metrics    Metrics         `json:"metrics"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Degraded   bool            `json:"degraded,omitempty"`
}

// StepResult is the normalized outcome of executing one step.
// Exactly one StepResult is produced per step, in input order.
type StepResult struct {
	Kind       Kind        `json:"type"`
	OK         bool        `json:"ok"`
	Summary    string      `json:"summary"`
	Details    Details     `json:"details"`
	References []Reference `json:"references,omitempty"`
	Timing     Timing      `json:"timing"`
}

// Estimates is the rollup of selected-candidate metrics across a plan.
type Estimates struct {
	FeesUSD     float64 `json:"fees_usd"`
	TimeMinutes float64 `json:"time_minutes"`
}

// Result is the aggregate of a full orchestration run. OK reports that the
// run completed, not that every step succeeded; callers inspect each
// StepResult.OK to detect partial failure.
type Result struct {
	OK        bool         `json:"ok"`
	RunID     string       `json:"run_id"`
	Steps     []StepResult `json:"steps"`
	Estimates Estimates    `json:"estimates"`
	Timings   Timing       `json:"timings"`
}

// Constraints are optional tie-break preferences for an orchestration run.
type Constraints struct {
	Objective       Objective `json:"objective,omitempty"`
	RiskAppetite    string    `json:"risk_appetite,omitempty"`
	PreferredChain  string    `json:"preferred_chain,omitempty"`
	MaxSlippageBps  int       `json:"max_slippage_bps,omitempty"`
	MinLiquidityUSD float64   `json:"min_liquidity_usd,omitempty"`
}

// OrchestrateRequest is the inbound body for a plan run: either a
// natural-language intent (parsed upstream) or pre-structured steps.
type OrchestrateRequest struct {
	Intent      string      `json:"intent,omitempty"`
	Steps       []Step      `json:"steps"`
	Constraints Constraints `json:"constraints"`
}
