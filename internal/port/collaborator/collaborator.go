// Package collaborator defines the port for the external HTTP services the
// orchestrator dispatches steps to. Collaborators are black boxes returning
// a JSON envelope; the adapter is responsible for degrading malformed or
// failed responses to absent results instead of errors that would abort a
// plan.
package collaborator

import (
	"context"
	"encoding/json"

	"github.com/solsuite/treasuryd/internal/domain/plan"
)

// GasEstimate is the parsed result of a gas estimation call.
type GasEstimate struct {
	Chain            string  `json:"chain"`
	FeesUSD          float64 `json:"feesUsd"`
	PriorityLamports float64 `json:"priorityLamports"`
}

// YieldQuote is the best yield option returned by the yield collaborator.
type YieldQuote struct {
	Asset   string  `json:"asset"`
	Chain   string  `json:"chain"`
	Project string  `json:"project"`
	APY     float64 `json:"apy"`
}

// Directory is the set of collaborator endpoints available to the
// orchestrator, one capability per step kind.
type Directory interface {
	// Gas returns a fee estimate for the given chain.
	Gas(ctx context.Context, chain string) (*GasEstimate, error)

	// Yield returns the top yield option for an asset on a chain.
	Yield(ctx context.Context, asset, chain string) (*YieldQuote, error)

	// BridgeQuotes fans out to the bridge quote sources and returns every
	// candidate that survived. Source failures shrink the result; they do
	// not error.
	BridgeQuotes(ctx context.Context, step plan.Step) []plan.Candidate

	// SwapQuotes behaves like BridgeQuotes for swap providers.
	SwapQuotes(ctx context.Context, step plan.Step) []plan.Candidate

	// Tool executes a step through the generic tool fallback endpoint.
	Tool(ctx context.Context, step plan.Step) (json.RawMessage, error)

	// References lists the endpoints consulted for a step kind.
	References(kind plan.Kind) []plan.Reference
}
