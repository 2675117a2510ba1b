package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	otelad "github.com/solsuite/treasuryd/internal/adapter/otel"
	"github.com/solsuite/treasuryd/internal/config"
	"github.com/solsuite/treasuryd/internal/domain/plan"
	"github.com/solsuite/treasuryd/internal/fetch"
	"github.com/solsuite/treasuryd/internal/port/cache"
	"github.com/solsuite/treasuryd/internal/port/collaborator"
	"github.com/solsuite/treasuryd/internal/resilience"
)

// Directory implements collaborator.Directory over the configured HTTP
// endpoints.
type Directory struct {
	client *client
	urls   config.Collaborators
	logger *slog.Logger
}

// Compile-time interface check.
var _ collaborator.Directory = (*Directory)(nil)

// NewDirectory creates a Directory backed by the given fetch client,
// breaker registry and optional quote cache (nil disables caching).
// metrics may be nil to disable latency recording.
func NewDirectory(fetcher *fetch.Client, breakers *resilience.Registry, quoteCache cache.Cache, quoteTTL time.Duration, urls config.Collaborators, metrics *otelad.Metrics, logger *slog.Logger) *Directory {
	return &Directory{
		client: &client{
			fetcher:  fetcher,
			breakers: breakers,
			cache:    quoteCache,
			quoteTTL: quoteTTL,
			metrics:  metrics,
		},
		urls:   urls,
		logger: logger,
	}
}

// Gas returns a fee estimate for the given chain.
func (d *Directory) Gas(ctx context.Context, chain string) (*collaborator.GasEstimate, error) {
	data, err := d.client.call(ctx, "gas", d.urls.GasURL, map[string]any{"chain": chain})
	if err != nil {
		return nil, err
	}

	var est collaborator.GasEstimate
	if err := json.Unmarshal(data, &est); err != nil {
		return nil, fmt.Errorf("decode gas estimate: %w", err)
	}
	if est.Chain == "" {
		est.Chain = chain
	}
	return &est, nil
}

// yieldOption is the wire shape of one entry in the yield collaborator's
// response. The endpoint returns either a single option or a ranked array.
type yieldOption struct {
	Asset   string  `json:"asset"`
	Chain   string  `json:"chain"`
	Project string  `json:"project"`
	APY     float64 `json:"apy"`
}

// Yield returns the highest-APY option for an asset on a chain.
func (d *Directory) Yield(ctx context.Context, asset, chain string) (*collaborator.YieldQuote, error) {
	data, err := d.client.call(ctx, "yield", d.urls.YieldURL, map[string]any{"asset": asset, "chain": chain})
	if err != nil {
		return nil, err
	}

	options := decodeOneOrMany[yieldOption](data)
	if len(options) == 0 {
		return nil, fmt.Errorf("%w: yield returned no options", errEndpointFailed)
	}

	best := options[0]
	for _, o := range options[1:] {
		if o.APY > best.APY {
			best = o
		}
	}
	q := collaborator.YieldQuote{Asset: best.Asset, Chain: best.Chain, Project: best.Project, APY: best.APY}
	if q.Asset == "" {
		q.Asset = asset
	}
	if q.Chain == "" {
		q.Chain = chain
	}
	return &q, nil
}

// BridgeQuotes fans out to both bridge quote sources concurrently and
// returns every candidate that survived. A failed or malformed source
// shrinks the result instead of erroring; zero candidates is a valid
// outcome the caller handles with a fallback.
func (d *Directory) BridgeQuotes(ctx context.Context, step plan.Step) []plan.Candidate {
	return d.fanOut(ctx, step, []quoteSource{
		{name: "bridge-primary", url: d.urls.BridgePrimaryURL},
		{name: "bridge-secondary", url: d.urls.BridgeSecondaryURL},
	})
}

// SwapQuotes behaves like BridgeQuotes for the swap providers.
func (d *Directory) SwapQuotes(ctx context.Context, step plan.Step) []plan.Candidate {
	return d.fanOut(ctx, step, []quoteSource{
		{name: "swap-primary", url: d.urls.SwapPrimaryURL},
		{name: "swap-secondary", url: d.urls.SwapSecondaryURL},
	})
}

// Tool executes a step through the generic tool fallback endpoint.
func (d *Directory) Tool(ctx context.Context, step plan.Step) (json.RawMessage, error) {
	return d.client.call(ctx, "tool", d.urls.ToolURL, map[string]any{
		"type":   step.Kind,
		"params": step.Params,
	})
}

// References lists the endpoints consulted for a step kind.
func (d *Directory) References(kind plan.Kind) []plan.Reference {
	switch kind {
	case plan.KindGas:
		return []plan.Reference{{Label: "gas", URL: d.urls.GasURL}}
	case plan.KindYield:
		return []plan.Reference{{Label: "yield", URL: d.urls.YieldURL}}
	case plan.KindBridge:
		return []plan.Reference{
			{Label: "bridge-primary", URL: d.urls.BridgePrimaryURL},
			{Label: "bridge-secondary", URL: d.urls.BridgeSecondaryURL},
		}
	case plan.KindSwap:
		return []plan.Reference{
			{Label: "swap-primary", URL: d.urls.SwapPrimaryURL},
			{Label: "swap-secondary", URL: d.urls.SwapSecondaryURL},
		}
	default:
		return []plan.Reference{{Label: "tool", URL: d.urls.ToolURL}}
	}
}

type quoteSource struct {
	name string
	url  string
}

// fanOut queries every source concurrently and merges the surviving
// candidates in source order so selection tie-breaks stay deterministic.
func (d *Directory) fanOut(ctx context.Context, step plan.Step, sources []quoteSource) []plan.Candidate {
	results := make([][]plan.Candidate, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			results[i] = d.quotesFrom(ctx, src, step)
			return nil
		})
	}
	_ = g.Wait()

	var out []plan.Candidate
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (d *Directory) quotesFrom(ctx context.Context, src quoteSource, step plan.Step) []plan.Candidate {
	data, err := d.client.call(ctx, src.name, src.url, map[string]any{
		"type":   step.Kind,
		"params": step.Params,
	})
	if err != nil {
		d.logger.DebugContext(ctx, "quote source unavailable",
			"source", src.name, "kind", step.Kind, "error", err)
		return nil
	}

	candidates := decodeOneOrMany[plan.Candidate](data)
	var out []plan.Candidate
	for _, c := range candidates {
		if c.Provider == "" {
			c.Provider = src.name
		}
		out = append(out, c)
	}
	return out
}

// decodeOneOrMany tolerates endpoints that return either a single object
// or an array of them. Anything unparseable decodes to nothing.
func decodeOneOrMany[T any](data json.RawMessage) []T {
	var many []T
	if err := json.Unmarshal(data, &many); err == nil {
		return many
	}
	var one T
	if err := json.Unmarshal(data, &one); err == nil {
		return []T{one}
	}
	return nil
}
