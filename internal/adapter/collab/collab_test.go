package collab

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	otelad "github.com/solsuite/treasuryd/internal/adapter/otel"
	"github.com/solsuite/treasuryd/internal/config"
	"github.com/solsuite/treasuryd/internal/domain/plan"
	"github.com/solsuite/treasuryd/internal/fetch"
	"github.com/solsuite/treasuryd/internal/resilience"
)

func testDirectory(urls config.Collaborators) *Directory {
	fetcher := fetch.New(config.Fetch{
		Retries:    0,
		Timeout:    2 * time.Second,
		BackoffMin: time.Millisecond,
		BackoffMax: time.Millisecond,
	})
	breakers := resilience.NewRegistry(5, time.Minute)
	return NewDirectory(fetcher, breakers, nil, 0, urls, nil, slog.Default())
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestGas(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(`{"ok":true,"data":{"chain":"solana","feesUsd":0.02,"priorityLamports":5000}}`))
	defer srv.Close()

	d := testDirectory(config.Collaborators{GasURL: srv.URL})
	est, err := d.Gas(context.Background(), "solana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Chain != "solana" || est.FeesUSD != 0.02 {
		t.Fatalf("unexpected estimate: %+v", est)
	}
}

func TestYieldPicksTopAPY(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(`{"ok":true,"data":[
		{"asset":"USDC","chain":"base","project":"compound","apy":3.1},
		{"asset":"USDC","chain":"base","project":"aave","apy":5.2},
		{"asset":"USDC","chain":"base","project":"morpho","apy":4.7}
	]}`))
	defer srv.Close()

	d := testDirectory(config.Collaborators{YieldURL: srv.URL})
	q, err := d.Yield(context.Background(), "USDC", "base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Project != "aave" || q.APY != 5.2 {
		t.Fatalf("expected aave at 5.2, got %+v", q)
	}
}

func TestYieldSingleObject(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(`{"ok":true,"data":{"asset":"SOL","chain":"solana","project":"marinade","apy":6.8}}`))
	defer srv.Close()

	d := testDirectory(config.Collaborators{YieldURL: srv.URL})
	q, err := d.Yield(context.Background(), "SOL", "solana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Project != "marinade" {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestBridgeQuotesMergesSources(t *testing.T) {
	primary := httptest.NewServer(jsonHandler(`{"ok":true,"data":[
		{"provider":"wormhole","fees_usd":2.5,"time_minutes":12,"security_score":88},
		{"provider":"allbridge","fees_usd":1.9,"time_minutes":20,"security_score":75}
	]}`))
	defer primary.Close()
	secondary := httptest.NewServer(jsonHandler(`{"ok":true,"data":{"provider":"debridge","fees_usd":3.1,"time_minutes":6,"security_score":82}}`))
	defer secondary.Close()

	d := testDirectory(config.Collaborators{
		BridgePrimaryURL:   primary.URL,
		BridgeSecondaryURL: secondary.URL,
	})
	got := d.BridgeQuotes(context.Background(), plan.Step{Kind: plan.KindBridge})
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	// Source order is preserved regardless of which goroutine finished first.
	if got[0].Provider != "wormhole" || got[2].Provider != "debridge" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestSwapQuotesSourceFailureShrinksResult(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(jsonHandler(`{"ok":true,"data":[{"provider":"jupiter","fees_usd":0.4,"time_minutes":1,"security_score":90}]}`))
	defer secondary.Close()

	d := testDirectory(config.Collaborators{
		SwapPrimaryURL:   primary.URL,
		SwapSecondaryURL: secondary.URL,
	})
	got := d.SwapQuotes(context.Background(), plan.Step{Kind: plan.KindSwap})
	if len(got) != 1 || got[0].Provider != "jupiter" {
		t.Fatalf("expected only the surviving candidate, got %+v", got)
	}
}

func TestQuotesMalformedDataDropped(t *testing.T) {
	primary := httptest.NewServer(jsonHandler(`{"ok":true,"data":"not a candidate"}`))
	defer primary.Close()
	secondary := httptest.NewServer(jsonHandler(`{"ok":false,"error":"no route"}`))
	defer secondary.Close()

	d := testDirectory(config.Collaborators{
		BridgePrimaryURL:   primary.URL,
		BridgeSecondaryURL: secondary.URL,
	})
	got := d.BridgeQuotes(context.Background(), plan.Step{Kind: plan.KindBridge})
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
}

func TestEnvelopeErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"ok":false,"error":"boom"}`))
	}))
	defer srv.Close()

	fetcher := fetch.New(config.Fetch{
		Retries:    3,
		Timeout:    2 * time.Second,
		BackoffMin: time.Millisecond,
		BackoffMax: time.Millisecond,
	})
	d := NewDirectory(fetcher, resilience.NewRegistry(5, time.Minute), nil, 0,
		config.Collaborators{GasURL: srv.URL}, nil, slog.Default())

	if _, err := d.Gas(context.Background(), "solana"); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("HTTP error responses must not be retried, got %d calls", n)
	}
}

func TestToolForwardsStep(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(`{"ok":true,"data":{"scheduled":true}}`))
	defer srv.Close()

	d := testDirectory(config.Collaborators{ToolURL: srv.URL})
	data, err := d.Tool(context.Background(), plan.Step{
		Kind:   plan.KindVest,
		Params: map[string]any{"months": 12},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"scheduled":true}` {
		t.Fatalf("unexpected data: %s", data)
	}
}

// memCache is a minimal in-memory cache for testing the quote cache path.
type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func TestQuoteCaching(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":true,"data":{"chain":"solana","feesUsd":0.02}}`))
	}))
	defer srv.Close()

	fetcher := fetch.New(config.Fetch{Retries: 0, Timeout: 2 * time.Second})
	d := NewDirectory(fetcher, resilience.NewRegistry(5, time.Minute),
		&memCache{m: make(map[string][]byte)}, time.Minute,
		config.Collaborators{GasURL: srv.URL}, nil, slog.Default())

	for range 3 {
		if _, err := d.Gas(context.Background(), "solana"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected 1 upstream call with caching, got %d", n)
	}
}

func TestCollaboratorLatencyRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	metrics, err := otelad.NewMetrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	srv := httptest.NewServer(jsonHandler(`{"ok":true,"data":{"chain":"solana","feesUsd":0.02}}`))
	defer srv.Close()

	fetcher := fetch.New(config.Fetch{Retries: 0, Timeout: 2 * time.Second})
	d := NewDirectory(fetcher, resilience.NewRegistry(5, time.Minute), nil, 0,
		config.Collaborators{GasURL: srv.URL}, metrics, slog.Default())

	if _, err := d.Gas(context.Background(), "solana"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "treasuryd.collaborator.latency_seconds" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected a collaborator latency measurement after a call")
	}
}

func TestReferencesPerKind(t *testing.T) {
	d := testDirectory(config.Collaborators{
		GasURL:             "http://gas",
		BridgePrimaryURL:   "http://bp",
		BridgeSecondaryURL: "http://bs",
		ToolURL:            "http://tool",
	})

	if refs := d.References(plan.KindBridge); len(refs) != 2 {
		t.Fatalf("expected 2 bridge references, got %+v", refs)
	}
	if refs := d.References(plan.KindGas); len(refs) != 1 || refs[0].URL != "http://gas" {
		t.Fatalf("unexpected gas references: %+v", refs)
	}
	// Unknown kinds fall through to the tool endpoint.
	if refs := d.References(plan.Kind("rebalance")); len(refs) != 1 || refs[0].Label != "tool" {
		t.Fatalf("unexpected references for unknown kind: %+v", refs)
	}
}
