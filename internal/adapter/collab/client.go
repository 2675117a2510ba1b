// Package collab implements the collaborator port over HTTP. Each
// collaborator is a sibling JSON endpoint returning an {ok, data|error}
// envelope; calls go through the retrying fetch client and a
// per-endpoint circuit breaker, with short-TTL response caching for
// idempotent quote lookups.
package collab

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelad "github.com/solsuite/treasuryd/internal/adapter/otel"
	"github.com/solsuite/treasuryd/internal/fetch"
	"github.com/solsuite/treasuryd/internal/port/cache"
	"github.com/solsuite/treasuryd/internal/resilience"
)

// maxBodyBytes caps collaborator response bodies.
const maxBodyBytes = 1 << 20

// envelope is the wire shape every collaborator responds with.
type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// errEndpointFailed marks a collaborator business error (non-2xx or
// ok=false envelope). These are not transient and are never retried.
var errEndpointFailed = errors.New("collaborator call failed")

// client is the shared HTTP machinery for all collaborator endpoints.
type client struct {
	fetcher  *fetch.Client
	breakers *resilience.Registry
	cache    cache.Cache
	quoteTTL time.Duration
	metrics  *otelad.Metrics
}

// call POSTs payload to the named endpoint and returns the envelope data.
// Transport failures are retried inside the fetch client; a well-formed
// error response or ok=false envelope returns errEndpointFailed.
func (c *client) call(ctx context.Context, name, url string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}

	if data, ok := c.cached(ctx, name, body); ok {
		return data, nil
	}

	start := time.Now()
	var data json.RawMessage
	err = c.breakers.For(name).Execute(func() error {
		var callErr error
		data, callErr = c.doCall(ctx, name, url, body)
		return callErr
	})
	if c.metrics != nil {
		c.metrics.CollaboratorLatency.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("endpoint", name)))
	}
	if err != nil {
		return nil, err
	}

	c.store(ctx, name, body, data)
	return data, nil
}

func (c *client) doCall(ctx context.Context, name, url string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", name, err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: %s returned %d: %s", errEndpointFailed, name, resp.StatusCode, truncate(raw, 200))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s returned unparseable body", errEndpointFailed, name)
	}
	if !env.OK {
		return nil, fmt.Errorf("%w: %s: %s", errEndpointFailed, name, env.Error)
	}

	return env.Data, nil
}

func (c *client) cached(ctx context.Context, name string, body []byte) (json.RawMessage, bool) {
	if c.cache == nil {
		return nil, false
	}
	data, ok, err := c.cache.Get(ctx, cacheKey(name, body))
	if err != nil || !ok {
		return nil, false
	}
	return data, true
}

func (c *client) store(ctx context.Context, name string, body, data []byte) {
	if c.cache == nil || c.quoteTTL <= 0 {
		return
	}
	if err := c.cache.Set(ctx, cacheKey(name, body), data, c.quoteTTL); err != nil {
		slog.Debug("quote cache set failed", "endpoint", name, "error", err)
	}
}

func cacheKey(name string, body []byte) string {
	sum := sha256.Sum256(body)
	return "collab:" + name + ":" + hex.EncodeToString(sum[:])
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
