// Package fetch provides the retrying HTTP client used for all outbound
// collaborator calls: bounded attempts, capped jittered exponential backoff,
// and a per-attempt deadline.
//
// Retry policy applies only to transport-level failures (network error,
// timeout, abort). A well-formed HTTP response is returned to the caller
// as-is regardless of status code; interpreting 4xx/5xx is the caller's job.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/solsuite/treasuryd/internal/config"
)

// Client wraps an *http.Client with retry and timeout behavior.
type Client struct {
	httpClient *http.Client
	retries    int
	timeout    time.Duration
	backoffMin time.Duration
	backoffMax time.Duration
	jitter     time.Duration

	sleep func(ctx context.Context, d time.Duration) error // for testing
}

// New creates a Client from fetch configuration.
func New(cfg config.Fetch) *Client {
	return &Client{
		httpClient: &http.Client{},
		retries:    cfg.Retries,
		timeout:    cfg.Timeout,
		backoffMin: cfg.BackoffMin,
		backoffMax: cfg.BackoffMax,
		jitter:     cfg.Jitter,
		sleep:      sleepCtx,
	}
}

// SetTransport replaces the underlying round tripper.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
}

// Do issues the request, retrying transport failures up to the configured
// budget. With retries = r, a permanently failing transport causes exactly
// r+1 attempts. The response body is bound to the attempt deadline; closing
// it releases the deadline timer.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, fmt.Errorf("retry aborted: %w", errors.Join(err, lastErr))
			}
		}

		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Parent context gone: no point retrying.
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("request %s %s failed after %d attempt(s): %w",
		req.Method, req.URL, c.retries+1, lastErr)
}

// attempt runs one request under the per-attempt deadline.
func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)

	r := req.Clone(attemptCtx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}

	resp, err := c.httpClient.Do(r)
	if err != nil {
		cancel()
		return nil, err
	}

	// Keep the attempt deadline alive until the caller closes the body.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// backoff returns base * 2^attempt capped at backoffMax, plus uniform
// random jitter bounded by the jitter window. Bounded jitter avoids
// synchronized retry storms when multiple steps retry concurrently.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffMin
	for range attempt {
		d *= 2
		if d >= c.backoffMax {
			d = c.backoffMax
			break
		}
	}
	if d > c.backoffMax {
		d = c.backoffMax
	}
	if c.jitter > 0 {
		d += time.Duration(rand.Int64N(int64(c.jitter)))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cancelBody releases the attempt context when the response body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
