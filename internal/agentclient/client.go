// Package agentclient implements the signed, retrying, idempotent HTTP
// client the Coordinator uses to drive the remote Agent (§4.5).
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/Kup1ng/gre-watchdog/internal/security"
)

// Response mirrors the Agent's response envelope (§6.2).
type Response struct {
	OK        bool   `json:"ok"`
	CommandID string `json:"command_id"`
	Iface     string `json:"iface"`
	Out       string `json:"out,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client calls the Agent's /v1/iface/* endpoints.
type Client struct {
	BaseURL        string
	Secret         string
	HTTPClient     *http.Client
	Timeout        time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration

	// randFloat is overridable for deterministic tests; defaults to
	// rand.Float64.
	randFloat func() float64
}

// New creates a Client with the given wire-level configuration.
func New(baseURL, secret string, timeout time.Duration, maxAttempts int, baseBackoff, maxBackoff time.Duration) *Client {
	return &Client{
		BaseURL:     baseURL,
		Secret:      secret,
		HTTPClient:  &http.Client{},
		Timeout:     timeout,
		MaxAttempts: maxAttempts,
		BaseBackoff: baseBackoff,
		MaxBackoff:  maxBackoff,
		randFloat:   rand.Float64,
	}
}

// Call posts payload (with a fresh command_id injected) to path, retrying
// up to MaxAttempts times with doubling backoff and uniform jitter in
// [0.7, 1.3]. The same command_id is reused across retries so the Agent's
// idempotency store returns its cached result rather than re-executing.
//
// If mustOK is true, a response with ok=false counts as an attempt
// failure; the caller only gets back a successful Response when ok=true
// (or, for the final exhausted attempt, the last error is returned).
func (c *Client) Call(ctx context.Context, path string, iface string, mustOK bool) (Response, error) {
	commandID := uuid.NewString()
	body, err := json.Marshal(map[string]string{
		"command_id": commandID,
		"iface":      iface,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request body: %w", err)
	}

	backoff := c.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		resp, err := c.attempt(ctx, path, body, mustOK)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		klog.InfoS("agent call attempt failed", "path", path, "attempt", attempt, "max_attempts", c.MaxAttempts, "err", err)

		if attempt == c.MaxAttempts {
			break
		}

		jittered := time.Duration(float64(backoff) * (0.7 + c.randFloat()*0.6))
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(jittered):
		}

		backoff *= 2
		if backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
		}
	}

	return Response{}, fmt.Errorf("agent call failed after %d attempts: %w", c.MaxAttempts, lastErr)
}

// attempt performs a single signed HTTP round trip.
func (c *Client) attempt(ctx context.Context, path string, body []byte, mustOK bool) (Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	ts := security.TimestampNow()
	req.Header.Set("x-ts", ts)
	req.Header.Set("x-sig", security.Sign(c.Secret, body, ts))

	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("transport error: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("non-2xx status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}

	if mustOK && !resp.OK {
		return Response{}, fmt.Errorf("agent reported failure: %s", resp.Error)
	}
	return resp, nil
}
