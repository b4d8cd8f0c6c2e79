// Package api is the typed HTTP client for the Spark backend. The backend
// is authoritative; this package only moves JSON and classifies failures.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"spark-client/internal/apperr"
	"spark-client/internal/metrics"
	"spark-client/internal/middleware"
)

const maxErrorBody = 4 << 10

// StatusError captures a non-2xx response. Detail holds the backend's
// "detail" text when present, for display in error slots.
type StatusError struct {
	StatusCode int
	Endpoint   string
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: unexpected status %d from %s", e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("api: unexpected status %d from %s: %s", e.StatusCode, e.Endpoint, e.Detail)
}

// Detail returns the server's detail text carried anywhere in err's chain.
func Detail(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Detail
	}
	return ""
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	metrics    metrics.Recorder
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its transport is still
// wrapped with the bearer transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = metrics.OrNop(r)
	}
}

// WithTimeout sets the request timeout regardless of option order. The
// client passed to WithHTTPClient is not modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New returns a Client for baseURL that authenticates with tokens.
func New(baseURL string, tokens middleware.TokenSource, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.httpClient
	hc.Transport = middleware.NewBearerTransport(tokens, c.httpClient.Transport)
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.httpClient = &hc
	return c, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// do sends a JSON request. endpoint is the route template used in errors
// and metrics; path is the concrete path.
func (c *Client) do(ctx context.Context, method, endpoint, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode %s: %w", endpoint, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: build %s: %w", endpoint, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.send(req, endpoint, out)
}

func (c *Client) send(req *http.Request, endpoint string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordAPIRequest(endpoint, 0, time.Since(start))
		return apperr.Network(endpoint, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordAPIRequest(endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Detail:     parseDetail(raw),
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return apperr.Auth(endpoint, se)
		}
		return apperr.Network(endpoint, se)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Network(endpoint, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// parseDetail extracts {"detail": ...}. FastAPI sends a string for
// HTTPException and a list for validation errors.
func parseDetail(raw []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Detail) == 0 {
		return strings.TrimSpace(string(raw))
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		return s
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &list); err == nil && len(list) > 0 {
		msgs := make([]string, 0, len(list))
		for _, item := range list {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return string(env.Detail)
}
