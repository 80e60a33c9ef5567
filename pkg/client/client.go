// Package client is a Go client for the Crucial canvas gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/crucial/internal/backoff"
)

// Canvas is canvas metadata as served by the gateway.
type Canvas struct {
	ID         string    `json:"id"`
	HumanID    string    `json:"human_id"`
	Name       string    `json:"name"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Background string    `json:"background"`
	CanvasType string    `json:"canvas_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HistoryEntry is one exported action.
type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
}

// Result is what the gateway reports for a dispatched action.
type Result struct {
	Action    string    `json:"action"`
	CanvasID  string    `json:"canvas_id"`
	HumanID   string    `json:"human_id,omitempty"`
	Seq       int64     `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Canvas    *Canvas   `json:"metadata,omitempty"`
}

// Module describes one action the gateway accepts.
type Module struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CreateRequest describes a new canvas. Zero values take the server defaults.
type CreateRequest struct {
	Name       string `json:"name,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Background string `json:"background,omitempty"`
}

// Created is the response to Create.
type Created struct {
	CanvasID string  `json:"canvas_id"`
	HumanID  string  `json:"human_id"`
	Metadata *Canvas `json:"metadata"`
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Kind       string `json:"error"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("crucial: %d %s", e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("crucial: %d %s: %s", e.StatusCode, e.Kind, e.Detail)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Client talks to one gateway.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	policy  backoff.Policy
	retries int
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key in the x-api-key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.http.Timeout = timeout }
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithBackoff sets the delay policy between retries.
func WithBackoff(policy backoff.Policy) Option {
	return func(c *Client) { c.policy = policy }
}

// New creates a client for the gateway at baseURL, e.g. "http://localhost:8000".
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL: parsed,
		http:    &http.Client{Timeout: 10 * time.Second},
		policy:  backoff.DefaultPolicy(),
		retries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Create makes a new canvas.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	var out Created
	if err := c.call(ctx, http.MethodPost, "/canvas/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Do dispatches action with params. params must carry canvas_id for every action but create.
func (c *Client) Do(ctx context.Context, action string, params map[string]any) (*Result, error) {
	var out struct {
		Result *Result `json:"result"`
	}
	body := map[string]any{"action": action, "params": params}
	if err := c.call(ctx, http.MethodPost, "/canvas", body, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// Metadata fetches canvas metadata by id or human id.
func (c *Client) Metadata(ctx context.Context, id string) (*Canvas, error) {
	var out Canvas
	if err := c.call(ctx, http.MethodGet, "/object/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History exports the action log of a canvas.
func (c *Client) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if err := c.call(ctx, http.MethodGet, "/object/"+url.PathEscape(id)+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Load replaces the action log of a canvas and returns how many actions were loaded.
func (c *Client) Load(ctx context.Context, id string, history []HistoryEntry) (int, error) {
	if history == nil {
		history = []HistoryEntry{}
	}
	var out struct {
		ActionsLoaded int `json:"actions_loaded"`
	}
	body := map[string]any{"history": history}
	if err := c.call(ctx, http.MethodPost, "/object/"+url.PathEscape(id)+"/load", body, &out); err != nil {
		return 0, err
	}
	return out.ActionsLoaded, nil
}

// Registry lists the actions the gateway accepts.
func (c *Client) Registry(ctx context.Context) ([]Module, error) {
	var out struct {
		Modules []Module `json:"modules"`
	}
	if err := c.call(ctx, http.MethodGet, "/mcp/registry", nil, &out); err != nil {
		return nil, err
	}
	return out.Modules, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = data
	}

	_, err := backoff.Retry(ctx, c.policy, c.retries+1, func(int) (struct{}, error) {
		return struct{}{}, c.once(ctx, method, path, payload, out)
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Kind == "" {
			apiErr.Kind = http.StatusText(resp.StatusCode)
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		if apiErr.Temporary() {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
