// Package client talks to a running orgmem server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/engine"
	"github.com/lazypower/orgmem/internal/memory"
)

const (
	DefaultURL  = "http://127.0.0.1:37780"
	httpTimeout = 10 * time.Second
)

// Client is an orgmem API client bound to one tenant and team.
type Client struct {
	http    *http.Client
	baseURL string
	tenant  uuid.UUID
	team    string
}

// New creates a client. An empty baseURL uses ORGMEM_URL, then DefaultURL.
func New(baseURL string, tenant uuid.UUID, team string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("ORGMEM_URL")
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		http:    &http.Client{Timeout: httpTimeout},
		baseURL: baseURL,
		tenant:  tenant,
		team:    team,
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) scoped(prefix string) string {
	return "/api/memory/" + prefix + "/" + c.tenant.String() + "/" + url.PathEscape(c.team)
}

// do sends a request and decodes a JSON response into out. Error responses
// are decoded into *memory.Error so callers can test kinds.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body struct {
		Error  string      `json:"error"`
		Kind   memory.Kind `json:"kind"`
		Symbol string      `json:"symbol"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Kind == "" {
		return fmt.Errorf("status %d: %s", status, bytes.TrimSpace(data))
	}
	return &memory.Error{Kind: body.Kind, Message: body.Error, Symbol: body.Symbol}
}

// Health is the server's /api/health payload.
type Health struct {
	Status   string  `json:"status"`
	Version  string  `json:"version"`
	Uptime   float64 `json:"uptime"`
	DB       bool    `json:"db"`
	DBPath   string  `json:"db_path"`
	Embedder string  `json:"embedder"`
}

// Health fetches the server's health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Healthy reports whether the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	h, err := c.Health(ctx)
	return err == nil && h.Status == "ok"
}

// Store creates a node.
func (c *Client) Store(ctx context.Context, n memory.Node) (*engine.WriteResult, error) {
	var res engine.WriteResult
	if err := c.do(ctx, http.MethodPost, c.scoped("nodes"), n, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Get reads a node by symbol.
func (c *Client) Get(ctx context.Context, symbol string, res memory.Resolution) (*memory.Node, error) {
	path := c.scoped("nodes") + "/" + url.PathEscape(symbol)
	if res != "" {
		path += "?resolution=" + url.QueryEscape(string(res))
	}
	var n memory.Node
	if err := c.do(ctx, http.MethodGet, path, nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Query runs a declarative query.
func (c *Client) Query(ctx context.Context, q engine.Query) (*engine.Result, error) {
	var res engine.Result
	if err := c.do(ctx, http.MethodPost, c.scoped("query"), q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Stats fetches the scope's node counts.
func (c *Client) Stats(ctx context.Context) (*engine.Stats, error) {
	var st engine.Stats
	if err := c.do(ctx, http.MethodGet, c.scoped("stats"), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
