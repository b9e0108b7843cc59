// Package client is the Go SDK for the contactrelay agent API.
//
// # Quick start
//
//	c := client.New("http://127.0.0.1:8384")
//
//	// Submit a contact (immediate delivery, queued on failure)
//	outcome, err := c.Submit(ctx, client.Contact{FirstName: "Ada", Phone: "+1555"}, true)
//
//	// Trigger a flush of the durable outbox
//	pending, err := c.Flush(ctx)
//
// # Error handling
//
// All methods return an *APIError when the agent responds with a non-2xx
// status code. Check errors.As(err, &client.APIError{}) to inspect the HTTP
// status and server message.
//
// Client is safe for concurrent use. It shares a single http.Client
// internally so connections are reused across goroutines.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the agent responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("contactrelay: agent returned %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether the error is a 409 from the agent (for Flush:
// another flush pass is already running).
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}

// ─── Client options ───────────────────────────────────────────────────────────

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the agent has auth.enabled = true.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. The default is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the contactrelay agent API client. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client that talks to the agent at baseURL.
//
//	c := client.New("http://127.0.0.1:8384")
//	c := client.New("http://relay.example.com:8384", client.WithAPIKey("secret"))
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Domain types ─────────────────────────────────────────────────────────────

// Contact is a contact record in the integration endpoint's field schema.
type Contact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	Company   string `json:"company,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Outcome is the result of a submission or a flush-pass attempt:
// "sent", "queued", "retry", "local", or "abandoned".
type Outcome string

// Item is a pending delivery in the agent's outbox.
type Item struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Tries      int             `json:"tries"`
}

// Event is a delivery outcome event from the agent's activity log.
type Event struct {
	Outcome Outcome         `json:"outcome"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
	Error   string          `json:"error,omitempty"`
	Tries   int             `json:"tries,omitempty"`
}

// HealthInfo contains the data returned by the /health endpoint.
type HealthInfo struct {
	Status             string `json:"status"`
	AgentID            string `json:"agent_id"`
	Online             bool   `json:"online"`
	EndpointConfigured bool   `json:"endpoint_configured"`
	Pending            int    `json:"pending"`
	Uptime             string `json:"uptime"`
	Version            string `json:"version"`
}

// ─── API methods ──────────────────────────────────────────────────────────────

// Submit sends one contact to the agent. sendNow=true attempts immediate
// delivery (queued durably on failure); sendNow=false records the contact
// locally only. The returned Outcome is "sent", "queued", or "local".
func (c *Client) Submit(ctx context.Context, contact Contact, sendNow bool) (Outcome, error) {
	req := struct {
		Contact
		Send bool `json:"send"`
	}{Contact: contact, Send: sendNow}

	var resp struct {
		Outcome Outcome `json:"outcome"`
	}
	if err := c.do(ctx, http.MethodPost, "/contacts", req, &resp); err != nil {
		return "", err
	}
	return resp.Outcome, nil
}

// Flush triggers a delivery pass over the agent's outbox and returns the
// number of items still pending afterwards. A 409 (another pass running) is
// reported as an *APIError; check IsConflict.
func (c *Client) Flush(ctx context.Context) (int, error) {
	var resp struct {
		Pending int `json:"pending"`
	}
	if err := c.do(ctx, http.MethodPost, "/flush", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Pending, nil
}

// Pending lists the items currently persisted in the outbox, FIFO order.
func (c *Client) Pending(ctx context.Context) ([]Item, error) {
	var resp struct {
		Items []Item `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/outbox", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Purge drops every pending item and returns how many were removed.
func (c *Client) Purge(ctx context.Context) (int, error) {
	var resp struct {
		Purged int `json:"purged"`
	}
	if err := c.do(ctx, http.MethodDelete, "/outbox", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Purged, nil
}

// Activity returns up to limit recent outcome events, newest first.
// limit <= 0 returns everything the agent retains.
func (c *Client) Activity(ctx context.Context, limit int) ([]Event, error) {
	path := "/activity"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// SetEndpoint reconfigures the agent's integration endpoint URL for the
// running process. An empty URL returns the agent to the unconfigured state.
func (c *Client) SetEndpoint(ctx context.Context, url string) error {
	req := struct {
		URL string `json:"url"`
	}{URL: url}
	return c.do(ctx, http.MethodPut, "/endpoint", req, nil)
}

// ReplayArchive moves up to limit abandoned items back into the outbox and
// returns how many were replayed.
func (c *Client) ReplayArchive(ctx context.Context, limit int) (int, error) {
	path := "/archive/replay"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Replayed int `json:"replayed"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Replayed, nil
}

// Health fetches the agent's health snapshot.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var resp HealthInfo
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ─── Transport ────────────────────────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("contactrelay: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("contactrelay: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contactrelay: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("contactrelay: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return fmt.Errorf("contactrelay: decode response: %w", err)
		}
	}
	return nil
}
