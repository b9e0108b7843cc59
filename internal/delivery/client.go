// Package delivery performs single network attempts against the integration
// endpoint. A Client makes exactly one attempt per call and classifies the
// failure; all retry policy lives in the outbox processor.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/snehjoshi/contactrelay/internal/connectivity"
)

// ErrNotConfigured is returned when no endpoint URL is set. A blank endpoint
// is a valid agent state — submissions simply accumulate in the outbox.
var ErrNotConfigured = errors.New("delivery: endpoint not configured")

// ErrOffline is returned when the connectivity source reports no network
// path. This is an explicit fast-fail checked before dialing, not a reliance
// on the dial timing out.
var ErrOffline = errors.New("delivery: no network path")

// StatusError reports a non-2xx response from the endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("delivery: endpoint returned %d", e.Code)
}

// TransportError wraps any lower-level network failure: DNS, TLS, connection
// reset, or the request timeout.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "delivery: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Client POSTs payloads to the configured integration endpoint.
// The endpoint may be reconfigured at runtime; all methods are safe for
// concurrent use.
type Client struct {
	mu       sync.RWMutex
	endpoint string

	http *http.Client
	conn connectivity.Source
}

// New builds a Client. timeout bounds each delivery attempt end to end;
// a request that exceeds it is classified as a TransportError.
func New(endpoint string, timeout time.Duration, conn connectivity.Source) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		conn:     conn,
	}
}

// Endpoint returns the currently configured endpoint URL ("" when unset).
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// SetEndpoint replaces the endpoint URL. An empty string returns the client
// to the NotConfigured state.
func (c *Client) SetEndpoint(url string) {
	c.mu.Lock()
	c.endpoint = url
	c.mu.Unlock()
}

// Ready reports whether a delivery attempt could be made right now:
// ErrNotConfigured when no endpoint is set, ErrOffline when the connectivity
// source reports no network path, nil otherwise. The flush engine uses this
// to skip a pass without touching the store.
func (c *Client) Ready() error {
	if c.Endpoint() == "" {
		return ErrNotConfigured
	}
	if c.conn != nil && !c.conn.Online() {
		return ErrOffline
	}
	return nil
}

// Deliver makes a single attempt to POST payload to the endpoint as JSON.
// Success is any 2xx status; no response body contract is relied upon.
func (c *Client) Deliver(ctx context.Context, payload json.RawMessage) error {
	if err := c.Ready(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("delivery: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
