// Package rpc is a minimal JSON-RPC 1.0 client for the bitcoind control
// interface: just the calls the fixture needs plus a generic Call for tests.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds each HTTP round trip.
const DefaultTimeout = 30 * time.Second

// Client calls one daemon endpoint (optionally scoped to a wallet).
type Client struct {
	url        string
	auth       Auth
	httpClient *http.Client
	nextID     *atomic.Uint64
	closed     *atomic.Bool
}

// New creates a client for url (e.g. http://127.0.0.1:18443).
func New(url string, auth Auth) *Client {
	return &Client{
		url:        strings.TrimRight(url, "/"),
		auth:       auth,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		nextID:     new(atomic.Uint64),
		closed:     new(atomic.Bool),
	}
}

// URL returns the endpoint the client talks to.
func (c *Client) URL() string {
	return c.url
}

// WithWallet returns a client scoped to /wallet/<name>. It shares the
// transport, credentials and closed state of c.
func (c *Client) WithWallet(name string) *Client {
	base := c.url
	if i := strings.Index(base, "/wallet/"); i >= 0 {
		base = base[:i]
	}
	return &Client{
		url:        base + "/wallet/" + name,
		auth:       c.auth,
		httpClient: c.httpClient,
		nextID:     c.nextID,
		closed:     c.closed,
	}
}

// Close invalidates the client and every client derived from it.
func (c *Client) Close() {
	c.closed.Store(true)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
	ID     json.RawMessage `json:"id"`
}

// Call invokes method and decodes the result into out (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(request{
		JSONRPC: "1.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	user, password, err := c.auth.Credentials()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(user, password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", method, ErrUnauthorized)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	// bitcoind reports RPC errors with non-200 statuses but a JSON body
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, method, err)
	}
	if r.Error != nil {
		return r.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}
	if len(r.Result) == 0 {
		return fmt.Errorf("%w: %s: missing result", ErrMalformedResponse, method)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, method, err)
	}
	return nil
}
