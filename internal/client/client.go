// Package client is the HTTP client the CLI commands use to talk to a
// running ragserver. It covers the handful of endpoints status and
// reindex need; everything else goes through the server's API directly.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ragforge/ragserver/internal/catalog"
)

// DefaultTimeout bounds one request. Trigger and status calls are quick
// on the server side; anything slower means the server is wedged.
const DefaultTimeout = 10 * time.Second

// Client talks to one ragserver instance.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New creates a client for the server at baseURL (scheme://host:port).
// A non-positive timeout takes DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BaseURLFor builds the URL for a configured listen address. Wildcard
// hosts are probed over loopback.
func BaseURLFor(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Health is the GET /health response.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health probes the server. An error means unreachable or unhealthy.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.get(ctx, "/health", &h)
	return h, err
}

// TriggerResponse is the POST /api/documents/trigger-index response.
type TriggerResponse struct {
	Scanned    int    `json:"files_scanned"`
	Pending    int    `json:"files_pending"`
	Processing int    `json:"files_processing"`
	Message    string `json:"message"`
}

// TriggerIndex asks the server to reconcile the upload tree and start
// dispatching pending documents.
func (c *Client) TriggerIndex(ctx context.Context) (TriggerResponse, error) {
	var tr TriggerResponse
	err := c.post(ctx, "/api/documents/trigger-index", &tr)
	return tr, err
}

// IndexSnapshot is the GET /api/documents/index-status response.
type IndexSnapshot struct {
	Documents []catalog.IndexStatus `json:"documents"`
	Total     int                   `json:"total"`
}

// Done counts documents in a terminal state.
func (s IndexSnapshot) Done() int {
	n := 0
	for _, d := range s.Documents {
		if d.Status == catalog.StatusIndexed || d.Status == catalog.StatusFailed {
			n++
		}
	}
	return n
}

// Failed counts documents that ended FAILED.
func (s IndexSnapshot) Failed() int {
	n := 0
	for _, d := range s.Documents {
		if d.Status == catalog.StatusFailed {
			n++
		}
	}
	return n
}

// InFlight returns the path of the first document being processed, or
// empty when none is.
func (s IndexSnapshot) InFlight() string {
	for _, d := range s.Documents {
		if d.Status == catalog.StatusProcessing {
			return d.Path
		}
	}
	return ""
}

// IndexStatus fetches the full per-document catalog readout.
func (c *Client) IndexStatus(ctx context.Context) (IndexSnapshot, error) {
	var snap IndexSnapshot
	err := c.get(ctx, "/api/documents/index-status", &snap)
	return snap, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *Client) post(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodPost, path, out)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("server at %s is not reachable: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError surfaces the server's uniform error envelope when present.
func apiError(status int, body []byte) error {
	var envelope struct {
		Error      string `json:"error"`
		Code       string `json:"code"`
		Suggestion string `json:"suggestion"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
		msg := envelope.Error
		if envelope.Suggestion != "" {
			msg += " (" + envelope.Suggestion + ")"
		}
		return fmt.Errorf("server returned %d: %s", status, msg)
	}
	return fmt.Errorf("server returned %d", status)
}
