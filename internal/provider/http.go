package provider

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

	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/metrics"
)

// Per-request timeouts. The http.Client carries no timeout of its own so
// that per-request context deadlines stay in control.
const (
	embedTimeout    = 60 * time.Second
	completeTimeout = 60 * time.Second
	rerankTimeout   = 30 * time.Second
)

// maxErrorBody caps how much of an upstream error body is kept for messages.
const maxErrorBody = 2048

// maxResponseBody caps decoded provider responses.
const maxResponseBody = 10 << 20

// remoteClient is the shared transport for one remote endpoint: a pooled
// HTTP client guarded by a circuit breaker. Runs of timeouts or 5xx trip
// the breaker and later calls fail fast with ErrCodeRemoteTripped until
// the cooldown lapses; upstream 4xx rejections pass through untouched.
//
// Do not set http.Client.Timeout here: it would override the per-request
// context deadlines.
type remoteClient struct {
	http *http.Client
	brk  *ragerrors.Breaker
}

func newRemoteClient() *remoteClient {
	return &remoteClient{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		brk: ragerrors.NewBreaker(ragerrors.BreakerConfig{}),
	}
}

// closeIdle drops pooled connections on shutdown.
func (c *remoteClient) closeIdle() {
	if transport, ok := c.http.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// do issues req through the breaker and returns the response on 200. Any
// other outcome comes back as a classified error with the body closed.
// backend and kind label the provider metrics.
func (c *remoteClient) do(req *http.Request, backend, kind string) (*http.Response, error) {
	if err := c.brk.Ready(); err != nil {
		metrics.RemoteRequests.WithLabelValues(backend, kind, "tripped").Inc()
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cerr := classifyTransportError(err)
		c.brk.Observe(cerr)
		metrics.RemoteRequests.WithLabelValues(backend, kind, "error").Inc()
		return nil, cerr
	}
	if resp.StatusCode != http.StatusOK {
		serr := statusError(resp)
		resp.Body.Close()
		c.brk.Observe(serr)
		metrics.RemoteRequests.WithLabelValues(backend, kind, "error").Inc()
		return nil, serr
	}

	c.brk.Observe(nil)
	return resp, nil
}

// postJSON issues one POST with a per-request deadline and decodes the
// response into out. Upstream failures come back classified: 4xx fatal,
// 429/5xx/network retryable, breaker-open fail-fast.
func (c *remoteClient) postJSON(ctx context.Context, url, apiKey string, body any, out any, timeout time.Duration, backend, kind string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return ragerrors.InternalError("failed to encode request body", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ragerrors.InternalError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.do(req, backend, kind)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		metrics.RemoteRequests.WithLabelValues(backend, kind, "error").Inc()
		return ragerrors.New(ragerrors.ErrCodeRemoteBadResponse,
			"failed to decode provider response", err)
	}

	metrics.RemoteRequests.WithLabelValues(backend, kind, "ok").Inc()
	return nil
}

// endpointURL joins base with the conventional suffix path unless base
// already names the full endpoint. Configs may carry either the API root
// (https://api.example.com/v1) or the complete URL.
func endpointURL(base, suffix string) string {
	trimmed := strings.TrimRight(base, "/")
	if strings.HasSuffix(trimmed, suffix) {
		return trimmed
	}
	return trimmed + suffix
}

// classifyTransportError maps low-level client errors onto retryable codes.
func classifyTransportError(err error) *ragerrors.RagError {
	if errors.Is(err, context.DeadlineExceeded) {
		return ragerrors.New(ragerrors.ErrCodeRemoteTimeout, "provider request timed out", err)
	}
	return ragerrors.New(ragerrors.ErrCodeRemoteUnavailable, "provider request failed", err)
}

// statusError reads a non-200 response into a classified error. 429 carries
// the Retry-After hint in its details so rate-aware adapters can honor it.
func statusError(resp *http.Response) *ragerrors.RagError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		re := ragerrors.New(ragerrors.ErrCodeRemoteRateLimited, msg, nil)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			re.WithDetail("retry_after", ra)
		}
		return re
	case resp.StatusCode >= 500:
		return ragerrors.New(ragerrors.ErrCodeRemoteUnavailable, msg, nil)
	default:
		// 4xx other than 429: the request itself is wrong, do not retry.
		return ragerrors.New(ragerrors.ErrCodeRemoteRejected, msg, nil)
	}
}

// detectImageMime sniffs the container format from the base64 prefix of an
// image payload. Unknown formats fall back to JPEG, which OpenAI-compatible
// endpoints accept as a declared type for most containers.
func detectImageMime(b64 string) string {
	switch {
	case strings.HasPrefix(b64, "iVBORw0KGgo"):
		return "image/png"
	case strings.HasPrefix(b64, "/9j/"):
		return "image/jpeg"
	case strings.HasPrefix(b64, "R0lGOD"):
		return "image/gif"
	case strings.HasPrefix(b64, "UklGR"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
