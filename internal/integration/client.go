// Package integration holds the shared plumbing for third-party HTTP
// APIs: a JSON client with bounded timeouts and the provider error type
// that keeps adapter failures distinct from internal validation errors.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Error is a failure talking to an external provider. It carries the
// provider name and the operation so logs can tell which call failed
// for which order.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a provider error from a format string.
func Errorf(provider, op, format string, args ...any) *Error {
	return &Error{Provider: provider, Op: op, Err: fmt.Errorf(format, args...)}
}

// Client is a thin JSON-over-HTTP client for provider APIs. Every call
// is bounded by the configured timeout; a timeout is a failure, not a
// retry.
type Client struct {
	provider string
	baseURL  string
	http     *http.Client
}

func NewClient(provider, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		provider: provider,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
	}
}

// Do sends a JSON request and decodes the JSON response into out.
// A non-2xx response or malformed body becomes an *Error.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	op := method + " " + path

	var reqBody io.Reader
	if body != nil {
		encoded, err := encodeCanonicalJSON(body)
		if err != nil {
			return &Error{Provider: c.provider, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &Error{Provider: c.provider, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Error().Err(err).Str("provider", c.provider).Str("op", op).Msg("integration: request failed")
		return &Error{Provider: c.provider, Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Provider: c.provider, Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Provider: c.provider, Op: op, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(payload, 256))}
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return &Error{Provider: c.provider, Op: op, Err: fmt.Errorf("malformed response: %w", err)}
		}
	}
	return nil
}

// encodeCanonicalJSON marshals with map keys sorted and HTML escaping
// off, matching what provider signatures are computed over.
func encodeCanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalJSON is the exported form used for request signing.
func CanonicalJSON(v any) ([]byte, error) {
	return encodeCanonicalJSON(v)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
