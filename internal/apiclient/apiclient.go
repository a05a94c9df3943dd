// Package apiclient is the shared inter-service HTTP client: every fleet
// service speaks the apienvelope.Envelope shape, so callers decode the
// same envelope and surface the same error type regardless of which
// downstream service answered. Generalized from the teacher's api.go,
// which wraps a single external API behind a typed client with its own
// sentinel errors.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ytarchive/fleet/internal/apienvelope"
)

// Error is returned when a downstream service answers with
// success:false. It carries the envelope's error code so callers can
// branch on it (e.g. errrecovery.DetermineRetryReason).
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("apiclient: %s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("apiclient: %s: %s", e.Code, e.Message)
}

// Client calls one downstream service's envelope-shaped JSON API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client against baseURL (e.g. "http://localhost:8001"),
// trimming any trailing slash.
func New(baseURL string) *Client {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient overrides the underlying http.Client, for tests and for
// callers that need custom transports or timeouts.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Get issues a GET request against path and decodes the envelope's data
// field into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request with a JSON-encoded body and decodes the
// envelope's data field into out.
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Delete issues a DELETE request and decodes the envelope's data field
// into out, if out is non-nil.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env apienvelope.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("apiclient: decode %s %s (status %d): %w", method, path, resp.StatusCode, err)
	}

	if !env.Success {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}

	if out == nil || env.Data == nil {
		return nil
	}

	// env.Data already unmarshaled into `any` (map[string]any et al); round
	// trip through json to decode it into the caller's concrete type.
	raw, err := json.Marshal(env.Data)
	if err != nil {
		return fmt.Errorf("apiclient: re-encode data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("apiclient: decode data: %w", err)
	}
	return nil
}
