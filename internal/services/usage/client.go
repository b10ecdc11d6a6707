// Package usage provides usage fetching, parsing, and adaptive polling.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/j-veylop/claude-usage-watch/internal/models"
)

// ErrUnauthorized marks a definitive auth failure from upstream. It is
// terminal for polling; everything else is retryable.
var ErrUnauthorized = errors.New("unauthorized")

const (
	bootstrapPath = "/api/bootstrap"
	rateLimitPath = "/api/rate_limits"

	cookieName = "sessionKey"

	// 1 MiB response cap
	maxResponseBytes = 1 << 20
)

// Client issues authenticated requests against the upstream usage API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a usage API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchBootstrap retrieves the organization/tier context document.
func (c *Client) FetchBootstrap(ctx context.Context, cred models.Credential) (map[string]any, error) {
	return c.getJSON(ctx, bootstrapPath, cred)
}

// FetchRateLimits retrieves the rate-limit document with the
// five_hour/seven_day utilization buckets.
func (c *Client) FetchRateLimits(ctx context.Context, cred models.Credential) (map[string]any, error) {
	return c.getJSON(ctx, rateLimitPath, cred)
}

// getJSON performs one authenticated GET and decodes the body into a
// generic document. The upstream schema is unversioned, so decoding
// stays schemaless and interpretation is left to the parser.
func (c *Client) getJSON(ctx context.Context, path string, cred models.Credential) (map[string]any, error) {
	if !cred.Valid() {
		return nil, fmt.Errorf("no credential for %s", path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: cookieName, Value: cred.SessionKey})
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("response for %s too large", path)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s returned %d: %w", path, resp.StatusCode, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(body, 200))
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return doc, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
