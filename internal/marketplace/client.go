// Package marketplace is the HTTP client for the marketplace seller API:
// the paginated order listing and the OAuth token refresh exchange.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnauthorized is returned for a 401 from the order endpoint. The caller
// reacts by refreshing the token and retrying the same page once; there is no
// pre-emptive expiry check anywhere.
var ErrUnauthorized = errors.New("marketplace: unauthorized")

// StatusError is returned for any other non-2xx order response. Pagination
// fails fast on it; there is no partial-page retry.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marketplace: unexpected status %d", e.Code)
}

// Config holds marketplace client settings.
type Config struct {
	BaseURL  string        // order API, e.g. https://api.example.com
	TokenURL string        // refresh endpoint, e.g. https://auth.example.com/identity/v1/token
	Timeout  time.Duration // per-request timeout, default 30s
}

// Client talks to the marketplace API. It carries no token state of its own;
// every call takes the access token to use, so the token lifecycle stays with
// the caller.
type Client struct {
	baseURL  string
	tokenURL string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a marketplace client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL: cfg.TokenURL,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// FirstPageURL builds the order-listing URL for a trailing window.
// The filter format follows the seller API's lastmodifieddate range syntax.
func (c *Client) FirstPageURL(window Window, limit int) string {
	filter := fmt.Sprintf("lastmodifieddate:[%s..%s]",
		window.From.UTC().Format(time.RFC3339),
		window.To.UTC().Format(time.RFC3339))

	q := url.Values{}
	q.Set("filter", filter)
	q.Set("limit", strconv.Itoa(limit))

	return c.baseURL + "/order?" + q.Encode()
}

// FetchPage fetches one page of the order listing. pageURL is either a
// FirstPageURL result or the Next link of the previous page.
func (c *Client) FetchPage(ctx context.Context, accessToken, pageURL string) (*OrdersPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build order request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("fetched order page",
		slog.Int("status", resp.StatusCode),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var parsed ordersResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode order page: %w", err)
	}

	next := parsed.Links.Next
	if next == "" {
		next = parsed.Next
	}

	return &OrdersPage{Orders: parsed.Orders, Next: c.absoluteURL(next)}, nil
}

// Refresh performs the refresh_token exchange: HTTP basic auth with the
// account's client credentials, form-encoded grant. A non-2xx response or a
// body without an access_token is a refresh failure.
func (c *Client) Refresh(ctx context.Context, clientID, clientSecret, refreshToken, scopes string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if scopes != "" {
		form.Set("scope", scopes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.SetBasicAuth(clientID, clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("token refresh rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil, fmt.Errorf("refresh exchange returned status %d", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("refresh response missing access_token")
	}

	return &token, nil
}

// absoluteURL resolves a relative next link against the base URL. Providers
// return both forms.
func (c *Client) absoluteURL(link string) string {
	if link == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return c.baseURL + link
}
