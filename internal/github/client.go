// Package github talks to the source-hosting REST API and turns repository state into metrics.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/domainx/internal/credentials"
	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
	"github.com/ZanzyTHEbar/domainx/internal/monitoring"
	"github.com/ZanzyTHEbar/domainx/internal/resilience"
)

const (
	DefaultBaseURL = "https://api.github.com"
	userAgent      = "domainx-collector/1.0"
	maxBodyBytes   = 64 << 20
	maxErrorBody   = 512
)

// TokenSource supplies bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Throttle blocks until an endpoint class may issue another request.
type Throttle interface {
	Wait(ctx context.Context, class string) error
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client issues authenticated requests against the API
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	throttle Throttle
	breaker  *resilience.CircuitBreaker
	metrics  *monitoring.Metrics
	logger   *monitoring.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default pooled HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithThrottle installs a per-class request throttle
func WithThrottle(t Throttle) ClientOption {
	return func(c *Client) { c.throttle = t }
}

// WithBreaker replaces the default circuit breaker
func WithBreaker(cb *resilience.CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

// WithMetrics records request outcomes
func WithMetrics(m *monitoring.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithLogger logs every completed call
func WithLogger(l *monitoring.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates an API client rooted at baseURL
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    resilience.NewHTTPClient(20 * time.Second),
		breaker: resilience.NewCircuitBreaker("github", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = &monitoring.Logger{Logger: slog.Default()}
	}
	return c
}

// Get performs a GET request. Any status in allowed is returned as a Response instead of an error.
func (c *Client) Get(ctx context.Context, class, path string, query url.Values, allowed ...int) (*Response, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, class); err != nil {
			return nil, apperrors.NewNetworkError("rate limit wait interrupted", 0, endpoint, "", err)
		}
	}

	var resp *Response
	start := time.Now()

	err = c.breaker.Call(func() error {
		var callErr error
		resp, callErr = c.do(ctx, endpoint, token)
		return callErr
	}, countsAsOutage)

	duration := time.Since(start)

	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.metrics.IncrementGitHubCalls(class, "circuit_open")
		return nil, apperrors.NewNetworkError("github api temporarily unavailable", 0, endpoint, "", err)
	}
	if err != nil {
		outcome := "transport_error"
		if resp != nil {
			outcome = "http_error"
		}
		c.metrics.IncrementGitHubCalls(class, outcome)
		return nil, err
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.logger.ExternalAPILogger("github", http.MethodGet, path, resp.StatusCode, duration,
		ok || slices.Contains(allowed, resp.StatusCode))

	if ok {
		c.metrics.IncrementGitHubCalls(class, "ok")
		return resp, nil
	}

	if slices.Contains(allowed, resp.StatusCode) {
		c.metrics.IncrementGitHubCalls(class, "accepted_status")
		return resp, nil
	}

	c.metrics.IncrementGitHubCalls(class, "http_error")
	return nil, apperrors.NewNetworkError(
		fmt.Sprintf("github api returned status %d", resp.StatusCode),
		resp.StatusCode, endpoint, truncate(resp.Body, maxErrorBody), nil)
}

// GetJSON performs a GET request and decodes a successful body into out
func (c *Client) GetJSON(ctx context.Context, class, path string, query url.Values, out any) error {
	resp, err := c.Get(ctx, class, path, query)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return apperrors.NewDataError(fmt.Sprintf("failed to decode response from %s", path), err)
	}
	return nil
}

// do returns an error only for transport failures and 5xx answers so the breaker sees outages.
func (c *Client) do(ctx context.Context, endpoint, token string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to build request", 0, endpoint, "", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-GitHub-Api-Version", credentials.APIVersion)
	req.Header.Set("User-Agent", userAgent)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError("github api request failed", 0, endpoint, "", err)
	}
	defer apperrors.SafeClose(httpResp.Body, "github response body")

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to read github response", httpResp.StatusCode, endpoint, "", err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}
	if httpResp.StatusCode >= 500 {
		return resp, apperrors.NewNetworkError(
			fmt.Sprintf("github api returned status %d", httpResp.StatusCode),
			httpResp.StatusCode, endpoint, truncate(body, maxErrorBody), nil)
	}
	return resp, nil
}

func countsAsOutage(err error) bool {
	return apperrors.IsCategory(err, apperrors.CategoryNetwork)
}

func truncate(body []byte, n int) string {
	if len(body) > n {
		return string(body[:n])
	}
	return string(body)
}
