// Package gitlab fetches merge request records from a GitLab-compatible
// REST API and converts them into timeline input.
package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"
)

const (
	// maxAttempts caps rate-limit retries; 1 initial try plus 2 retries.
	maxAttempts = 3

	// defaultRetryAfter is the wait between rate-limit retries when the
	// server sent no Retry-After header.
	defaultRetryAfter = 60 * time.Second

	// defaultRequestsPerSecond paces outbound calls so a large batch does
	// not hammer the API even before the server rate-limits us.
	defaultRequestsPerSecond = 5
)

// HTTPClient is the transport dependency, injected so tests can serve
// canned responses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds client construction parameters.
type Config struct {
	// API root, e.g. "https://gitlab.com" (default).
	BaseURL string

	// PRIVATE-TOKEN value sent on every request.
	Token string

	// Transport; defaults to an http.Client with a 30s timeout.
	HTTPClient HTTPClient

	// Outbound pacing; defaults to 5 requests per second.
	RequestsPerSecond float64

	Logger *slog.Logger
}

// Client is a GitLab REST API client with client-side pacing and
// rate-limit-aware retries.
type Client struct {
	baseURL string
	token   string
	httpc   HTTPClient
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient builds a client from cfg, filling in defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://gitlab.com"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpc:   cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)),
		logger:  cfg.Logger,
	}
}

// getJSON fetches url and decodes the response into result. Only HTTP 429
// is retried, up to maxAttempts, sleeping for the server-suggested wait and
// falling back to defaultRetryAfter. Every other failure surfaces
// immediately.
func (c *Client) getJSON(ctx context.Context, url string, result any) error {
	return retry.Do(
		func() error { return c.attempt(ctx, url, result) },
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var rle *RateLimitError
			return errors.As(err, &rle)
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			var rle *RateLimitError
			if errors.As(err, &rle) && rle.RetryAfter > 0 {
				return rle.RetryAfter
			}
			return defaultRetryAfter
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.WarnContext(ctx, "Rate limited, retrying", "attempt", n+1, "url", url, "error", err)
		}),
	)
}

// attempt performs a single paced request and maps the response status to
// the domain error classes.
func (c *Client) attempt(ctx context.Context, url string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("GET %s: %w", url, ErrAccessDenied)
	case http.StatusNotFound:
		return fmt.Errorf("GET %s: %w", url, ErrNotFound)
	case http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: unexpected status %d: %s", url, resp.StatusCode, body)
	}
}

// retryAfter parses the Retry-After header as delay seconds; zero when
// absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
