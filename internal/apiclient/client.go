// Package apiclient is the single configured HTTP client for the Shot On Me backend.
// It attaches the bearer token, resolves paths against the base URL and decodes
// the backend's JSON and error envelopes.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shotonme/shotonme-client/internal/auth"
	"github.com/shotonme/shotonme-client/internal/middleware"
)

// DefaultTimeout bounds a single backend request.
const DefaultTimeout = 30 * time.Second

// Configuration errors.
var (
	ErrEmptyBaseURL   = errors.New("API base URL cannot be empty")
	ErrInvalidBaseURL = errors.New("API base URL must be an absolute http(s) URL")
	ErrNilTokenSource = errors.New("token source cannot be nil")
)

// Client talks to the backend REST API.
type Client struct {
	baseURL    *url.URL
	tokens     auth.TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	transport  http.RoundTripper
	middleware []middleware.Middleware
	timeout    time.Duration
	logger     *slog.Logger
}

// WithTransport sets the base transport. Defaults to http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithMiddleware wraps the transport with the given middleware, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, mws...) }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger used for response decoding problems.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a backend client for baseURL.
func New(baseURL string, tokens auth.TokenSource, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if tokens == nil {
		return nil, ErrNilTokenSource
	}

	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Client{
		baseURL: u,
		tokens:  tokens,
		httpClient: &http.Client{
			Transport: middleware.Chain(o.transport, o.middleware...),
			Timeout:   o.timeout,
		},
		logger: o.logger,
	}, nil
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// do issues one request. body is JSON-encoded when non-nil; out is decoded
// from a 2xx response when non-nil. POSTs carry an Idempotency-Key.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		key, err := idempotencyKey(ctx)
		if err != nil {
			return err
		}
		req.Header.Set(IdempotencyKeyHeader, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Surface the bare context error so callers can match it with errors.Is.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.WarnContext(ctx, "failed to decode response",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}
