// Package middleware provides http.RoundTripper middleware for the backend API client.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// sessionIDKey is the context key for the payment session ID.
type sessionIDKey struct{}

// SetSessionID stores the payment session ID in the context so outgoing
// requests made on behalf of that session can be correlated in logs.
func SetSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// GetSessionID retrieves the session ID from context. Returns empty string if not present.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Middleware wraps a RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// Chain wraps base with the given middleware. The first middleware is the outermost.
func Chain(base http.RoundTripper, mws ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	for i := len(mws) - 1; i >= 0; i-- {
		base = mws[i](base)
	}
	return base
}

// NewLogger returns the process logger. Production emits JSON at info level;
// every other environment emits text at debug level. Output goes to stderr
// so command output on stdout stays clean.
func NewLogger(env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Logging logs one line per backend request: method, path, status,
// latency_ms, and the request and session IDs when set. A request that
// failed because its context was cancelled logs at debug, since closing a
// modal cancels its requests.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)

			ctx := r.Context()
			attrs := requestAttrs(r, time.Since(start))
			if err != nil {
				level := slog.LevelError
				if ctx.Err() != nil {
					level = slog.LevelDebug
				}
				logger.LogAttrs(ctx, level, "request failed", append(attrs, slog.String("error", err.Error()))...)
				return resp, err
			}
			logger.LogAttrs(ctx, statusLevel(resp.StatusCode), "request completed",
				append(attrs, slog.Int("status", resp.StatusCode))...)
			return resp, nil
		})
	}
}

func requestAttrs(r *http.Request, elapsed time.Duration) []slog.Attr {
	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int64("latency_ms", elapsed.Milliseconds()),
	)
	if id := r.Header.Get(RequestIDHeader); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if id := GetSessionID(r.Context()); id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	return attrs
}

func statusLevel(code int) slog.Level {
	switch {
	case code >= 500:
		return slog.LevelError
	case code >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
