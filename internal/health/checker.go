// Package health checks the services the client depends on.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shotonme/shotonme-client/internal/payment"
)

// DefaultTimeout bounds each check.
const DefaultTimeout = 3 * time.Second

// Checker checks one dependency.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck implements Checker.
func (f CheckerFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// Result is the outcome of one check.
type Result struct {
	Name    string
	Err     error
	Latency time.Duration
}

// OK reports whether the check passed.
func (r Result) OK() bool {
	return r.Err == nil
}

// Run runs every check concurrently, each bounded by timeout, and returns the
// results sorted by name. A zero timeout uses DefaultTimeout.
func Run(ctx context.Context, checks map[string]Checker, timeout time.Duration) []Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([]Result, len(checks))
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var g errgroup.Group
	for i, name := range names {
		check := checks[name]
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			err := check.HealthCheck(cctx)
			results[i] = Result{Name: name, Err: err, Latency: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Healthy reports whether every result passed.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.OK() {
			return false
		}
	}
	return true
}

// Pinger is the backend's health endpoint.
type Pinger interface {
	Health(ctx context.Context) error
}

// BackendChecker checks the backend API.
type BackendChecker struct {
	api Pinger
}

// NewBackendChecker creates a backend checker.
func NewBackendChecker(api Pinger) *BackendChecker {
	return &BackendChecker{api: api}
}

// HealthCheck calls GET /health.
func (b *BackendChecker) HealthCheck(ctx context.Context) error {
	if err := b.api.Health(ctx); err != nil {
		return fmt.Errorf("backend unhealthy: %w", err)
	}
	return nil
}

// ErrPaymentsNotConfigured is returned when the backend has no vendor key.
var ErrPaymentsNotConfigured = errors.New("payment processing is not configured")

// KeySource fetches the vendor publishable key.
type KeySource interface {
	StripeKey(ctx context.Context) (*payment.StripeKey, error)
}

// PaymentsChecker checks that card payments are available.
type PaymentsChecker struct {
	keys KeySource
}

// NewPaymentsChecker creates a payments checker.
func NewPaymentsChecker(keys KeySource) *PaymentsChecker {
	return &PaymentsChecker{keys: keys}
}

// HealthCheck fetches the publishable key.
func (p *PaymentsChecker) HealthCheck(ctx context.Context) error {
	key, err := p.keys.StripeKey(ctx)
	if err != nil {
		return err
	}
	if !key.Configured || key.PublishableKey == "" {
		return ErrPaymentsNotConfigured
	}
	return nil
}
