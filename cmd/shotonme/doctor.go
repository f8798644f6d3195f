package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shotonme/shotonme-client/internal/health"
)

// errUnhealthy is returned when any doctor check fails.
var errUnhealthy = errors.New("one or more checks failed")

func runDoctor(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("doctor", a.out)
	timeout := fs.Duration("timeout", health.DefaultTimeout, "per-check timeout")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	checks := map[string]health.Checker{
		"backend":  health.NewBackendChecker(a.api),
		"payments": health.NewPaymentsChecker(a.api),
		"token": health.CheckerFunc(func(ctx context.Context) error {
			_, err := a.tokens.Token(ctx)
			return err
		}),
	}
	if a.redis != nil {
		checks["redis"] = health.NewRedisChecker(a.redis)
	}

	results := health.Run(ctx, checks, *timeout)
	printResults(a.out, results)
	if !health.Healthy(results) {
		return errUnhealthy
	}
	return nil
}

func printResults(w io.Writer, results []health.Result) {
	for _, r := range results {
		status := "ok"
		if !r.OK() {
			status = "FAIL " + r.Err.Error()
		}
		fmt.Fprintf(w, "%-10s %-8s %s\n", r.Name, r.Latency.Round(time.Millisecond), status)
	}
}
