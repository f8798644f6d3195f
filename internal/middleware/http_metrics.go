package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// normalizePath converts paths with dynamic segments to route patterns to prevent
// cardinality explosion in metrics. This maps paths like /payment-methods/pm_123/set-default
// to /payment-methods/{id}/set-default.
func normalizePath(path string) string {
	staticRoutes := map[string]bool{
		"/health":                       true,
		"/payments/stripe-key":          true,
		"/payments/create-intent":       true,
		"/payments/send-with-card":      true,
		"/payment-methods":              true,
		"/payment-methods/setup-intent": true,
		"/notifications":                true,
		"/notifications/unread-count":   true,
		"/notifications/read-all":       true,
	}
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(path, "/")

	// /payment-methods/{id} and /payment-methods/{id}/set-default
	if strings.HasPrefix(path, "/payment-methods/") {
		if len(parts) == 3 && parts[2] != "" {
			return "/payment-methods/{id}"
		}
		if len(parts) == 4 && parts[3] == "set-default" {
			return "/payment-methods/{id}/set-default"
		}
	}

	// /notifications/{id} and /notifications/{id}/read
	if strings.HasPrefix(path, "/notifications/") {
		if len(parts) == 3 && parts[2] != "" {
			return "/notifications/{id}"
		}
		if len(parts) == 4 && parts[3] == "read" {
			return "/notifications/{id}/read"
		}
	}

	// /v1/payment_intents/{id}/confirm and /v1/setup_intents/{id}/confirm
	if strings.HasPrefix(path, "/v1/") && len(parts) == 5 && parts[4] == "confirm" {
		return "/v1/" + parts[2] + "/{id}/confirm"
	}

	// Fallback: return as-is for unknown patterns
	return path
}

// HTTPMetrics records duration and count for every outgoing request.
// Health checks are excluded.
func HTTPMetrics(metrics *Metrics) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path == "/health" {
				return next.RoundTrip(r)
			}

			start := time.Now()
			resp, err := next.RoundTrip(r)
			duration := time.Since(start).Seconds()

			status := "error"
			switch {
			case err != nil && r.Context().Err() != nil:
				status = "canceled"
			case err == nil:
				status = strconv.Itoa(resp.StatusCode)
			}

			metrics.ObserveRequest(r.Method, normalizePath(r.URL.Path), status, duration)
			return resp, err
		})
	}
}
