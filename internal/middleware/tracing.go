package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Tracing instruments outgoing requests with OpenTelemetry client spans and
// propagates W3C trace context (traceparent/tracestate) to the backend.
//
// Spans are named "METHOD /normalized/path" so ids do not explode span-name cardinality.
func Tracing() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return otelhttp.NewTransport(next,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + normalizePath(r.URL.Path)
			}),
		)
	}
}
