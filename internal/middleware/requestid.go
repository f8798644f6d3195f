package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is the HTTP header name for request ID.
const RequestIDHeader = "X-Request-ID"

// RequestID sets an X-Request-ID header on outgoing requests.
// If the request already carries one, it is kept. Otherwise a new UUID is generated.
// The request is cloned before mutation, as RoundTrippers must not modify their input.
func RequestID(next http.RoundTripper) http.RoundTripper {
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get(RequestIDHeader) != "" {
			return next.RoundTrip(r)
		}
		r2 := r.Clone(r.Context())
		r2.Header.Set(RequestIDHeader, uuid.New().String())
		return next.RoundTrip(r2)
	})
}
