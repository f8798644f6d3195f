package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the backend.
//
// The backend answers errors in one of three shapes, all of which decode here:
//
//	{"error": {"code": "...", "message": "..."}}
//	{"error": "message"}
//	{"message": "..."}
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// ErrorDetail is the nested error object.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorEnvelope accepts "error" as either an object or a string.
type errorEnvelope struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

// decodeError builds an APIError from a failed response. The body is consumed.
func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return apiErr
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Plain-text error bodies are used verbatim when short.
		if text := strings.TrimSpace(string(body)); len(text) <= 200 && !strings.HasPrefix(text, "<") {
			apiErr.Message = text
		}
		return apiErr
	}

	apiErr.Code = env.Code
	apiErr.Message = env.Message

	if len(env.Error) > 0 {
		var detail ErrorDetail
		var text string
		switch {
		case json.Unmarshal(env.Error, &text) == nil:
			if text != "" {
				apiErr.Message = text
			}
		case json.Unmarshal(env.Error, &detail) == nil:
			if detail.Code != "" {
				apiErr.Code = detail.Code
			}
			if detail.Message != "" {
				apiErr.Message = detail.Message
			}
		}
	}
	return apiErr
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Message returns the user-facing message carried by err: the backend message
// for an APIError, otherwise fallback.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
