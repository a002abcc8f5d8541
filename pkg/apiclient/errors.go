package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a problem response returned by the server.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`
	// Code is the migration error code, e.g. "NotFound" or "WouldBlock".
	Code string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return msg
}

// IsNotFound returns true if this is a not found error.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict returns true if the target is not in a state that allows the
// operation, e.g. it is no longer shadowed.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsRetryable returns true if the server asked to try again later.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

func parseError(status int, body []byte) error {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && (apiErr.Title != "" || apiErr.Detail != "") {
		apiErr.StatusCode = status
		return &apiErr
	}
	return &APIError{
		StatusCode: status,
		Title:      http.StatusText(status),
		Detail:     strings.TrimSpace(string(body)),
	}
}
