package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is an RFC 7807 problem response from the daemon.
type APIError struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	return e.Title
}

// IsNotFound returns true if the server returned 404.
func (e *APIError) IsNotFound() bool {
	return e.Status == http.StatusNotFound
}

// IsConflict returns true if the request was rejected by a phase guard.
func (e *APIError) IsConflict() bool {
	return e.Status == http.StatusConflict
}

// IsBusy returns true if the daemon refused the request because a step
// is already in flight.
func (e *APIError) IsBusy() bool {
	return e.Status == http.StatusServiceUnavailable
}

// IsTimeout returns true if a workflow step exceeded its deadline.
func (e *APIError) IsTimeout() bool {
	return e.Status == http.StatusGatewayTimeout
}

// decodeAPIError builds an APIError from an error response body.
func decodeAPIError(statusCode int, body []byte) *APIError {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Title != "" {
		apiErr.Status = statusCode
		return &apiErr
	}
	return &APIError{
		Status: statusCode,
		Title:  http.StatusText(statusCode),
		Detail: string(body),
	}
}
