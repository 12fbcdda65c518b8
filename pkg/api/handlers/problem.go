// Package handlers provides HTTP handlers for the nwbd REST API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/werr"
)

// Problem represents an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	// If not set, defaults to "about:blank".
	Type string `json:"type,omitempty"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	problem := &Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}

	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// BadRequest writes a 400 Bad Request problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

// NotFound writes a 404 Not Found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusNotFound, "Not Found", detail)
}

// Conflict writes a 409 Conflict problem response.
func Conflict(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusConflict, "Conflict", detail)
}

// InternalServerError writes a 500 Internal Server Error problem response.
func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// WriteWorkflowError maps a typed workflow error onto an HTTP problem
// response. Precondition failures on phase-guarded endpoints surface as
// 409 rather than 400: the request body was fine, the session state was
// not.
func WriteWorkflowError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrBadTransition) {
		Conflict(w, err.Error())
		return
	}

	var werror *werr.Error
	if !errors.As(err, &werror) {
		InternalServerError(w, err.Error())
		return
	}

	switch werror.Kind {
	case werr.KindBadRequest:
		Conflict(w, werror.Message)
	case werr.KindBusy:
		WriteProblem(w, http.StatusServiceUnavailable, "Busy", werror.Message)
	case werr.KindTimeout:
		WriteProblem(w, http.StatusGatewayTimeout, "Gateway Timeout", werror.Message)
	case werr.KindDependencyFailed:
		WriteProblem(w, http.StatusBadGateway, "Bad Gateway", werror.Message)
	case werr.KindNoProgress:
		Conflict(w, werror.Message)
	default:
		InternalServerError(w, werror.Message)
	}
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns false if decoding fails; the error response is written.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}
