package handlers

import (
	"net/http"
	"time"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store *session.Store
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(store *session.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session,omitempty"`
}

// Liveness reports that the process is up.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// Readiness reports that the workflow is wired and able to serve. The
// current session status is included for operator convenience.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Session:   string(snap.Status),
	})
}
