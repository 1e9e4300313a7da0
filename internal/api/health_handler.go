package api

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	storage Pinger
}

// NewHealthHandler creates a new health handler. storage may be nil.
func NewHealthHandler(storage Pinger) *HealthHandler {
	return &HealthHandler{storage: storage}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health (liveness probe)
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now()})
}

// Ready handles GET /ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok"}
	status, code := "ready", http.StatusOK

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
		}
	}

	sendJSON(w, code, ReadinessResponse{Status: status, Timestamp: time.Now(), Checks: checks})
}
