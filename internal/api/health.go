package api

import (
	"net/http"
	"time"

	"github.com/everkeep/everkeep/server/internal/api/respond"
	"github.com/everkeep/everkeep/server/internal/health"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	isHealthy func() bool
	store     health.HealthPinger
}

// NewHealthHandler wires the aggregated service flag and the store pinger.
func NewHealthHandler(isHealthy func() bool, store health.HealthPinger) *HealthHandler {
	if isHealthy == nil {
		isHealthy = func() bool { return false }
	}
	return &HealthHandler{isHealthy: isHealthy, store: store}
}

// CheckHealth handles GET /api/health
// Always returns 200; body reports healthy/unhealthy. 500 indicates handler failure only.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "unhealthy"
	if h.isHealthy() {
		status = "healthy"
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// CheckStoreHealth handles GET /api/health/db with a live probe.
func (h *HealthHandler) CheckStoreHealth(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	if err := h.store.HealthPing(r.Context()); err != nil {
		respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
