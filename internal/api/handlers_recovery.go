package api

import (
	"net/http"

	"github.com/everkeep/everkeep/server/internal/api/respond"
	"github.com/everkeep/everkeep/server/internal/recovery"
)

// RecoveryHandler lets an operator trigger a recovery sweep on demand.
// Sweeps are idempotent, so racing the background monitor is harmless.
type RecoveryHandler struct {
	mon *recovery.Monitor
}

func NewRecoveryHandler(mon *recovery.Monitor) *RecoveryHandler {
	return &RecoveryHandler{mon: mon}
}

// Run handles POST /api/recovery/run
func (h *RecoveryHandler) Run(w http.ResponseWriter, r *http.Request) {
	stats, err := h.mon.RunOnce(r.Context())
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, stats)
}
