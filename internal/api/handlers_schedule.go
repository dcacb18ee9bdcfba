package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/everkeep/everkeep/server/internal/api/respond"
	"github.com/everkeep/everkeep/server/internal/api/validate"
	"github.com/everkeep/everkeep/server/internal/model"
	"github.com/everkeep/everkeep/server/internal/services"
)

// ScheduleHandler exposes the reminder plan and the operator surface for
// failed entries.
type ScheduleHandler struct {
	svc *services.ConditionService
}

func NewScheduleHandler(svc *services.ConditionService) *ScheduleHandler {
	return &ScheduleHandler{svc: svc}
}

// MessageSchedule handles GET /api/messages/{messageId}/schedule
func (h *ScheduleHandler) MessageSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["messageId"]
	if err := validate.Ref("messageId", id); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	entries, err := h.svc.MessageSchedule(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, scheduleResponse{Entries: entries, Count: len(entries)})
}

// ListEntries handles GET /api/schedule/entries?status=failed&limit=50
func (h *ScheduleHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	status, err := validate.EntryStatus(r.URL.Query().Get("status"))
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			respond.WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
	}
	entries, err := h.svc.EntriesByStatus(r.Context(), status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, scheduleResponse{Entries: entries, Count: len(entries)})
}

// RequeueEntry handles POST /api/schedule/entries/{entryId}/requeue
func (h *ScheduleHandler) RequeueEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["entryId"]
	if err := validate.UUID("entryId", id); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	entry, err := h.svc.RequeueEntry(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, entry)
}

type scheduleResponse struct {
	Entries []*model.ScheduleEntry `json:"entries"`
	Count   int                    `json:"count"`
}
