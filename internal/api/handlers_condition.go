package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/everkeep/everkeep/server/internal/api/respond"
	"github.com/everkeep/everkeep/server/internal/api/validate"
	"github.com/everkeep/everkeep/server/internal/model"
	"github.com/everkeep/everkeep/server/internal/services"
)

// ConditionHandler is the thin transport layer over the condition service.
type ConditionHandler struct {
	svc *services.ConditionService
}

func NewConditionHandler(svc *services.ConditionService) *ConditionHandler {
	return &ConditionHandler{svc: svc}
}

// CreateCondition handles POST /api/conditions
func (h *ConditionHandler) CreateCondition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID         string     `json:"messageId"`
		OwnerID           string     `json:"ownerId"`
		Kind              string     `json:"kind"`
		HoursThreshold    *int       `json:"hoursThreshold,omitempty"`
		MinutesThreshold  *int       `json:"minutesThreshold,omitempty"`
		TriggerDate       *time.Time `json:"triggerDate,omitempty"`
		ReminderLeadTimes []int      `json:"reminderLeadTimes,omitempty"`
		Recipients        []string   `json:"recipients,omitempty"`
		KeepArmed         bool       `json:"keepArmed,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}

	if err := validate.Ref("messageId", req.MessageID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := validate.Ref("ownerId", req.OwnerID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := validate.TriggerKind(req.Kind); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := validate.LeadTimes(req.ReminderLeadTimes); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	cond, err := h.svc.CreateCondition(r.Context(), &model.Condition{
		MessageID:         req.MessageID,
		OwnerID:           req.OwnerID,
		Kind:              model.TriggerKind(req.Kind),
		HoursThreshold:    req.HoursThreshold,
		MinutesThreshold:  req.MinutesThreshold,
		TriggerDate:       req.TriggerDate,
		ReminderLeadTimes: req.ReminderLeadTimes,
		Recipients:        req.Recipients,
		KeepArmed:         req.KeepArmed,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, cond)
}

// GetCondition handles GET /api/conditions/{conditionId}
func (h *ConditionHandler) GetCondition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["conditionId"]
	if err := validate.UUID("conditionId", id); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	cond, err := h.svc.GetCondition(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, cond)
}

// GetConditionByMessage handles GET /api/messages/{messageId}/condition
func (h *ConditionHandler) GetConditionByMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["messageId"]
	if err := validate.Ref("messageId", id); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	cond, err := h.svc.GetConditionByMessage(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, cond)
}

// Arm handles POST /api/conditions/{conditionId}/arm
func (h *ConditionHandler) Arm(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["conditionId"]
	if err := validate.UUID("conditionId", id); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	deadline, err := h.svc.Arm(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, armResponse{Active: true, Deadline: deadline})
}

// Disarm handles POST /api/conditions/{conditionId}/disarm
func (h *ConditionHandler) Disarm(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["conditionId"]
	if err := validate.UUID("conditionId", id); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := h.svc.Disarm(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, armResponse{Active: false})
}

// CheckIn handles POST /api/conditions/{conditionId}/checkin
func (h *ConditionHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["conditionId"]
	if err := validate.UUID("conditionId", id); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	deadline, err := h.svc.CheckIn(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, armResponse{Active: true, Deadline: deadline})
}

// FirePanic handles POST /api/conditions/{conditionId}/panic
func (h *ConditionHandler) FirePanic(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["conditionId"]
	if err := validate.UUID("conditionId", id); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := h.svc.FirePanic(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

type armResponse struct {
	Active   bool       `json:"active"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		respond.WriteNotFound(w, err.Error())
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrInvalidConditionKind):
		respond.WriteBadRequest(w, err.Error())
	case errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrNotActive):
		respond.WriteConflict(w, err.Error())
	case errors.Is(err, model.ErrDispatchFailure):
		respond.WriteError(w, http.StatusBadGateway, err.Error())
	default:
		respond.WriteInternalError(w, err.Error())
	}
}
