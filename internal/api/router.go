package api

import (
	"github.com/gorilla/mux"

	apirecovery "github.com/everkeep/everkeep/server/internal/api/recovery"
	"github.com/everkeep/everkeep/server/internal/health"
	"github.com/everkeep/everkeep/server/internal/recovery"
	"github.com/everkeep/everkeep/server/internal/services"
)

// NewRouter wires every API route over the condition service. mon may be
// nil, in which case the operator recovery endpoint is not registered.
func NewRouter(svc *services.ConditionService, isHealthy func() bool, store health.HealthPinger, mon *recovery.Monitor) *mux.Router {
	router := mux.NewRouter()

	// Global middlewares
	router.Use(apirecovery.Middleware)

	conditionHandler := NewConditionHandler(svc)
	scheduleHandler := NewScheduleHandler(svc)
	healthHandler := NewHealthHandler(isHealthy, store)

	// Health endpoints
	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.HandleFunc("/api/health/db", healthHandler.CheckStoreHealth).Methods("GET")

	// Condition lifecycle
	router.HandleFunc("/api/conditions", conditionHandler.CreateCondition).Methods("POST")
	router.HandleFunc("/api/conditions/{conditionId:[0-9a-fA-F-]{36}}", conditionHandler.GetCondition).Methods("GET")
	router.HandleFunc("/api/conditions/{conditionId:[0-9a-fA-F-]{36}}/arm", conditionHandler.Arm).Methods("POST")
	router.HandleFunc("/api/conditions/{conditionId:[0-9a-fA-F-]{36}}/disarm", conditionHandler.Disarm).Methods("POST")
	router.HandleFunc("/api/conditions/{conditionId:[0-9a-fA-F-]{36}}/checkin", conditionHandler.CheckIn).Methods("POST")
	router.HandleFunc("/api/conditions/{conditionId:[0-9a-fA-F-]{36}}/panic", conditionHandler.FirePanic).Methods("POST")

	// Message-scoped views
	router.HandleFunc("/api/messages/{messageId}/condition", conditionHandler.GetConditionByMessage).Methods("GET")
	router.HandleFunc("/api/messages/{messageId}/schedule", scheduleHandler.MessageSchedule).Methods("GET")

	// Operator surface for schedule entries
	router.HandleFunc("/api/schedule/entries", scheduleHandler.ListEntries).Methods("GET")
	router.HandleFunc("/api/schedule/entries/{entryId:[0-9a-fA-F-]{36}}/requeue", scheduleHandler.RequeueEntry).Methods("POST")

	// On-demand recovery sweep
	if mon != nil {
		recoveryHandler := NewRecoveryHandler(mon)
		router.HandleFunc("/api/recovery/run", recoveryHandler.Run).Methods("POST")
	}

	return router
}
