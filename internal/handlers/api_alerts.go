package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/alertflow/alertflow/internal/api"
	"github.com/alertflow/alertflow/internal/middleware"
	"github.com/alertflow/alertflow/internal/services"
	"github.com/alertflow/alertflow/internal/tasklock"
)

// defaultLedgerRange is how far back GET /notifications looks without ?from
const defaultLedgerRange = 7 * 24 * time.Hour

// APIHandler serves the authenticated query API
type APIHandler struct {
	query   *services.QueryService
	tickets *services.TicketService
	owners  *services.OwnershipService
	locks   *tasklock.Manager
	log     *zap.Logger
	now     func() time.Time
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(
	query *services.QueryService,
	tickets *services.TicketService,
	owners *services.OwnershipService,
	locks *tasklock.Manager,
	log *zap.Logger,
) *APIHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIHandler{
		query:   query,
		tickets: tickets,
		owners:  owners,
		locks:   locks,
		log:     log,
		now:     time.Now,
	}
}

// Routes mounts the API on r
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/alerts", h.handleListAlerts)
	r.Get("/alerts/{id}", h.handleGetAlert)

	r.Post("/tickets", h.handleCreateTicket)
	r.Get("/tickets/{id}", h.handleGetTicket)
	r.Post("/tickets/{id}/resolve", h.handleResolveTicket)

	r.Get("/notifications", h.handleListNotifications)
	r.Get("/task-locks", h.handleListTaskLocks)
}

// scope resolves the caller's visibility, answering 403 itself on failure
func (h *APIHandler) scope(w http.ResponseWriter, r *http.Request) (services.Scope, bool) {
	user := middleware.GetUserFromContext(r.Context())
	sc, err := h.owners.ScopeFor(user)
	if err != nil {
		h.log.Warn("failed to resolve operator scope", zap.String("username", user), zap.Error(err))
		api.RespondError(w, http.StatusForbidden, "Unknown operator")
		return services.Scope{}, false
	}
	return sc, true
}

// handleListAlerts handles GET /api/v1/alerts
func (h *APIHandler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scope(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page := api.ParseCursor(r)
	filter := services.AlertFilter{
		IDPrefix: q.Get("id"),
		Severity: q.Get("severity"),
		Status:   q.Get("status"),
		Type:     q.Get("type"),
		Cluster:  q.Get("cluster"),
		Limit:    page.Limit,
		Cursor:   page.Cursor,
	}
	for key, dst := range map[string]**time.Time{
		"start_from":   &filter.StartFrom,
		"start_to":     &filter.StartTo,
		"created_from": &filter.CreatedFrom,
		"created_to":   &filter.CreatedTo,
	} {
		t, err := api.ParseTimeParam(r, key)
		if err != nil {
			api.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		*dst = t
	}
	if s := filter.Status; s != "" && s != "firing" && s != "resolved" {
		api.RespondError(w, http.StatusBadRequest, "status must be firing or resolved")
		return
	}

	result, err := h.query.ListAlerts(sc, filter)
	if errors.Is(err, services.ErrInvalidCursor) {
		api.RespondError(w, http.StatusBadRequest, "Invalid cursor")
		return
	}
	if err != nil {
		h.log.Error("failed to list alerts", zap.Error(err))
		api.RespondError(w, http.StatusInternalServerError, "Failed to list alerts")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.AlertListResponse{
		Alerts:     api.AlertsToResponses(result.Alerts),
		NextCursor: result.NextCursor,
	})
}

// handleGetAlert handles GET /api/v1/alerts/{id}
func (h *APIHandler) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scope(w, r)
	if !ok {
		return
	}

	a, err := h.query.GetAlert(sc, chi.URLParam(r, "id"))
	if errors.Is(err, services.ErrAlertNotFound) {
		api.RespondError(w, http.StatusNotFound, "Alert not found")
		return
	}
	if err != nil {
		h.log.Error("failed to get alert", zap.Error(err))
		api.RespondError(w, http.StatusInternalServerError, "Failed to get alert")
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AlertToResponse(*a))
}
