package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/alertflow/alertflow/internal/api"
	"github.com/alertflow/alertflow/internal/middleware"
)

// handleListNotifications handles GET /api/v1/notifications. Operators see
// only their own ledger rows; the range defaults to the last seven days.
func (h *APIHandler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	op, err := h.owners.Operator(user)
	if err != nil {
		api.RespondError(w, http.StatusForbidden, "Unknown operator")
		return
	}

	from, err := api.ParseTimeParam(r, "from")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := api.ParseTimeParam(r, "to")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := h.now()
	if to == nil {
		to = &now
	}
	if from == nil {
		f := to.Add(-defaultLedgerRange)
		from = &f
	}
	if from.After(*to) {
		api.RespondError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	rows, err := h.query.ListNotifications(op.Email, from.UTC(), to.UTC())
	if err != nil {
		h.log.Error("failed to list notifications", zap.Error(err))
		api.RespondError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"email":         op.Email,
		"notifications": api.NotificationsToResponses(rows),
	})
}

// handleListTaskLocks handles GET /api/v1/task-locks
func (h *APIHandler) handleListTaskLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := h.locks.List(r.Context())
	if err != nil {
		h.log.Error("failed to list task locks", zap.Error(err))
		api.RespondError(w, http.StatusInternalServerError, "Failed to list task locks")
		return
	}
	now := h.now()
	out := make([]api.TaskLockResponse, len(locks))
	for i, l := range locks {
		out[i] = api.TaskLockToResponse(l, now)
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{"task_locks": out})
}
