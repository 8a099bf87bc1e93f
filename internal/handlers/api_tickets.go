package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/alertflow/alertflow/internal/api"
	"github.com/alertflow/alertflow/internal/middleware"
	"github.com/alertflow/alertflow/internal/services"
)

// handleCreateTicket handles POST /api/v1/tickets
func (h *APIHandler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTicketRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	ticket, err := h.tickets.Create(services.CreateTicketInput{
		AlertIDs:   req.AlertIDs,
		Title:      req.Title,
		Resolution: req.Resolution,
		Submitter:  middleware.GetUserFromContext(r.Context()),
	})
	if err != nil {
		h.respondTicketError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, api.TicketToResponse(*ticket))
}

// handleGetTicket handles GET /api/v1/tickets/{id}
func (h *APIHandler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.tickets.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.respondTicketError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.TicketToResponse(*ticket))
}

// handleResolveTicket handles POST /api/v1/tickets/{id}/resolve
func (h *APIHandler) handleResolveTicket(w http.ResponseWriter, r *http.Request) {
	var req api.ResolveTicketRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	ticket, err := h.tickets.Resolve(chi.URLParam(r, "id"), req.Resolution)
	if err != nil {
		h.respondTicketError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.TicketToResponse(*ticket))
}

func (h *APIHandler) respondTicketError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrTicketNotFound):
		api.RespondError(w, http.StatusNotFound, "Ticket not found")
	case errors.Is(err, services.ErrAlertNotFound):
		api.RespondErrorWithCode(w, http.StatusUnprocessableEntity, "alert_not_found", "One or more alerts are not firing")
	case errors.Is(err, services.ErrTicketExists):
		api.RespondErrorWithCode(w, http.StatusConflict, "ticket_exists", err.Error())
	case errors.Is(err, services.ErrTicketClosed):
		api.RespondErrorWithCode(w, http.StatusConflict, "ticket_closed", "Ticket already resolved")
	default:
		h.log.Error("ticket operation failed", zap.Error(err))
		api.RespondError(w, http.StatusInternalServerError, "Ticket operation failed")
	}
}
