package handler

import (
	"net/http"

	"github.com/ayo6706/risk-thresholds/internal/service"
	"github.com/google/uuid"
)

type EventHandler struct {
	audit *service.AuditService
}

func NewEventHandler(audit *service.AuditService) *EventHandler {
	return &EventHandler{audit: audit}
}

// ListEvents handles GET /v1/threshold-events?request_id=&limit=
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	var requestID *uuid.UUID
	if raw := r.URL.Query().Get("request_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "Invalid request_id")
			return
		}
		requestID = &id
	}
	limit, err := queryInt32(r, "limit", 100)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}

	events, err := h.audit.ListEvents(r.Context(), p.TenantID, requestID, limit)
	if err != nil {
		respondServiceError(w, r, err, "list threshold events")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
