package handler

import (
	"net/http"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/service"
)

// ChangeRequestHandler handles the dual-control request lifecycle.
type ChangeRequestHandler struct {
	approvals *service.ApprovalService
}

func NewChangeRequestHandler(approvals *service.ApprovalService) *ChangeRequestHandler {
	return &ChangeRequestHandler{approvals: approvals}
}

// CreateChangeRequest is the body of POST /v1/threshold-changes.
type CreateChangeRequest struct {
	Category        string        `json:"category"`
	CurrencyOrAsset string        `json:"currency_or_asset"`
	Amount          domain.Amount `json:"amount"`
}

// RejectChangeRequest is the body of POST /v1/threshold-changes/{id}/reject.
type RejectChangeRequest struct {
	Reason string `json:"reason"`
}

// Create handles POST /v1/threshold-changes
// The request always waits for a second approver.
func (h *ChangeRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	var body CreateChangeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Category == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-category", "category is required")
		return
	}

	req, err := h.approvals.RequestChange(r.Context(), service.ProposeRequest{
		TenantID:        p.TenantID,
		Category:        domain.Category(body.Category),
		CurrencyOrAsset: body.CurrencyOrAsset,
		NewAmount:       body.Amount,
		ActorID:         p.ActorID,
	})
	if err != nil {
		respondServiceError(w, r, err, "request threshold change")
		return
	}
	w.Header().Set("Location", "/v1/threshold-changes/"+req.RequestID.String())
	RespondJSON(w, http.StatusCreated, req)
}

// Get handles GET /v1/threshold-changes/{id}
func (h *ChangeRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	req, err := h.approvals.Get(r.Context(), p.TenantID, id)
	if err != nil {
		respondServiceError(w, r, err, "get threshold change")
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

// ListPending handles GET /v1/threshold-changes/pending
func (h *ChangeRequestHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	reqs, err := h.approvals.ListPending(r.Context(), p.TenantID)
	if err != nil {
		respondServiceError(w, r, err, "list pending threshold changes")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"requests": reqs})
}

// List handles GET /v1/threshold-changes?status=&limit=&offset=
func (h *ChangeRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	var status domain.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = domain.Status(raw)
		switch status {
		case domain.StatusPending, domain.StatusApproved, domain.StatusRejected, domain.StatusExpired:
		default:
			RespondError(w, r, http.StatusBadRequest, "request/invalid-status", "status must be one of PENDING, APPROVED, REJECTED, EXPIRED")
			return
		}
	}
	limit, err := queryInt32(r, "limit", 50)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}
	offset, err := queryInt32(r, "offset", 0)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", err.Error())
		return
	}

	reqs, err := h.approvals.ListRequests(r.Context(), p.TenantID, status, limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "list threshold changes")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"requests": reqs, "limit": limit, "offset": offset})
}

// Approve handles POST /v1/threshold-changes/{id}/approve
func (h *ChangeRequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	req, err := h.approvals.Approve(r.Context(), p.TenantID, id, p.ActorID)
	if err != nil {
		respondServiceError(w, r, err, "approve threshold change")
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

// Reject handles POST /v1/threshold-changes/{id}/reject
func (h *ChangeRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body RejectChangeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := h.approvals.Reject(r.Context(), p.TenantID, id, p.ActorID, body.Reason)
	if err != nil {
		respondServiceError(w, r, err, "reject threshold change")
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

