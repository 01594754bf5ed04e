package handler

import (
	"net/http"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/service"
	"github.com/go-chi/chi/v5"
)

// ThresholdHandler exposes threshold reads and the direct set operation.
type ThresholdHandler struct {
	thresholds *service.ThresholdService
	approvals  *service.ApprovalService
}

func NewThresholdHandler(thresholds *service.ThresholdService, approvals *service.ApprovalService) *ThresholdHandler {
	return &ThresholdHandler{thresholds: thresholds, approvals: approvals}
}

// SetThresholdRequest is the body of PUT /v1/thresholds/{category}/{asset}.
type SetThresholdRequest struct {
	Amount domain.Amount `json:"amount"`
}

// ListThresholds handles GET /v1/thresholds
func (h *ThresholdHandler) ListThresholds(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	configs, err := h.thresholds.ListThresholds(r.Context(), p.TenantID)
	if err != nil {
		respondServiceError(w, r, err, "list thresholds")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"thresholds": configs})
}

// GetThreshold handles GET /v1/thresholds/{category}/{asset}
// It returns the effective threshold, falling back to the category default and floor.
func (h *ThresholdHandler) GetThreshold(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	cfg, err := h.thresholds.GetEffective(r.Context(), p.TenantID, pathCategory(r), chi.URLParam(r, "asset"))
	if err != nil {
		respondServiceError(w, r, err, "get threshold")
		return
	}
	RespondJSON(w, http.StatusOK, cfg)
}

// History handles GET /v1/thresholds/{category}/{asset}/history
func (h *ThresholdHandler) History(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	limit, err := queryInt32(r, "limit", 50)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}
	entries, err := h.thresholds.History(r.Context(), p.TenantID, pathCategory(r), chi.URLParam(r, "asset"), limit)
	if err != nil {
		respondServiceError(w, r, err, "threshold history")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// SetThreshold handles PUT /v1/thresholds/{category}/{asset}
// Small changes apply immediately (200); large ones wait for a second approver (202).
func (h *ThresholdHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	var body SetThresholdRequest
	if !decodeBody(w, r, &body) {
		return
	}

	req, err := h.approvals.Propose(r.Context(), service.ProposeRequest{
		TenantID:        p.TenantID,
		Category:        pathCategory(r),
		CurrencyOrAsset: chi.URLParam(r, "asset"),
		NewAmount:       body.Amount,
		ActorID:         p.ActorID,
	})
	if err != nil {
		respondServiceError(w, r, err, "set threshold")
		return
	}

	status := http.StatusOK
	if req.Status() == domain.StatusPending {
		status = http.StatusAccepted
	}
	RespondJSON(w, status, req)
}

func pathCategory(r *http.Request) domain.Category {
	return domain.Category(chi.URLParam(r, "category"))
}
