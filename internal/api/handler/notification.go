package handler

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/ayo6706/risk-thresholds/internal/service"
)

type NotificationHandler struct {
	notifications *service.NotificationService
}

func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List handles GET /v1/notifications?role=&unread=&limit=
// Callers only see notifications addressed to roles they hold.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}

	held := slices.DeleteFunc(slices.Clone(p.Roles), func(role domain.Role) bool {
		return role != domain.RoleSupervisor && role != domain.RoleCompliance
	})
	roles := held
	if raw := r.URL.Query().Get("role"); raw != "" {
		roles = slices.DeleteFunc(service.ParseRoles(raw), func(role domain.Role) bool {
			return !slices.Contains(held, role)
		})
	}
	if len(roles) == 0 {
		RespondError(w, r, http.StatusForbidden, "notification/role-required", "caller holds none of the requested notification roles")
		return
	}

	unread := false
	if raw := r.URL.Query().Get("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-unread", "unread must be a boolean")
			return
		}
		unread = v
	}
	limit, err := queryInt32(r, "limit", 50)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}

	notes, err := h.notifications.List(r.Context(), models.NotificationFilter{
		TenantID:   p.TenantID,
		Roles:      roles,
		UnreadOnly: unread,
		Limit:      limit,
	})
	if err != nil {
		respondServiceError(w, r, err, "list notifications")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"notifications": notes})
}

// MarkRead handles POST /v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, ok := requestPrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	n, err := h.notifications.MarkRead(r.Context(), p.TenantID, id)
	if err != nil {
		respondServiceError(w, r, err, "mark notification read")
		return
	}
	RespondJSON(w, http.StatusOK, n)
}
