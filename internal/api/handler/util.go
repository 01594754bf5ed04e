package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/risk-thresholds/internal/api/problem"
	"github.com/ayo6706/risk-thresholds/internal/authority"
	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string, opts ...problem.Option) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message, opts...)
}

// respondServiceError maps domain failures onto problem documents. Anything
// unrecognised is logged and reported as a 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	if status, ok := domain.CurrentStatus(err); ok {
		RespondError(w, r, http.StatusConflict, "threshold/invalid-state", err.Error(), problem.WithCurrentStatus(string(status)))
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "threshold/not-found", "resource not found")
	case errors.Is(err, domain.ErrInvalidAmount):
		RespondError(w, r, http.StatusBadRequest, "threshold/invalid-amount", err.Error())
	case errors.Is(err, domain.ErrInvalidCategory):
		RespondError(w, r, http.StatusBadRequest, "threshold/invalid-category", err.Error())
	case errors.Is(err, domain.ErrMissingReason):
		RespondError(w, r, http.StatusBadRequest, "threshold/missing-reason", err.Error())
	case errors.Is(err, domain.ErrSelfApproval):
		RespondError(w, r, http.StatusForbidden, "threshold/self-approval", err.Error())
	case errors.Is(err, domain.ErrInsufficientAuthority):
		RespondError(w, r, http.StatusForbidden, "threshold/insufficient-authority", err.Error())
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error(op+" failed", zap.Error(err), zap.String("path", r.URL.Path))
		RespondError(w, r, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func requestPrincipal(w http.ResponseWriter, r *http.Request) (authority.Principal, bool) {
	p, ok := authority.PrincipalFrom(r.Context())
	if !ok || p.ActorID == "" || p.TenantID == "" {
		RespondError(w, r, http.StatusUnauthorized, "auth/missing-principal", "missing caller in auth context")
		return authority.Principal{}, false
	}
	return p, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt32 reads a non-negative integer query parameter, returning def when absent.
func queryInt32(r *http.Request, name string, def int32) (int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return int32(v), nil
}

// decodeBody decodes a JSON body, reporting amount errors with their own type.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			RespondError(w, r, http.StatusBadRequest, "threshold/invalid-amount", err.Error())
			return false
		}
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "40001", "40P01":
		return http.StatusServiceUnavailable, "db/contention", "request conflicted with a concurrent update, retry", true
	default:
		return 0, "", "", false
	}
}
