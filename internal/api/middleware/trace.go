package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const scopeContextKey contextKey = "request_scope"

// requestScope is shared by every layer of one request. TraceMiddleware
// creates it and AuthMiddleware records the principal, so the outer logging
// and recovery layers can report who acted on which tenant.
type requestScope struct {
	traceID  string
	actorID  string
	tenantID string
}

func (s *requestScope) fields() []zap.Field {
	fields := []zap.Field{zap.String("trace_id", s.traceID)}
	if s.tenantID != "" {
		fields = append(fields, zap.String("tenant_id", s.tenantID), zap.String("actor_id", s.actorID))
	}
	return fields
}

// TraceMiddleware ensures each request has a trace identifier propagated via
// context and headers. An inbound X-Request-ID is honoured when no trace id
// is supplied.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = r.Header.Get("X-Request-ID")
		}
		if traceID == "" || len(traceID) > 128 {
			traceID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), scopeContextKey, &requestScope{traceID: traceID})
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func scopeFrom(ctx context.Context) *requestScope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(scopeContextKey).(*requestScope)
	return scope
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if scope := scopeFrom(ctx); scope != nil {
		return scope.traceID
	}
	return ""
}
