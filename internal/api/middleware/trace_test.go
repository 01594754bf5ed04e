package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/authority"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceMiddlewareReusesInboundID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", w.Header().Get("X-Trace-ID"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "req-123", seen)
}

func TestLoggingMiddlewareRecordsPrincipal(t *testing.T) {
	configureJWT(t)
	token, err := SignToken(authority.Principal{ActorID: "alice", TenantID: "acme"}, time.Hour)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.InfoLevel)
	h := TraceMiddleware(LoggingMiddleware(zap.New(core))(AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))))

	req := httptest.NewRequest(http.MethodPost, "/v1/threshold-changes/x/approve", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "acme", fields["tenant_id"])
	assert.Equal(t, "alice", fields["actor_id"])
	assert.Equal(t, int64(http.StatusConflict), fields["status"])
}

func TestRecoverMiddlewareWritesProblem(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := TraceMiddleware(RecoverMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/thresholds", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}
