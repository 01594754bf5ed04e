package middleware

import (
	"net/http"

	"github.com/ayo6706/risk-thresholds/internal/api/problem"
	"go.uber.org/zap"
)

// RecoverMiddleware converts panics into an internal problem response. The
// log line carries the request scope so the failing tenant and actor are known.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				fields := []zap.Field{
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				}
				if scope := scopeFrom(r.Context()); scope != nil {
					fields = append(fields, scope.fields()...)
				}
				logger.Error("panic recovered", fields...)

				problem.Write(w, r, http.StatusInternalServerError, problem.Type("internal"),
					http.StatusText(http.StatusInternalServerError), "unexpected server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
