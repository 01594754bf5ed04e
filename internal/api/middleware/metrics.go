package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/observability"
	"github.com/go-chi/chi/v5"
)

// MetricsMiddleware records in-flight requests and per-route latency. The
// route pattern is read after routing so ids never become label values.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := observability.TrackInFlight(r.Method)
		defer done()

		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		observability.ObserveHTTP(r.Method, routePattern(r), rw.status, time.Since(start))
	})
}

// routePattern falls back to a fixed label for unmatched paths.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
