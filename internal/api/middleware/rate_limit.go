package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/api/problem"
	"github.com/ayo6706/risk-thresholds/internal/authority"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits unauthenticated routes per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded(rps, "this IP")),
	)
}

// AuthRateLimiter limits each actor within a tenant independently. It must run
// after AuthMiddleware; requests without a principal fall back to the IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(principalKey),
		httprate.WithLimitHandler(limitExceeded(rps, "this actor")),
	)
}

func principalKey(r *http.Request) (string, error) {
	if p, ok := authority.PrincipalFrom(r.Context()); ok && p.ActorID != "" {
		return p.TenantID + ":" + p.ActorID, nil
	}
	return httprate.KeyByIP(r)
}

func limitExceeded(rps int, subject string) http.HandlerFunc {
	detail := fmt.Sprintf("Rate limit of %d req/s exceeded for %s", rps, subject)
	return func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests), detail)
	}
}
