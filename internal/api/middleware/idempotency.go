package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/risk-thresholds/internal/api/problem"
	"github.com/ayo6706/risk-thresholds/internal/authority"
	"github.com/ayo6706/risk-thresholds/internal/idempotency"
	"github.com/ayo6706/risk-thresholds/internal/observability"
	"go.uber.org/zap"
)

// IdempotencyHeader carries the client-chosen replay key.
const IdempotencyHeader = "Idempotency-Key"

// Threshold payloads are a handful of fields; anything larger is a mistake.
const maxIdempotentBody = 64 << 10

var idempotentMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key on mutating requests. Requests without the header pass
// through. Keys are scoped to the authenticated tenant and actor, so two
// approvers can never collide on the same client key.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		g := &idempotencyGuard{store: store, logger: logger, next: next}
		return http.HandlerFunc(g.serve)
	}
}

type idempotencyGuard struct {
	store  *idempotency.Store
	logger *zap.Logger
	next   http.Handler
}

func (g *idempotencyGuard) serve(w http.ResponseWriter, r *http.Request) {
	if _, ok := idempotentMethods[r.Method]; !ok {
		g.next.ServeHTTP(w, r)
		return
	}
	header := r.Header.Get(IdempotencyHeader)
	if header == "" {
		observability.IncrementIdempotencyEvent("missing_key")
		g.next.ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), http.StatusText(http.StatusBadRequest), "Failed to read request body")
		return
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	key := scopedKey(r.Context(), header)
	hash := hashRequest(r.Method, r.URL.Path, body)

	if g.replayed(w, r, key, hash) {
		return
	}
	reserved, err := g.store.Reserve(r.Context(), key, hash, r.Method, r.URL.Path)
	if err != nil {
		observability.IncrementIdempotencyEvent("reserve_error")
		g.logger.Error("idempotency reserve failed", zap.Error(err))
		problem.Write(w, r, http.StatusInternalServerError, problem.Type("idempotency/unavailable"), http.StatusText(http.StatusInternalServerError), "idempotency unavailable")
		return
	}
	if !reserved {
		// Lost the race to a concurrent retry of the same request.
		g.awaitOther(w, r, key, hash, "replay_after_reserve")
		return
	}
	observability.IncrementIdempotencyEvent("reserved")
	g.record(w, r, key, hash)
}

// replayed answers from a stored or in-flight response when one exists.
func (g *idempotencyGuard) replayed(w http.ResponseWriter, r *http.Request, key, hash string) bool {
	rec, err := g.store.Lookup(r.Context(), key, hash)
	switch {
	case err == nil:
		observability.IncrementIdempotencyEvent("replay")
		respondFromRecord(w, rec)
		return true
	case errors.Is(err, idempotency.ErrHashMismatch):
		observability.IncrementIdempotencyEvent("hash_mismatch")
		problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), http.StatusText(http.StatusConflict), "Idempotency-Key was already used for a different request")
		return true
	case errors.Is(err, idempotency.ErrInProgress):
		g.awaitOther(w, r, key, hash, "replay_after_wait")
		return true
	case !errors.Is(err, idempotency.ErrNotFound):
		observability.IncrementIdempotencyEvent("lookup_error")
		g.logger.Warn("idempotency lookup failed", zap.Error(err))
	}
	return false
}

func (g *idempotencyGuard) awaitOther(w http.ResponseWriter, r *http.Request, key, hash, outcome string) {
	rec, err := g.store.WaitForCompletion(r.Context(), key, hash)
	if err == nil {
		observability.IncrementIdempotencyEvent(outcome)
		respondFromRecord(w, rec)
		return
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	g.logger.Warn("idempotency wait failed", zap.Error(err))
	problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/in-progress"), http.StatusText(http.StatusConflict), "a request with this Idempotency-Key is still processing")
}

// record runs the handler and stores its response. Server errors release the
// key so the client may retry. Domain refusals such as 409 are kept, since
// repeating them would not change the outcome.
func (g *idempotencyGuard) record(w http.ResponseWriter, r *http.Request, key, hash string) {
	recorder := &bodyRecorder{ResponseWriter: w}
	g.next.ServeHTTP(recorder, r)

	if recorder.status == 0 {
		recorder.status = http.StatusOK
	}
	ctx := context.WithoutCancel(r.Context())
	if recorder.status >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, key); err != nil {
			g.logger.Warn("idempotency release failed", zap.Error(err), zap.String("key", key))
		}
		observability.IncrementIdempotencyEvent("released")
		return
	}

	contentType := recorder.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if _, err := g.store.Finalize(ctx, key, hash, recorder.status, recorder.body.Bytes(), contentType); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		g.logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", key))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

func scopedKey(ctx context.Context, header string) string {
	p, _ := authority.PrincipalFrom(ctx)
	return p.TenantID + ":" + p.ActorID + ":" + header
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method + "|" + path + "|"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (br *bodyRecorder) WriteHeader(code int) {
	br.status = code
	br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	if br.status == 0 {
		br.status = http.StatusOK
	}
	br.body.Write(b)
	return br.ResponseWriter.Write(b)
}

func respondFromRecord(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("X-Idempotent-Replay", rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}
