package api

import (
	"net/http"

	"github.com/ayo6706/risk-thresholds/internal/api/handler"
	"github.com/ayo6706/risk-thresholds/internal/api/middleware"
	"github.com/ayo6706/risk-thresholds/internal/api/spec"
	"github.com/ayo6706/risk-thresholds/internal/config"
	"github.com/ayo6706/risk-thresholds/internal/idempotency"
	"github.com/ayo6706/risk-thresholds/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles the domain services the HTTP layer calls into.
type Services struct {
	Thresholds    *service.ThresholdService
	Approvals     *service.ApprovalService
	Audit         *service.AuditService
	Notifications *service.NotificationService
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	redis     redis.Cmdable
	idemStore *idempotency.Store
	svc       Services
}

// NewRouter wires the HTTP surface. db, redis and idemStore may be nil.
func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, redis redis.Cmdable, idemStore *idempotency.Store, svc Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, db: db, redis: redis, idemStore: idemStore, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	thresholdHandler := handler.NewThresholdHandler(api.svc.Thresholds, api.svc.Approvals)
	changeHandler := handler.NewChangeRequestHandler(api.svc.Approvals)
	eventHandler := handler.NewEventHandler(api.svc.Audit)
	notificationHandler := handler.NewNotificationHandler(api.svc.Notifications)

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.RateLimitRPS))
		r.Get("/healthz", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	})

	// Protected Routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.RateLimitRPS))
		r.Use(middleware.IdempotencyMiddleware(api.idemStore, api.logger))

		// Thresholds
		r.Get("/thresholds", thresholdHandler.ListThresholds)
		r.Get("/thresholds/{category}/{asset}", thresholdHandler.GetThreshold)
		r.Put("/thresholds/{category}/{asset}", thresholdHandler.SetThreshold)
		r.Get("/thresholds/{category}/{asset}/history", thresholdHandler.History)

		// Change requests
		r.Post("/threshold-changes", changeHandler.Create)
		r.Get("/threshold-changes", changeHandler.List)
		r.Get("/threshold-changes/pending", changeHandler.ListPending)
		r.Get("/threshold-changes/{id}", changeHandler.Get)
		r.Post("/threshold-changes/{id}/approve", changeHandler.Approve)
		r.Post("/threshold-changes/{id}/reject", changeHandler.Reject)

		// Audit and notifications
		r.Get("/threshold-events", eventHandler.ListEvents)
		r.Get("/notifications", notificationHandler.List)
		r.Post("/notifications/{id}/read", notificationHandler.MarkRead)
	})

	return r
}
