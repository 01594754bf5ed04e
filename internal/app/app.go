package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/api"
	"github.com/ayo6706/risk-thresholds/internal/api/middleware"
	"github.com/ayo6706/risk-thresholds/internal/config"
	"github.com/ayo6706/risk-thresholds/internal/idempotency"
	"github.com/ayo6706/risk-thresholds/internal/observability"
	"github.com/ayo6706/risk-thresholds/internal/worker"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and expiry worker, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := Setup(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger.Info("runtime ready",
		zap.String("storage", cfg.StorageBackend),
		zap.String("lock", cfg.LockBackend),
		zap.String("authority", cfg.AuthoritySource),
		zap.Bool("redis", rt.Redis != nil))

	if rt.FileOracle != nil {
		if err := rt.FileOracle.Watch(ctx); err != nil {
			logger.Warn("authority file hot reload disabled", zap.Error(err))
		}
	}

	var idemStore *idempotency.Store
	if rt.Redis != nil {
		idemStore = idempotency.NewStore(rt.Redis, cfg.IdempotencyTTL)
	}

	expiryWorker := worker.NewExpiryWorker(rt.Approvals).WithInterval(cfg.SweepInterval)
	stopWorker := expiryWorker.Run(ctx)
	logger.Info("expiry worker started", zap.Duration("interval", cfg.SweepInterval))

	router := api.NewRouter(cfg, logger, rt.Pool, rt.RedisCmdable(), idemStore, api.Services{
		Thresholds:    rt.Thresholds,
		Approvals:     rt.Approvals,
		Audit:         rt.Audit,
		Notifications: rt.Notifications,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping expiry worker")
	stopWorker()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// Setup installs the global logger, metrics and JWT settings from cfg.
func Setup(cfg *config.Config) (*zap.Logger, error) {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)
	return logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
