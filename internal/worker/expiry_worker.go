package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/observability"
	"go.uber.org/zap"
)

// Sweeper expires PENDING requests whose deadline is at or before now.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// ExpiryWorker periodically sweeps overdue threshold change requests.
type ExpiryWorker struct {
	sweeper  Sweeper
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewExpiryWorker constructs a worker with a one minute interval.
func NewExpiryWorker(sweeper Sweeper) *ExpiryWorker {
	return &ExpiryWorker{
		sweeper:  sweeper,
		interval: time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the sweep interval.
func (w *ExpiryWorker) WithInterval(interval time.Duration) *ExpiryWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithClock overrides the time source.
func (w *ExpiryWorker) WithClock(now func() time.Time) *ExpiryWorker {
	if now != nil {
		w.now = now
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *ExpiryWorker) Start(ctx context.Context) {
	zap.L().Info("expiry worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("expiry worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("expiry worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ExpiryWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ExpiryWorker) runOnce(ctx context.Context) {
	expired, err := w.sweeper.SweepExpired(ctx, w.now())
	if err != nil {
		observability.IncrementWorkerRun("expiry", "failed")
		zap.L().Error("expiry sweep failed", zap.Int("expired", expired), zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("expiry", "success")
	if expired > 0 {
		zap.L().Info("expiry sweep completed", zap.Int("expired", expired))
	}
}
