package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/observability"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "threshold-lock"

// ErrLockTimeout is returned when a key stays held past the wait budget.
var ErrLockTimeout = errors.New("lock wait timed out")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based distributed locker for multi-replica deployments.
// The lease must outlive the longest critical section.
type Redis struct {
	client       redis.Cmdable
	ttl          time.Duration
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewRedis builds a locker leasing keys for ttl.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{
		client:       client,
		ttl:          ttl,
		pollInterval: 25 * time.Millisecond,
		maxWait:      ttl,
	}
}

// Lock polls SET NX until acquired, ctx is done or maxWait elapses.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	name := fmt.Sprintf("%s:%s", redisKeyPrefix, key)
	token := uuid.NewString()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(r.maxWait)
	defer deadline.Stop()

	for {
		ok, err := r.client.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
	observability.ObserveLockWait("redis", time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{name}, token).Err(); err != nil && err != redis.Nil {
				zap.L().Warn("redis lock release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
