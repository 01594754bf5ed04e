package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/redis/go-redis/v9"
)

// Publisher fans committed notifications out to live subscribers.
type Publisher interface {
	// Publish delivers n to every role it targets. Delivery is best effort.
	Publish(ctx context.Context, n models.ThresholdNotification) error
}

// Nop discards notifications. Used when no Redis is configured.
type Nop struct{}

func (Nop) Publish(context.Context, models.ThresholdNotification) error { return nil }

// RedisPublisher publishes one message per target role on
// "<prefix>:<tenant>:<role>".
type RedisPublisher struct {
	client redis.Cmdable
	prefix string
}

func NewRedisPublisher(client redis.Cmdable, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "threshold-notifications"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel for a tenant role.
func (p *RedisPublisher) Channel(tenantID string, role domain.Role) string {
	return strings.Join([]string{p.prefix, tenantID, strings.ToLower(string(role))}, ":")
}

func (p *RedisPublisher) Publish(ctx context.Context, n models.ThresholdNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	var errs []error
	for _, role := range n.TargetRoles {
		if err := p.client.Publish(ctx, p.Channel(n.TenantID, role), payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published notifications in memory. Handy in tests.
type Recorder struct {
	mu        sync.Mutex
	published []models.ThresholdNotification
	// Err, when set, is returned from every Publish call.
	Err error
}

func (r *Recorder) Publish(_ context.Context, n models.ThresholdNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.published = append(r.published, n)
	return nil
}

// Published returns a copy of everything recorded so far.
func (r *Recorder) Published() []models.ThresholdNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ThresholdNotification, len(r.published))
	copy(out, r.published)
	return out
}
