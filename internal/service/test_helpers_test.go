package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/lock"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/ayo6706/risk-thresholds/internal/notify"
	"github.com/ayo6706/risk-thresholds/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testTenant = "acme"

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticOracle map[string][]domain.Capability

func (o staticOracle) Capabilities(_ context.Context, actorID string) ([]domain.Capability, error) {
	return o[actorID], nil
}

var (
	fullAuthority = []domain.Capability{domain.CapabilityAdministrative, domain.CapabilityDualControlApprover}
	adminOnly     = []domain.Capability{domain.CapabilityAdministrative}
)

type testEnv struct {
	store         QueryStore
	clock         *testClock
	publisher     *notify.Recorder
	thresholds    *ThresholdService
	approvals     *ApprovalService
	notifications *NotificationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, repository.NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, store QueryStore) *testEnv {
	t.Helper()
	clock := &testClock{now: t0}
	locker := lock.NewLocal()
	publisher := &notify.Recorder{}
	oracle := staticOracle{
		"alice": fullAuthority,
		"bob":   fullAuthority,
		"erin":  fullAuthority,
		"carol": adminOnly,
	}
	thresholds := NewThresholdService(store, locker, clock)
	notifications := NewNotificationService(store, publisher, clock)
	return &testEnv{
		store:         store,
		clock:         clock,
		publisher:     publisher,
		thresholds:    thresholds,
		notifications: notifications,
		approvals:     NewApprovalService(store, thresholds, notifications, oracle, locker, clock),
	}
}

func (e *testEnv) seed(t *testing.T, category domain.Category, asset string, units int64) models.ThresholdConfig {
	t.Helper()
	cfg, err := e.thresholds.Replace(context.Background(), models.ThresholdConfig{
		TenantID:        testTenant,
		Category:        category,
		CurrencyOrAsset: asset,
		Amount:          domain.AmountFromUnits(units),
		EffectiveFrom:   e.clock.Now().Add(-time.Hour),
		SetBy:           "seed",
	})
	require.NoError(t, err)
	return cfg
}

func (e *testEnv) pending(t *testing.T, category domain.Category, asset string, units int64) models.ThresholdChangeRequest {
	t.Helper()
	req, err := e.approvals.RequestChange(context.Background(), ProposeRequest{
		TenantID:        testTenant,
		Category:        category,
		CurrencyOrAsset: asset,
		NewAmount:       domain.AmountFromUnits(units),
		ActorID:         "alice",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, req.Status())
	return req
}

func (e *testEnv) events(t *testing.T, requestID uuid.UUID) []models.ThresholdChangeEvent {
	t.Helper()
	events, err := e.approvals.audit.ListEvents(context.Background(), testTenant, &requestID, 0)
	require.NoError(t, err)
	return events
}

func eventTypes(events []models.ThresholdChangeEvent) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}
