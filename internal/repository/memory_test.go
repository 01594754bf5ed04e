package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleConfig(amount int64) models.ThresholdConfig {
	return models.ThresholdConfig{
		ThresholdID:     models.ThresholdID("t1", domain.CategoryFXConversion, "USD"),
		TenantID:        "t1",
		Category:        domain.CategoryFXConversion,
		CurrencyOrAsset: "USD",
		Amount:          domain.AmountFromUnits(amount),
		EffectiveFrom:   testNow,
		SetBy:           "alice",
		SetAt:           testNow,
	}
}

func samplePending(tenant string, requestedAt time.Time) models.ThresholdChangeRequest {
	return models.ThresholdChangeRequest{
		RequestID:        uuid.New(),
		TenantID:         tenant,
		Category:         domain.CategoryCryptoBuy,
		CurrencyOrAsset:  "BTC",
		CurrentAmount:    domain.AmountFromUnits(5000),
		NewAmount:        domain.AmountFromUnits(20000),
		RequiresApproval: true,
		RequestedBy:      "alice",
		RequestedAt:      requestedAt,
		ExpiresAt:        requestedAt.Add(domain.ApprovalTTL),
		Outcome:          models.Pending{},
	}
}

func TestMemoryStoreThresholdSlot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q := store.Queries()
	key := KeyOf(sampleConfig(0))

	_, err := q.GetActiveThreshold(ctx, key)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, q.UpsertActiveThreshold(ctx, sampleConfig(10000)))
	require.NoError(t, q.UpsertActiveThreshold(ctx, sampleConfig(12000)))

	cfg, err := q.GetActiveThreshold(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.AmountFromUnits(12000), cfg.Amount)
	assert.True(t, cfg.IsActive)

	all, err := q.ListActiveThresholds(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	other, err := q.ListActiveThresholds(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryStoreHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryStore().Queries()

	for _, units := range []int64{100, 200, 300} {
		_, err := q.AppendThresholdHistory(ctx, models.ThresholdHistoryEntry{
			Config:       sampleConfig(units),
			SupersededAt: testNow,
			SupersededBy: "bob",
		})
		require.NoError(t, err)
	}

	history, err := q.ListThresholdHistory(ctx, KeyOf(sampleConfig(0)), 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.AmountFromUnits(300), history[0].Config.Amount)
	assert.Equal(t, int64(3), history[0].Sequence)
	assert.False(t, history[0].Config.IsActive)
}

func TestMemoryStoreRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(q Queries) error {
		if err := q.UpsertActiveThreshold(ctx, sampleConfig(1)); err != nil {
			return err
		}
		ev := &models.ThresholdChangeEvent{TenantID: "t1", IdempotencyKey: "k"}
		if _, err := q.AppendEvent(ctx, ev); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Queries().GetActiveThreshold(ctx, KeyOf(sampleConfig(0)))
	require.ErrorIs(t, err, domain.ErrNotFound)

	events, err := store.Queries().ListEvents(ctx, ListEventsParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStoreRunInTxCommits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.RunInTx(ctx, func(q Queries) error {
		return q.UpsertActiveThreshold(ctx, sampleConfig(7))
	})
	require.NoError(t, err)

	cfg, err := store.Queries().GetActiveThreshold(ctx, KeyOf(sampleConfig(0)))
	require.NoError(t, err)
	assert.Equal(t, domain.AmountFromUnits(7), cfg.Amount)
}

func TestMemoryStoreResolveOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryStore().Queries()
	req := samplePending("t1", testNow)
	require.NoError(t, q.InsertChangeRequest(ctx, req))
	require.Error(t, q.InsertChangeRequest(ctx, req))

	approved := req
	approved.Outcome = models.Approved{By: "bob", At: testNow.Add(time.Hour)}
	rows, err := q.ResolveChangeRequest(ctx, approved)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rejected := req
	rejected.Outcome = models.Rejected{By: "carol", At: testNow.Add(2 * time.Hour), Reason: "late"}
	rows, err = q.ResolveChangeRequest(ctx, rejected)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	stored, err := q.GetChangeRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, stored.Status())
	assert.Equal(t, "bob", stored.Outcome.(models.Approved).By)
}

func TestMemoryStoreListChangeRequests(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryStore().Queries()

	older := samplePending("t1", testNow)
	newer := samplePending("t1", testNow.Add(time.Minute))
	foreign := samplePending("t2", testNow)
	done := samplePending("t1", testNow.Add(2*time.Minute))
	done.Outcome = models.Expired{At: testNow}
	for _, r := range []models.ThresholdChangeRequest{older, newer, foreign, done} {
		require.NoError(t, q.InsertChangeRequest(ctx, r))
	}

	pending, err := q.ListChangeRequests(ctx, ListChangeRequestsParams{TenantID: "t1", Status: domain.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, newer.RequestID, pending[0].RequestID)
	assert.Equal(t, older.RequestID, pending[1].RequestID)

	all, err := q.ListChangeRequests(ctx, ListChangeRequestsParams{TenantID: "t1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, newer.RequestID, all[0].RequestID)

	due, err := q.ListDuePendingRequests(ctx, "", testNow.Add(domain.ApprovalTTL), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	for _, r := range due {
		assert.True(t, r.RequestedAt.Equal(testNow))
	}

	due, err = q.ListDuePendingRequests(ctx, "t1", testNow.Add(domain.ApprovalTTL), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, older.RequestID, due[0].RequestID)
	due, err = q.ListDuePendingRequests(ctx, "other-tenant", testNow.Add(domain.ApprovalTTL), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemoryStoreEventsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryStore().Queries()
	requestID := uuid.New()
	key := models.EventIdempotencyKey(requestID, domain.EventThresholdChangeApproved)

	first := &models.ThresholdChangeEvent{TenantID: "t1", RequestID: requestID, IdempotencyKey: key}
	inserted, err := q.AppendEvent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(1), first.Sequence)

	dup := &models.ThresholdChangeEvent{TenantID: "t1", RequestID: requestID, IdempotencyKey: key}
	inserted, err = q.AppendEvent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	other := &models.ThresholdChangeEvent{TenantID: "t1", RequestID: uuid.New(), IdempotencyKey: "x"}
	_, err = q.AppendEvent(ctx, other)
	require.NoError(t, err)

	events, err := q.ListEvents(ctx, ListEventsParams{TenantID: "t1", RequestID: &requestID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Sequence)
}

func TestMemoryStoreNotifications(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryStore().Queries()

	n := models.ThresholdNotification{
		NotificationID: uuid.New(),
		TenantID:       "t1",
		EventSequence:  1,
		Type:           domain.NotificationChangePending,
		TargetRoles:    []domain.Role{domain.RoleSupervisor, domain.RoleCompliance},
		IdempotencyKey: "n1",
		CreatedAt:      testNow,
	}
	inserted, err := q.InsertNotification(ctx, n)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := n
	dup.NotificationID = uuid.New()
	inserted, err = q.InsertNotification(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	supervisor, err := q.ListNotifications(ctx, models.NotificationFilter{TenantID: "t1", Roles: []domain.Role{domain.RoleSupervisor}, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, supervisor, 1)

	readAt := testNow.Add(time.Minute)
	marked, err := q.MarkNotificationRead(ctx, n.NotificationID, readAt)
	require.NoError(t, err)
	assert.True(t, marked.IsRead)

	again, err := q.MarkNotificationRead(ctx, n.NotificationID, readAt.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, again.ReadAt)
	assert.True(t, again.ReadAt.Equal(readAt))

	unread, err := q.ListNotifications(ctx, models.NotificationFilter{TenantID: "t1", UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)

	_, err = q.MarkNotificationRead(ctx, uuid.New(), readAt)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
