package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposeWithinLimitAppliesImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, domain.CategoryFXConversion, "USD", 10000)

	req, err := env.approvals.Propose(ctx, ProposeRequest{
		TenantID:        testTenant,
		Category:        domain.CategoryFXConversion,
		CurrencyOrAsset: "USD",
		NewAmount:       domain.AmountFromUnits(12000),
		ActorID:         "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, req.Status())
	assert.False(t, req.RequiresApproval)
	assert.True(t, req.MagnitudePercent.Equal(decimal.NewFromInt(20)))
	approved := req.Outcome.(models.Approved)
	assert.Equal(t, "alice", approved.By)
	assert.True(t, approved.Automatic)
	assert.True(t, approved.At.Equal(t0))

	cfg, err := env.thresholds.GetEffective(ctx, testTenant, domain.CategoryFXConversion, "USD")
	require.NoError(t, err)
	assert.Equal(t, domain.AmountFromUnits(12000), cfg.Amount)
	require.NotNil(t, cfg.SourceRequestID)
	assert.Equal(t, req.RequestID, *cfg.SourceRequestID)

	history, err := env.thresholds.History(ctx, testTenant, domain.CategoryFXConversion, "USD", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.AmountFromUnits(10000), history[0].Config.Amount)
	assert.True(t, history[0].SupersededAt.Equal(t0))

	events := env.events(t, req.RequestID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventThresholdChanged, events[0].EventType)
	assert.Equal(t, domain.ModeImmediate, events[0].ExecutionMode)
	assert.Equal(t, domain.AmountFromUnits(10000), events[0].BeforeAmount)
	assert.Equal(t, fullAuthority, events[0].ActorCapabilities)
}

func TestProposeJustBelowLimitIsNotRoundedUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, domain.CategoryFXConversion, "USD", 10000)

	amount, err := domain.ParseAmountString("12499.5")
	require.NoError(t, err)
	req, err := env.approvals.Propose(ctx, ProposeRequest{
		TenantID:        testTenant,
		Category:        domain.CategoryFXConversion,
		CurrencyOrAsset: "USD",
		NewAmount:       amount,
		ActorID:         "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, req.Status())
	assert.False(t, req.RequiresApproval)
	assert.Equal(t, "25.00", req.MagnitudePercent.StringFixed(2))

	req, err = env.approvals.Propose(ctx, ProposeRequest{
		TenantID:        testTenant,
		Category:        domain.CategoryFXConversion,
		CurrencyOrAsset: "EUR",
		NewAmount:       domain.AmountFromUnits(12500),
		ActorID:         "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, req.Status())
}

func TestProposeAboveLimitOpensPendingRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.approvals.Propose(ctx, ProposeRequest{
		TenantID:        testTenant,
		Category:        domain.CategoryCryptoBuy,
		CurrencyOrAsset: "BTC",
		NewAmount:       domain.AmountFromUnits(20000),
		ActorID:         "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, req.Status())
	assert.True(t, req.RequiresApproval)
	assert.Equal(t, domain.AmountFromUnits(5000), req.CurrentAmount)
	assert.True(t, req.MagnitudePercent.Equal(decimal.NewFromInt(300)))
	assert.True(t, req.ExpiresAt.Equal(t0.Add(24*time.Hour)))

	cfg, err := env.thresholds.GetEffective(ctx, testTenant, domain.CategoryCryptoBuy, "BTC")
	require.NoError(t, err)
	assert.Equal(t, domain.AmountFromUnits(5000), cfg.Amount)
	assert.Equal(t, domain.SourceDefault, cfg.Source)

	assert.Equal(t, []domain.EventType{domain.EventThresholdChangeRequested}, eventTypes(env.events(t, req.RequestID)))

	notes, err := env.notifications.List(ctx, models.NotificationFilter{TenantID: testTenant, Roles: []domain.Role{domain.RoleSupervisor}})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationChangePending, notes[0].Type)
	assert.ElementsMatch(t, []domain.Role{domain.RoleSupervisor, domain.RoleCompliance}, notes[0].TargetRoles)
	assert.Equal(t, req.RequestID, notes[0].RequestID)
	assert.Len(t, env.publisher.Published(), 1)

	// Scenario C: the pending request is rejected.
	env.clock.Advance(time.Hour)
	rejected, err := env.approvals.Reject(ctx, testTenant, req.RequestID, "bob", "magnitude too high")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status())
	assert.Equal(t, "magnitude too high", rejected.Outcome.(models.Rejected).Reason)

	stored, err := env.approvals.Get(ctx, testTenant, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, stored.Status())
	assert.Equal(t, "bob", stored.Outcome.(models.Rejected).By)

	cfg, err = env.thresholds.GetEffective(ctx, testTenant, domain.CategoryCryptoBuy, "BTC")
	require.NoError(t, err)
	assert.Equal(t, domain.AmountFromUnits(5000), cfg.Amount)

	events := env.events(t, req.RequestID)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventThresholdChangeRejected, events[1].EventType)
	assert.Equal(t, "magnitude too high", events[1].Reason)
	assert.Equal(t, req.RequestID, events[1].RequestID)
}

func TestProposeValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ProposeRequest
		want error
	}{
		{
			name: "zero amount",
			req:  ProposeRequest{TenantID: testTenant, Category: domain.CategoryFXConversion, CurrencyOrAsset: "USD", ActorID: "alice"},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "negative amount",
			req:  ProposeRequest{TenantID: testTenant, Category: domain.CategoryFXConversion, CurrencyOrAsset: "USD", NewAmount: -1, ActorID: "alice"},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "unknown category",
			req:  ProposeRequest{TenantID: testTenant, Category: "WIRE", CurrencyOrAsset: "USD", NewAmount: domain.AmountFromUnits(1), ActorID: "alice"},
			want: domain.ErrInvalidCategory,
		},
		{
			name: "actor without administrative capability",
			req:  ProposeRequest{TenantID: testTenant, Category: domain.CategoryFXConversion, CurrencyOrAsset: "USD", NewAmount: domain.AmountFromUnits(1), ActorID: "mallory"},
			want: domain.ErrInsufficientAuthority,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.approvals.Propose(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}

	reqs, err := env.approvals.ListRequests(ctx, testTenant, "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestRequestChangeAlwaysPends(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, domain.CategoryFXConversion, "EUR", 10000)

	req := env.pending(t, domain.CategoryFXConversion, "EUR", 10100)
	assert.True(t, req.RequiresApproval)
	assert.True(t, req.MagnitudePercent.Equal(decimal.NewFromInt(1)))

	cfg, err := env.thresholds.GetEffective(context.Background(), testTenant, domain.CategoryFXConversion, "EUR")
	require.NoError(t, err)
	assert.Equal(t, domain.AmountFromUnits(10000), cfg.Amount)
}

func TestApproveAppliesChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, domain.CategoryCryptoTransfer, "USDT", 2500)
	req := env.pending(t, domain.CategoryCryptoTransfer, "USDT", 10000)

	env.clock.Advance(2 * time.Hour)
	approved, err := env.approvals.Approve(ctx, testTenant, req.RequestID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status())
	outcome := approved.Outcome.(models.Approved)
	assert.Equal(t, "bob", outcome.By)
	assert.False(t, outcome.Automatic)
	assert.True(t, outcome.At.Equal(t0.Add(2*time.Hour)))

	cfg, err := env.thresholds.GetEffective(ctx, testTenant, domain.CategoryCryptoTransfer, "USDT")
	require.NoError(t, err)
	assert.Equal(t, domain.AmountFromUnits(10000), cfg.Amount)
	assert.Equal(t, "bob", cfg.SetBy)

	history, err := env.thresholds.History(ctx, testTenant, domain.CategoryCryptoTransfer, "USDT", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.AmountFromUnits(2500), history[0].Config.Amount)

	assert.Equal(t, []domain.EventType{
		domain.EventThresholdChangeRequested,
		domain.EventThresholdChangeApproved,
	}, eventTypes(env.events(t, req.RequestID)))

	published := env.publisher.Published()
	require.Len(t, published, 2)
	assert.Equal(t, domain.NotificationChangeApproved, published[1].Type)
}

func TestSelfApprovalIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.pending(t, domain.CategoryCryptoBuy, "ETH", 40000)

	_, err := env.approvals.Approve(ctx, testTenant, req.RequestID, "alice")
	require.ErrorIs(t, err, domain.ErrSelfApproval)

	_, err = env.approvals.Reject(ctx, testTenant, req.RequestID, "alice", "changed my mind")
	require.ErrorIs(t, err, domain.ErrSelfApproval)

	stored, err := env.approvals.Get(ctx, testTenant, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status())
}

func TestApproveRequiresBothCapabilities(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.pending(t, domain.CategoryCryptoBuy, "ETH", 40000)

	for _, actor := range []string{"carol", "mallory"} {
		_, err := env.approvals.Approve(ctx, testTenant, req.RequestID, actor)
		require.ErrorIs(t, err, domain.ErrInsufficientAuthority, actor)
		_, err = env.approvals.Reject(ctx, testTenant, req.RequestID, actor, "no")
		require.ErrorIs(t, err, domain.ErrInsufficientAuthority, actor)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.pending(t, domain.CategoryCryptoSell, "SOL", 9000)

	for _, reason := range []string{"", "   \t"} {
		_, err := env.approvals.Reject(ctx, testTenant, req.RequestID, "bob", reason)
		require.ErrorIs(t, err, domain.ErrMissingReason)
	}

	stored, err := env.approvals.Get(ctx, testTenant, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status())
}

func TestResolvedRequestsAreFinal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.pending(t, domain.CategoryCryptoSell, "SOL", 9000)

	_, err := env.approvals.Approve(ctx, testTenant, req.RequestID, "bob")
	require.NoError(t, err)

	_, err = env.approvals.Approve(ctx, testTenant, req.RequestID, "erin")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	status, ok := domain.CurrentStatus(err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusApproved, status)

	_, err = env.approvals.Reject(ctx, testTenant, req.RequestID, "erin", "too late")
	status, ok = domain.CurrentStatus(err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusApproved, status)
}

func TestUnknownOrForeignRequestIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.pending(t, domain.CategoryCryptoSell, "SOL", 9000)

	_, err := env.approvals.Approve(ctx, "other-tenant", req.RequestID, "bob")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.approvals.Get(ctx, "other-tenant", req.RequestID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExpiredRequestCannotBeActedOn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.pending(t, domain.CategoryCryptoBuy, "BTC", 20000)

	env.clock.Advance(24*time.Hour + time.Second)

	_, err := env.approvals.Approve(ctx, testTenant, req.RequestID, "bob")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	status, _ := domain.CurrentStatus(err)
	assert.Equal(t, domain.StatusExpired, status)

	_, err = env.approvals.Reject(ctx, testTenant, req.RequestID, "bob", "late")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	status, _ = domain.CurrentStatus(err)
	assert.Equal(t, domain.StatusExpired, status)

	stored, err := env.approvals.Get(ctx, testTenant, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status())
	assert.True(t, stored.Outcome.(models.Expired).At.Equal(req.ExpiresAt))

	cfg, err := env.thresholds.GetEffective(ctx, testTenant, domain.CategoryCryptoBuy, "BTC")
	require.NoError(t, err)
	assert.Equal(t, domain.AmountFromUnits(5000), cfg.Amount)

	assert.Equal(t, []domain.EventType{
		domain.EventThresholdChangeRequested,
		domain.EventThresholdChangeExpired,
	}, eventTypes(env.events(t, req.RequestID)))

	swept, err := env.approvals.SweepExpired(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestSweepExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.pending(t, domain.CategoryCryptoBuy, "BTC", 20000)
	env.clock.Advance(2 * time.Hour)
	second := env.pending(t, domain.CategoryCryptoBuy, "ETH", 20000)

	swept, err := env.approvals.SweepExpired(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	again, err := env.approvals.SweepExpired(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, again)

	swept, err = env.approvals.SweepExpired(ctx, t0.Add(30*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	assert.Equal(t, []domain.EventType{
		domain.EventThresholdChangeRequested,
		domain.EventThresholdChangeExpired,
	}, eventTypes(env.events(t, first.RequestID)))
	assert.Equal(t, []domain.EventType{
		domain.EventThresholdChangeRequested,
		domain.EventThresholdChangeExpired,
	}, eventTypes(env.events(t, second.RequestID)))
}

func TestListPendingNeverShowsStaleRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale := env.pending(t, domain.CategoryCryptoBuy, "BTC", 20000)
	env.clock.Advance(12 * time.Hour)
	fresh := env.pending(t, domain.CategoryCryptoBuy, "ETH", 20000)
	env.clock.Advance(13 * time.Hour)

	pending, err := env.approvals.ListPending(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.RequestID, pending[0].RequestID)

	stored, err := env.approvals.Get(ctx, testTenant, stale.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status())

	all, err := env.approvals.ListRequests(ctx, testTenant, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStatusFilterSeesUnsweptExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := env.pending(t, domain.CategoryCryptoBuy, "BTC", 20000)
	env.clock.Advance(25 * time.Hour)

	expired, err := env.approvals.ListRequests(ctx, testTenant, domain.StatusExpired, 0, 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, req.RequestID, expired[0].RequestID)
	assert.Equal(t, domain.StatusExpired, expired[0].Status())

	pending, err := env.approvals.ListRequests(ctx, testTenant, domain.StatusPending, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := env.approvals.Get(ctx, testTenant, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status())
	assert.Equal(t, []domain.EventType{
		domain.EventThresholdChangeRequested,
		domain.EventThresholdChangeExpired,
	}, eventTypes(env.events(t, req.RequestID)))
}

func TestListPendingReturnsEveryPage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const total = pendingPageSize + 3
	for i := 0; i < total; i++ {
		env.pending(t, domain.CategoryCryptoBuy, fmt.Sprintf("A%03d", i), 20000)
	}

	pending, err := env.approvals.ListPending(ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, pending, total)
}

func TestConcurrentApprovalsApplyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, domain.CategoryFXConversion, "GBP", 1000)
	req := env.pending(t, domain.CategoryFXConversion, "GBP", 5000)

	approvers := []string{"bob", "erin", "bob", "erin", "bob", "erin"}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, actor := range approvers {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, err := env.approvals.Approve(ctx, testTenant, req.RequestID, actor)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrInvalidState):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(actor)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, len(approvers)-1, conflicts)

	history, err := env.thresholds.History(ctx, testTenant, domain.CategoryFXConversion, "GBP", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	assert.Equal(t, []domain.EventType{
		domain.EventThresholdChangeRequested,
		domain.EventThresholdChangeApproved,
	}, eventTypes(env.events(t, req.RequestID)))
}

func TestConcurrentApproveAndReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.pending(t, domain.CategoryCryptoSell, "ADA", 100000)

	errs := make(chan error, 2)
	go func() {
		_, err := env.approvals.Approve(ctx, testTenant, req.RequestID, "bob")
		errs <- err
	}()
	go func() {
		_, err := env.approvals.Reject(ctx, testTenant, req.RequestID, "erin", "too large")
		errs <- err
	}()

	var failures []error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0], domain.ErrInvalidState)

	stored, err := env.approvals.Get(ctx, testTenant, req.RequestID)
	require.NoError(t, err)
	assert.True(t, stored.Status().IsTerminal())
	assert.Len(t, env.events(t, req.RequestID), 2)
}
