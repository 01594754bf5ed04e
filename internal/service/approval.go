package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/lock"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/ayo6706/risk-thresholds/internal/observability"
	"github.com/ayo6706/risk-thresholds/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	systemActor    = "system"
	sweepBatchSize = 200
)

// ApprovalService runs the dual-control lifecycle of threshold change requests.
type ApprovalService struct {
	store         QueryStore
	thresholds    *ThresholdService
	audit         *AuditService
	notifications *NotificationService
	oracle        CapabilityOracle
	locker        lock.Locker
	clock         Clock
}

func NewApprovalService(store QueryStore, thresholds *ThresholdService, notifications *NotificationService, oracle CapabilityOracle, locker lock.Locker, clock Clock) *ApprovalService {
	return &ApprovalService{
		store:         store,
		thresholds:    thresholds,
		audit:         NewAuditService(store),
		notifications: notifications,
		oracle:        oracle,
		locker:        locker,
		clock:         clock,
	}
}

// ProposeRequest is a requested change to one pair's threshold.
type ProposeRequest struct {
	TenantID        string
	Category        domain.Category
	CurrencyOrAsset string
	NewAmount       domain.Amount
	ActorID         string
}

// effects collects what a committed transaction must announce.
type effects struct {
	events []models.ThresholdChangeEvent
	notes  []models.ThresholdNotification
}

func (e *effects) emit(ctx context.Context, s *ApprovalService, qtx repository.Queries, event models.ThresholdChangeEvent) error {
	inserted, err := s.audit.Emit(ctx, qtx, &event)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	n, created, err := s.notifications.record(ctx, qtx, event)
	if err != nil {
		return err
	}
	e.events = append(e.events, event)
	if created {
		e.notes = append(e.notes, n)
	}
	return nil
}

// announce runs after commit.
func (s *ApprovalService) announce(ctx context.Context, fx effects) {
	for _, ev := range fx.events {
		observability.IncrementTransition(string(ev.EventType))
		if ev.EventType == domain.EventThresholdChangeExpired {
			observability.AddExpired(1)
		}
	}
	s.notifications.publish(ctx, fx.notes)
}

func requestLockKey(id uuid.UUID) string {
	return "request:" + id.String()
}

// Propose applies a change immediately when its magnitude is under the limit,
// otherwise opens a PENDING request for a second actor.
func (s *ApprovalService) Propose(ctx context.Context, req ProposeRequest) (models.ThresholdChangeRequest, error) {
	return s.propose(ctx, req, false)
}

// RequestChange always opens a PENDING request regardless of magnitude.
func (s *ApprovalService) RequestChange(ctx context.Context, req ProposeRequest) (models.ThresholdChangeRequest, error) {
	return s.propose(ctx, req, true)
}

func (s *ApprovalService) propose(ctx context.Context, in ProposeRequest, forcePending bool) (models.ThresholdChangeRequest, error) {
	if in.NewAmount <= 0 {
		return models.ThresholdChangeRequest{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	key, err := pairKey(in.TenantID, in.Category, in.CurrencyOrAsset)
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}
	caps, err := s.capabilities(ctx, in.ActorID)
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}
	if !holdsAll(caps, domain.CapabilityAdministrative) {
		return models.ThresholdChangeRequest{}, fmt.Errorf("%w: %s cannot propose threshold changes", domain.ErrInsufficientAuthority, in.ActorID)
	}

	release, err := s.locker.Lock(ctx, thresholdLockKey(key))
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}
	defer release()

	var (
		created models.ThresholdChangeRequest
		fx      effects
	)
	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		fx = effects{}
		now := s.clock.Now()
		// The baseline must not move between this read and the replace below.
		if err := q.LockThresholdSlot(ctx, key); err != nil {
			return err
		}
		current, err := effective(ctx, q, key)
		if err != nil {
			return err
		}

		magnitude := domain.MagnitudePercent(current.Amount, in.NewAmount)
		requiresApproval := forcePending || domain.RequiresApproval(current.Amount, in.NewAmount)
		created = models.ThresholdChangeRequest{
			RequestID:        uuid.New(),
			TenantID:         key.TenantID,
			Category:         key.Category,
			CurrencyOrAsset:  key.CurrencyOrAsset,
			CurrentAmount:    current.Amount,
			NewAmount:        in.NewAmount,
			MagnitudePercent: magnitude,
			RequiresApproval: requiresApproval,
			RequestedBy:      in.ActorID,
			RequestedAt:      now,
			ExpiresAt:        now.Add(domain.ApprovalTTL),
			Outcome:          models.Pending{},
		}

		event := models.ThresholdChangeEvent{
			TenantID:          key.TenantID,
			RequestID:         created.RequestID,
			Category:          key.Category,
			CurrencyOrAsset:   key.CurrencyOrAsset,
			BeforeAmount:      current.Amount,
			AfterAmount:       in.NewAmount,
			Actor:             in.ActorID,
			ActorCapabilities: caps,
			MagnitudePercent:  magnitude,
			CreatedAt:         now,
		}

		if requiresApproval {
			if err := q.InsertChangeRequest(ctx, created); err != nil {
				return fmt.Errorf("insert change request: %w", err)
			}
			event.EventType = domain.EventThresholdChangeRequested
			event.ExecutionMode = domain.ModeDualControl
			return fx.emit(ctx, s, q, event)
		}

		created.Outcome = models.Approved{By: in.ActorID, At: now, Automatic: true}
		if err := q.InsertChangeRequest(ctx, created); err != nil {
			return fmt.Errorf("insert change request: %w", err)
		}
		if _, _, err := s.thresholds.replace(ctx, q, models.ThresholdConfig{
			TenantID:        key.TenantID,
			Category:        key.Category,
			CurrencyOrAsset: key.CurrencyOrAsset,
			Amount:          in.NewAmount,
			EffectiveFrom:   now,
			SetBy:           in.ActorID,
			SetAt:           now,
			SourceRequestID: &created.RequestID,
		}); err != nil {
			return err
		}
		event.EventType = domain.EventThresholdChanged
		event.ExecutionMode = domain.ModeImmediate
		return fx.emit(ctx, s, q, event)
	})
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}

	s.announce(ctx, fx)
	zap.L().Info("threshold change proposed",
		zap.String("request_id", created.RequestID.String()),
		zap.String("tenant_id", created.TenantID),
		zap.String("pair", key.String()),
		zap.String("status", string(created.Status())),
		zap.String("magnitude_percent", created.MagnitudePercent.StringFixed(2)))
	return created, nil
}

// Approve applies a PENDING request on behalf of a second actor.
func (s *ApprovalService) Approve(ctx context.Context, tenantID string, requestID uuid.UUID, actorID string) (models.ThresholdChangeRequest, error) {
	caps, err := s.capabilities(ctx, actorID)
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}

	releaseRequest, err := s.locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}
	defer releaseRequest()

	// The pair is immutable on a request, so it can be read before the
	// transaction to take the threshold lock in request → threshold order.
	snapshot, err := s.lookup(ctx, s.store.Queries(), tenantID, requestID)
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}
	key := repository.ThresholdKey{TenantID: snapshot.TenantID, Category: snapshot.Category, CurrencyOrAsset: snapshot.CurrencyOrAsset}
	releasePair, err := s.locker.Lock(ctx, thresholdLockKey(key))
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}
	defer releasePair()

	var (
		resolved models.ThresholdChangeRequest
		expired  bool
		fx       effects
	)
	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		fx, expired = effects{}, false
		now := s.clock.Now()
		req, err := s.lookupForUpdate(ctx, q, tenantID, requestID)
		if err != nil {
			return err
		}
		if req.IsStale(now) {
			expired = true
			resolved, _, err = s.expire(ctx, q, &fx, req, now)
			return err
		}
		if err := s.checkActor(req, actorID, "", caps, domain.StatusApproved); err != nil {
			return err
		}

		req.Outcome = models.Approved{By: actorID, At: now}
		if err := s.resolve(ctx, q, req); err != nil {
			return err
		}
		_, superseded, err := s.thresholds.replace(ctx, q, models.ThresholdConfig{
			TenantID:        req.TenantID,
			Category:        req.Category,
			CurrencyOrAsset: req.CurrencyOrAsset,
			Amount:          req.NewAmount,
			EffectiveFrom:   now,
			SetBy:           actorID,
			SetAt:           now,
			SourceRequestID: &req.RequestID,
		})
		if err != nil {
			return err
		}
		before := req.CurrentAmount
		if superseded != nil {
			before = superseded.Amount
		}
		resolved = req
		return fx.emit(ctx, s, q, models.ThresholdChangeEvent{
			TenantID:          req.TenantID,
			EventType:         domain.EventThresholdChangeApproved,
			RequestID:         req.RequestID,
			Category:          req.Category,
			CurrencyOrAsset:   req.CurrencyOrAsset,
			BeforeAmount:      before,
			AfterAmount:       req.NewAmount,
			Actor:             actorID,
			ActorCapabilities: caps,
			MagnitudePercent:  req.MagnitudePercent,
			ExecutionMode:     domain.ModeDualControl,
			CreatedAt:         now,
		})
	})
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}

	s.announce(ctx, fx)
	if expired {
		return models.ThresholdChangeRequest{}, &domain.InvalidStateError{RequestID: requestID.String(), Current: domain.StatusExpired}
	}
	zap.L().Info("threshold change approved",
		zap.String("request_id", requestID.String()),
		zap.String("tenant_id", tenantID),
		zap.String("approved_by", actorID))
	return resolved, nil
}

// Reject closes a PENDING request without touching the threshold.
func (s *ApprovalService) Reject(ctx context.Context, tenantID string, requestID uuid.UUID, actorID, reason string) (models.ThresholdChangeRequest, error) {
	caps, err := s.capabilities(ctx, actorID)
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}

	release, err := s.locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}
	defer release()

	reason = strings.TrimSpace(reason)
	var (
		resolved models.ThresholdChangeRequest
		expired  bool
		fx       effects
	)
	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		fx, expired = effects{}, false
		now := s.clock.Now()
		req, err := s.lookupForUpdate(ctx, q, tenantID, requestID)
		if err != nil {
			return err
		}
		if req.IsStale(now) {
			expired = true
			resolved, _, err = s.expire(ctx, q, &fx, req, now)
			return err
		}
		if err := s.checkActor(req, actorID, reason, caps, domain.StatusRejected); err != nil {
			return err
		}

		req.Outcome = models.Rejected{By: actorID, At: now, Reason: reason}
		if err := s.resolve(ctx, q, req); err != nil {
			return err
		}
		resolved = req
		return fx.emit(ctx, s, q, models.ThresholdChangeEvent{
			TenantID:          req.TenantID,
			EventType:         domain.EventThresholdChangeRejected,
			RequestID:         req.RequestID,
			Category:          req.Category,
			CurrencyOrAsset:   req.CurrencyOrAsset,
			BeforeAmount:      req.CurrentAmount,
			AfterAmount:       req.NewAmount,
			Actor:             actorID,
			ActorCapabilities: caps,
			MagnitudePercent:  req.MagnitudePercent,
			ExecutionMode:     domain.ModeDualControl,
			Reason:            reason,
			CreatedAt:         now,
		})
	})
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}

	s.announce(ctx, fx)
	if expired {
		return models.ThresholdChangeRequest{}, &domain.InvalidStateError{RequestID: requestID.String(), Current: domain.StatusExpired}
	}
	zap.L().Info("threshold change rejected",
		zap.String("request_id", requestID.String()),
		zap.String("tenant_id", tenantID),
		zap.String("rejected_by", actorID))
	return resolved, nil
}

// checkActor applies the state, self-action, reason and authority checks in
// that order.
func (s *ApprovalService) checkActor(req models.ThresholdChangeRequest, actorID, reason string, caps []domain.Capability, next domain.Status) error {
	if err := checkTransition(req, next); err != nil {
		return err
	}
	if actorID == req.RequestedBy {
		return fmt.Errorf("%w: %s requested %s", domain.ErrSelfApproval, actorID, req.RequestID)
	}
	if next == domain.StatusRejected && reason == "" {
		return domain.ErrMissingReason
	}
	if !holdsAll(caps, domain.CapabilityAdministrative, domain.CapabilityDualControlApprover) {
		return fmt.Errorf("%w: %s lacks dual-control approval", domain.ErrInsufficientAuthority, actorID)
	}
	return nil
}

func (s *ApprovalService) lookup(ctx context.Context, q repository.Queries, tenantID string, requestID uuid.UUID) (models.ThresholdChangeRequest, error) {
	req, err := q.GetChangeRequest(ctx, requestID)
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}
	if req.TenantID != tenantID {
		return models.ThresholdChangeRequest{}, fmt.Errorf("change request %s: %w", requestID, domain.ErrNotFound)
	}
	return req, nil
}

func (s *ApprovalService) lookupForUpdate(ctx context.Context, q repository.Queries, tenantID string, requestID uuid.UUID) (models.ThresholdChangeRequest, error) {
	req, err := q.GetChangeRequestForUpdate(ctx, requestID)
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}
	if req.TenantID != tenantID {
		return models.ThresholdChangeRequest{}, fmt.Errorf("change request %s: %w", requestID, domain.ErrNotFound)
	}
	return req, nil
}

// resolve writes req's outcome if it is still PENDING in storage.
func (s *ApprovalService) resolve(ctx context.Context, q repository.Queries, req models.ThresholdChangeRequest) error {
	rows, err := q.ResolveChangeRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("resolve change request: %w", err)
	}
	if rows == 1 {
		return nil
	}
	current, err := q.GetChangeRequest(ctx, req.RequestID)
	if err != nil {
		return fmt.Errorf("reload change request: %w", err)
	}
	return &domain.InvalidStateError{RequestID: req.RequestID.String(), Current: current.Status()}
}

// Get returns a request, expiring it first if its deadline has passed.
func (s *ApprovalService) Get(ctx context.Context, tenantID string, requestID uuid.UUID) (models.ThresholdChangeRequest, error) {
	req, err := s.lookup(ctx, s.store.Queries(), tenantID, requestID)
	if err != nil {
		return models.ThresholdChangeRequest{}, err
	}
	return s.settle(ctx, req)
}

// ListRequests pages through a tenant's requests, newest first. An empty
// status lists every state. Overdue PENDING requests of the tenant are expired
// before the page is read, so the status filter agrees with Get.
func (s *ApprovalService) ListRequests(ctx context.Context, tenantID string, status domain.Status, limit, offset int32) ([]models.ThresholdChangeRequest, error) {
	if status == "" || status == domain.StatusPending || status == domain.StatusExpired {
		if _, err := s.sweep(ctx, tenantID, s.clock.Now()); err != nil {
			return nil, err
		}
	}
	reqs, err := s.store.Queries().ListChangeRequests(ctx, repository.ListChangeRequestsParams{
		TenantID: tenantID,
		Status:   status,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	return s.settleAll(ctx, reqs, status)
}

// ListPending returns every PENDING request of a tenant whose deadline has
// not passed. Stale ones are expired on the way.
func (s *ApprovalService) ListPending(ctx context.Context, tenantID string) ([]models.ThresholdChangeRequest, error) {
	if _, err := s.sweep(ctx, tenantID, s.clock.Now()); err != nil {
		return nil, err
	}
	// Collect every page before settling so an expiry in between cannot shift
	// the offsets.
	var reqs []models.ThresholdChangeRequest
	for offset := int32(0); ; offset += pendingPageSize {
		page, err := s.store.Queries().ListChangeRequests(ctx, repository.ListChangeRequestsParams{
			TenantID: tenantID,
			Status:   domain.StatusPending,
			Limit:    pendingPageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list pending requests: %w", err)
		}
		reqs = append(reqs, page...)
		if len(page) < pendingPageSize {
			break
		}
	}
	return s.settleAll(ctx, reqs, domain.StatusPending)
}

// pendingPageSize matches the storage layer's largest page.
const pendingPageSize = 500

func (s *ApprovalService) settleAll(ctx context.Context, reqs []models.ThresholdChangeRequest, status domain.Status) ([]models.ThresholdChangeRequest, error) {
	out := make([]models.ThresholdChangeRequest, 0, len(reqs))
	for _, req := range reqs {
		settled, err := s.settle(ctx, req)
		if err != nil {
			return nil, err
		}
		if status != "" && settled.Status() != status {
			continue
		}
		out = append(out, settled)
	}
	return out, nil
}

// settle expires req when it is stale and returns the stored result.
func (s *ApprovalService) settle(ctx context.Context, req models.ThresholdChangeRequest) (models.ThresholdChangeRequest, error) {
	if !req.IsStale(s.clock.Now()) {
		return req, nil
	}
	settled, _, err := s.expireOne(ctx, req.RequestID, s.clock.Now())
	return settled, err
}

// SweepExpired moves every PENDING request with ExpiresAt <= now to EXPIRED
// and returns how many were flipped. Already expired requests are skipped, so
// repeated sweeps emit nothing new.
func (s *ApprovalService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return s.sweep(ctx, "", now)
}

// sweep expires the due requests of one tenant, or of all tenants when
// tenantID is empty.
func (s *ApprovalService) sweep(ctx context.Context, tenantID string, now time.Time) (int, error) {
	total := 0
	for {
		due, err := s.store.Queries().ListDuePendingRequests(ctx, tenantID, now, sweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("list due requests: %w", err)
		}
		flipped := 0
		for _, req := range due {
			_, ok, err := s.expireOne(ctx, req.RequestID, now)
			if err != nil {
				return total, err
			}
			if ok {
				flipped++
			}
		}
		total += flipped
		if len(due) < sweepBatchSize || flipped == 0 {
			return total, nil
		}
	}
}

// expireOne locks the request and expires it if still due at now. It
// reports whether this call performed the flip.
func (s *ApprovalService) expireOne(ctx context.Context, requestID uuid.UUID, now time.Time) (models.ThresholdChangeRequest, bool, error) {
	release, err := s.locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return models.ThresholdChangeRequest{}, false, err
	}
	defer release()

	var (
		result  models.ThresholdChangeRequest
		flipped bool
		fx      effects
	)
	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		fx, flipped = effects{}, false
		req, err := q.GetChangeRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.ExpiryDue(now) {
			result = req
			return nil
		}
		result, flipped, err = s.expire(ctx, q, &fx, req, now)
		return err
	})
	if err != nil {
		return models.ThresholdChangeRequest{}, false, err
	}
	s.announce(ctx, fx)
	return result, flipped, nil
}

// expire flips a due request inside the caller's transaction. The outcome is
// stamped with the deadline so lazy and swept expiry record the same result.
func (s *ApprovalService) expire(ctx context.Context, q repository.Queries, fx *effects, req models.ThresholdChangeRequest, now time.Time) (models.ThresholdChangeRequest, bool, error) {
	req.Outcome = models.Expired{At: req.ExpiresAt}
	if err := s.resolve(ctx, q, req); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			current, err := q.GetChangeRequest(ctx, req.RequestID)
			return current, false, err
		}
		return models.ThresholdChangeRequest{}, false, err
	}
	zap.L().Info("threshold change expired",
		zap.String("request_id", req.RequestID.String()),
		zap.String("tenant_id", req.TenantID),
		zap.Time("expires_at", req.ExpiresAt))
	return req, true, fx.emit(ctx, s, q, models.ThresholdChangeEvent{
		TenantID:         req.TenantID,
		EventType:        domain.EventThresholdChangeExpired,
		RequestID:        req.RequestID,
		Category:         req.Category,
		CurrencyOrAsset:  req.CurrencyOrAsset,
		BeforeAmount:     req.CurrentAmount,
		AfterAmount:      req.NewAmount,
		Actor:            systemActor,
		MagnitudePercent: req.MagnitudePercent,
		ExecutionMode:    domain.ModeDualControl,
		CreatedAt:        now,
	})
}
