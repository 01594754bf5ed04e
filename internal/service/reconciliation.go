package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/ayo6706/risk-thresholds/internal/observability"
	"github.com/ayo6706/risk-thresholds/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const reconcilePageSize = 500

// AuditGap is a request whose state is not backed by the expected event.
type AuditGap struct {
	RequestID uuid.UUID        `json:"request_id"`
	Status    domain.Status    `json:"status"`
	Missing   domain.EventType `json:"missing"`
}

// ReconciliationService verifies that the audit log covers every request.
type ReconciliationService struct {
	store QueryStore
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run checks each request of a tenant against the events its lifecycle must
// have produced and returns the gaps found.
func (s *ReconciliationService) Run(ctx context.Context, tenantID string) ([]AuditGap, error) {
	queries := s.store.Queries()
	var gaps []AuditGap
	for offset := int32(0); ; offset += reconcilePageSize {
		reqs, err := queries.ListChangeRequests(ctx, repository.ListChangeRequestsParams{
			TenantID: tenantID,
			Limit:    reconcilePageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list change requests: %w", err)
		}
		for _, req := range reqs {
			found, err := s.check(ctx, queries, req)
			if err != nil {
				return nil, err
			}
			gaps = append(gaps, found...)
		}
		if len(reqs) < reconcilePageSize {
			break
		}
	}

	for _, gap := range gaps {
		observability.IncrementAuditGap(string(gap.Missing))
		zap.L().Error("audit gap detected",
			zap.String("tenant_id", tenantID),
			zap.String("request_id", gap.RequestID.String()),
			zap.String("status", string(gap.Status)),
			zap.String("missing_event", string(gap.Missing)))
	}
	return gaps, nil
}

func (s *ReconciliationService) check(ctx context.Context, q repository.Queries, req models.ThresholdChangeRequest) ([]AuditGap, error) {
	events, err := q.ListEvents(ctx, repository.ListEventsParams{TenantID: req.TenantID, RequestID: &req.RequestID, Limit: 10})
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", req.RequestID, err)
	}
	seen := make(map[domain.EventType]bool, len(events))
	for _, ev := range events {
		seen[ev.EventType] = true
	}

	var gaps []AuditGap
	for _, want := range expectedEvents(req) {
		if !seen[want] {
			gaps = append(gaps, AuditGap{RequestID: req.RequestID, Status: req.Status(), Missing: want})
		}
	}
	return gaps, nil
}

// expectedEvents lists the audit events a request in its current state must have.
func expectedEvents(req models.ThresholdChangeRequest) []domain.EventType {
	switch o := req.Outcome.(type) {
	case models.Approved:
		if o.Automatic {
			return []domain.EventType{domain.EventThresholdChanged}
		}
		return []domain.EventType{domain.EventThresholdChangeRequested, domain.EventThresholdChangeApproved}
	case models.Rejected:
		return []domain.EventType{domain.EventThresholdChangeRequested, domain.EventThresholdChangeRejected}
	case models.Expired:
		return []domain.EventType{domain.EventThresholdChangeRequested, domain.EventThresholdChangeExpired}
	default:
		return []domain.EventType{domain.EventThresholdChangeRequested}
	}
}
