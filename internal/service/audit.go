package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/ayo6706/risk-thresholds/internal/repository"
	"github.com/google/uuid"
)

// AuditService appends immutable threshold change events.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Emit appends event inside the caller's transaction. It reports false when an
// event with the same idempotency key already exists.
func (s *AuditService) Emit(ctx context.Context, qtx repository.Queries, event *models.ThresholdChangeEvent) (bool, error) {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.IdempotencyKey == "" {
		event.IdempotencyKey = models.EventIdempotencyKey(event.RequestID, event.EventType)
	}
	inserted, err := qtx.AppendEvent(ctx, event)
	if err != nil {
		return false, fmt.Errorf("append %s event: %w", event.EventType, err)
	}
	return inserted, nil
}

// ListEvents returns a tenant's events in sequence order, optionally for one request.
func (s *AuditService) ListEvents(ctx context.Context, tenantID string, requestID *uuid.UUID, limit int32) ([]models.ThresholdChangeEvent, error) {
	events, err := s.store.Queries().ListEvents(ctx, repository.ListEventsParams{
		TenantID:  tenantID,
		RequestID: requestID,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
