package repository

import (
	"context"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/google/uuid"
)

// Queries is the data access contract shared by every storage backend.
// Lookups that find nothing return an error wrapping domain.ErrNotFound.
type Queries interface {
	GetActiveThreshold(ctx context.Context, key ThresholdKey) (models.ThresholdConfig, error)
	GetActiveThresholdForUpdate(ctx context.Context, key ThresholdKey) (models.ThresholdConfig, error)
	// LockThresholdSlot serializes writers of one pair until the surrounding
	// transaction ends, including the first write when no row exists yet.
	LockThresholdSlot(ctx context.Context, key ThresholdKey) error
	UpsertActiveThreshold(ctx context.Context, cfg models.ThresholdConfig) error
	ListActiveThresholds(ctx context.Context, tenantID string) ([]models.ThresholdConfig, error)
	AppendThresholdHistory(ctx context.Context, entry models.ThresholdHistoryEntry) (int64, error)
	ListThresholdHistory(ctx context.Context, key ThresholdKey, limit int32) ([]models.ThresholdHistoryEntry, error)

	InsertChangeRequest(ctx context.Context, req models.ThresholdChangeRequest) error
	GetChangeRequest(ctx context.Context, requestID uuid.UUID) (models.ThresholdChangeRequest, error)
	GetChangeRequestForUpdate(ctx context.Context, requestID uuid.UUID) (models.ThresholdChangeRequest, error)
	// ResolveChangeRequest writes a terminal outcome only if the request is
	// still PENDING and returns the number of rows changed.
	ResolveChangeRequest(ctx context.Context, req models.ThresholdChangeRequest) (int64, error)
	ListChangeRequests(ctx context.Context, arg ListChangeRequestsParams) ([]models.ThresholdChangeRequest, error)
	// ListDuePendingRequests returns PENDING requests with ExpiresAt <= now,
	// oldest deadline first. An empty tenantID spans every tenant.
	ListDuePendingRequests(ctx context.Context, tenantID string, now time.Time, limit int32) ([]models.ThresholdChangeRequest, error)

	// AppendEvent assigns Sequence and CreatedAt is kept as given. A duplicate
	// idempotency key leaves the log untouched and returns false.
	AppendEvent(ctx context.Context, event *models.ThresholdChangeEvent) (bool, error)
	ListEvents(ctx context.Context, arg ListEventsParams) ([]models.ThresholdChangeEvent, error)

	InsertNotification(ctx context.Context, n models.ThresholdNotification) (bool, error)
	ListNotifications(ctx context.Context, filter models.NotificationFilter) ([]models.ThresholdNotification, error)
	MarkNotificationRead(ctx context.Context, notificationID uuid.UUID, at time.Time) (models.ThresholdNotification, error)
}

// ThresholdKey addresses the active-config slot of a pair.
type ThresholdKey struct {
	TenantID        string
	Category        domain.Category
	CurrencyOrAsset string
}

// KeyOf returns the slot key of a config.
func KeyOf(cfg models.ThresholdConfig) ThresholdKey {
	return ThresholdKey{TenantID: cfg.TenantID, Category: cfg.Category, CurrencyOrAsset: cfg.CurrencyOrAsset}
}

// String renders the key for lock names and logs.
func (k ThresholdKey) String() string {
	return k.TenantID + ":" + string(k.Category) + ":" + k.CurrencyOrAsset
}

type ListChangeRequestsParams struct {
	TenantID string
	Status   domain.Status // empty means any status
	Limit    int32
	Offset   int32
}

type ListEventsParams struct {
	TenantID  string
	RequestID *uuid.UUID
	Limit     int32
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int32) int32 {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
