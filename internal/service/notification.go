package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/ayo6706/risk-thresholds/internal/notify"
	"github.com/ayo6706/risk-thresholds/internal/observability"
	"github.com/ayo6706/risk-thresholds/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// reviewRoles receive every threshold notification.
var reviewRoles = []domain.Role{domain.RoleSupervisor, domain.RoleCompliance}

var notificationTypes = map[domain.EventType]domain.NotificationType{
	domain.EventThresholdChanged:         domain.NotificationThresholdChanged,
	domain.EventThresholdChangeRequested: domain.NotificationChangePending,
	domain.EventThresholdChangeApproved:  domain.NotificationChangeApproved,
	domain.EventThresholdChangeRejected:  domain.NotificationChangeRejected,
	domain.EventThresholdChangeExpired:   domain.NotificationChangeExpired,
}

// NotificationService derives role-targeted notifications from audit events.
type NotificationService struct {
	store     QueryStore
	publisher notify.Publisher
	clock     Clock
}

func NewNotificationService(store QueryStore, publisher notify.Publisher, clock Clock) *NotificationService {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &NotificationService{store: store, publisher: publisher, clock: clock}
}

// Route builds the notification for a committed event. It has no side effects.
func Route(event models.ThresholdChangeEvent) models.ThresholdNotification {
	pair := fmt.Sprintf("%s/%s", event.Category, event.CurrencyOrAsset)
	var title, message string
	switch event.EventType {
	case domain.EventThresholdChanged:
		title = "Threshold updated"
		message = fmt.Sprintf("%s threshold changed from %s to %s by %s (%s%% change, within auto-approval limit).",
			pair, event.BeforeAmount, event.AfterAmount, event.Actor, event.MagnitudePercent.StringFixed(2))
	case domain.EventThresholdChangeRequested:
		title = "Threshold change awaiting approval"
		message = fmt.Sprintf("%s requested %s threshold change from %s to %s (%s%% change). A second approver is required.",
			event.Actor, pair, event.BeforeAmount, event.AfterAmount, event.MagnitudePercent.StringFixed(2))
	case domain.EventThresholdChangeApproved:
		title = "Threshold change approved"
		message = fmt.Sprintf("%s approved the %s threshold change to %s.", event.Actor, pair, event.AfterAmount)
	case domain.EventThresholdChangeRejected:
		title = "Threshold change rejected"
		message = fmt.Sprintf("%s rejected the %s threshold change to %s: %s", event.Actor, pair, event.AfterAmount, event.Reason)
	case domain.EventThresholdChangeExpired:
		title = "Threshold change expired"
		message = fmt.Sprintf("The %s threshold change to %s expired without a decision.", pair, event.AfterAmount)
	default:
		title = "Threshold activity"
		message = fmt.Sprintf("%s on %s", event.EventType, pair)
	}

	return models.ThresholdNotification{
		NotificationID: uuid.New(),
		TenantID:       event.TenantID,
		EventSequence:  event.Sequence,
		Type:           notificationTypes[event.EventType],
		Title:          title,
		Message:        message,
		RequestID:      event.RequestID,
		TargetRoles:    append([]domain.Role(nil), reviewRoles...),
		IdempotencyKey: event.IdempotencyKey,
		CreatedAt:      event.CreatedAt,
	}
}

// record stores the notification for event inside the caller's transaction.
func (s *NotificationService) record(ctx context.Context, qtx repository.Queries, event models.ThresholdChangeEvent) (models.ThresholdNotification, bool, error) {
	n := Route(event)
	inserted, err := qtx.InsertNotification(ctx, n)
	if err != nil {
		return models.ThresholdNotification{}, false, fmt.Errorf("insert notification: %w", err)
	}
	return n, inserted, nil
}

// publish fans committed notifications out. Failures are logged only.
func (s *NotificationService) publish(ctx context.Context, notes []models.ThresholdNotification) {
	for _, n := range notes {
		err := s.publisher.Publish(ctx, n)
		result := "ok"
		if err != nil {
			result = "error"
			zap.L().Warn("notification publish failed",
				zap.String("notification_id", n.NotificationID.String()),
				zap.String("request_id", n.RequestID.String()),
				zap.Error(err))
		}
		for _, role := range n.TargetRoles {
			observability.IncrementNotificationPublish(string(role), result)
		}
	}
}

// List returns notifications newest first.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.ThresholdNotification, error) {
	notes, err := s.store.Queries().ListNotifications(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notes, nil
}

// MarkRead flags a notification read. Repeated calls succeed and keep the
// first read time.
func (s *NotificationService) MarkRead(ctx context.Context, tenantID string, notificationID uuid.UUID) (models.ThresholdNotification, error) {
	var n models.ThresholdNotification
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		var err error
		n, err = q.MarkNotificationRead(ctx, notificationID, s.clock.Now())
		if err != nil {
			return err
		}
		if n.TenantID != tenantID {
			return fmt.Errorf("notification %s: %w", notificationID, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return models.ThresholdNotification{}, err
	}
	return n, nil
}

// ParseRoles normalizes a comma separated role list, dropping unknown entries.
func ParseRoles(raw string) []domain.Role {
	var roles []domain.Role
	for _, part := range strings.Split(raw, ",") {
		switch r := domain.Role(strings.ToUpper(strings.TrimSpace(part))); r {
		case domain.RoleSupervisor, domain.RoleCompliance:
			roles = append(roles, r)
		}
	}
	return roles
}
