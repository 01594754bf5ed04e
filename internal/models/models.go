package models

import (
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// thresholdNamespace seeds the deterministic threshold identifiers.
var thresholdNamespace = uuid.MustParse("6f1c1e8e-3b57-4a43-9c55-7c7f2f3f9a10")

// ThresholdID derives the stable identifier of a (tenant, category, asset) slot.
func ThresholdID(tenantID string, category domain.Category, asset string) uuid.UUID {
	return uuid.NewSHA1(thresholdNamespace, []byte(tenantID+"|"+string(category)+"|"+asset))
}

// ThresholdConfig is the currently effective limit for a pair.
type ThresholdConfig struct {
	ThresholdID     uuid.UUID              `json:"threshold_id"`
	TenantID        string                 `json:"tenant_id"`
	Category        domain.Category        `json:"category"`
	CurrencyOrAsset string                 `json:"currency_or_asset"`
	Amount          domain.Amount          `json:"amount"`
	EffectiveFrom   time.Time              `json:"effective_from"`
	SetBy           string                 `json:"set_by"`
	SetAt           time.Time              `json:"set_at"`
	IsActive        bool                   `json:"is_active"`
	SourceRequestID *uuid.UUID             `json:"source_request_id,omitempty"`
	Source          domain.ThresholdSource `json:"source,omitempty"`
}

// ThresholdHistoryEntry is a superseded config. Never mutated.
type ThresholdHistoryEntry struct {
	Sequence     int64           `json:"sequence"`
	Config       ThresholdConfig `json:"config"`
	SupersededAt time.Time       `json:"superseded_at"`
	SupersededBy string          `json:"superseded_by"`
}

// ThresholdChangeEvent is an immutable audit record of one transition.
type ThresholdChangeEvent struct {
	Sequence          int64                `json:"sequence"`
	EventID           uuid.UUID            `json:"event_id"`
	TenantID          string               `json:"tenant_id"`
	EventType         domain.EventType     `json:"event_type"`
	RequestID         uuid.UUID            `json:"request_id"`
	Category          domain.Category      `json:"category"`
	CurrencyOrAsset   string               `json:"currency_or_asset"`
	BeforeAmount      domain.Amount        `json:"before_amount"`
	AfterAmount       domain.Amount        `json:"after_amount"`
	Actor             string               `json:"actor"`
	ActorCapabilities []domain.Capability  `json:"actor_capabilities"`
	MagnitudePercent  decimal.Decimal      `json:"magnitude_percent"`
	ExecutionMode     domain.ExecutionMode `json:"execution_mode"`
	Reason            string               `json:"reason,omitempty"`
	IdempotencyKey    string               `json:"idempotency_key"`
	CreatedAt         time.Time            `json:"created_at"`
}

// EventIdempotencyKey identifies a transition so duplicate emissions collapse.
func EventIdempotencyKey(requestID uuid.UUID, eventType domain.EventType) string {
	return requestID.String() + ":" + string(eventType)
}

// ThresholdNotification is a role-targeted signal derived from an event.
// Only IsRead and ReadAt ever change after creation.
type ThresholdNotification struct {
	NotificationID uuid.UUID               `json:"notification_id"`
	TenantID       string                  `json:"tenant_id"`
	EventSequence  int64                   `json:"event_sequence"`
	Type           domain.NotificationType `json:"type"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	RequestID      uuid.UUID               `json:"request_id"`
	TargetRoles    []domain.Role           `json:"target_roles"`
	IsRead         bool                    `json:"is_read"`
	ReadAt         *time.Time              `json:"read_at,omitempty"`
	IdempotencyKey string                  `json:"-"`
	CreatedAt      time.Time               `json:"created_at"`
}

// TargetsRole reports whether r is among the notification's audiences.
func (n ThresholdNotification) TargetsRole(r domain.Role) bool {
	for _, target := range n.TargetRoles {
		if target == r {
			return true
		}
	}
	return false
}

// NotificationFilter narrows a notification listing.
type NotificationFilter struct {
	TenantID   string
	Roles      []domain.Role
	UnreadOnly bool
	Limit      int32
}
