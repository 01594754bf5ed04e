package domain

import (
	"strings"
	"time"
)

// Category identifies the kind of transaction a threshold governs.
type Category string

const (
	CategoryFXConversion   Category = "FX_CONVERSION"
	CategoryCryptoBuy      Category = "CRYPTO_BUY"
	CategoryCryptoSell     Category = "CRYPTO_SELL"
	CategoryCryptoTransfer Category = "CRYPTO_TRANSFER"
)

// Categories lists every supported category in display order.
var Categories = []Category{
	CategoryFXConversion,
	CategoryCryptoBuy,
	CategoryCryptoSell,
	CategoryCryptoTransfer,
}

// ParseCategory normalizes and validates a category tag.
func ParseCategory(raw string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// AnyAsset is the currencyOrAsset tag of a pair-agnostic category default.
const AnyAsset = "*"

// NormalizeAsset upper-cases a currency code or asset symbol.
func NormalizeAsset(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Default thresholds in reporting-unit (AUD) whole units. Absence of
// configuration falls back to these, never to "no dual control".
var defaultThresholdUnits = map[Category]int64{
	CategoryFXConversion:   10_000,
	CategoryCryptoBuy:      5_000,
	CategoryCryptoSell:     5_000,
	CategoryCryptoTransfer: 2_500,
}

// DefaultThreshold returns the hardcoded floor for a category.
func DefaultThreshold(c Category) Amount {
	return AmountFromUnits(defaultThresholdUnits[c])
}

const (
	// ReportingCurrency is the unit every threshold amount is expressed in.
	ReportingCurrency = "AUD"

	// ApprovalTTL is how long a PENDING request waits for a second actor.
	ApprovalTTL = 24 * time.Hour
)

// Status is the lifecycle state of a threshold change request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// ThresholdSource tells which level of the effective resolution produced a value.
type ThresholdSource string

const (
	SourcePair     ThresholdSource = "PAIR"
	SourceCategory ThresholdSource = "CATEGORY"
	SourceDefault  ThresholdSource = "DEFAULT"
)

// EventType names an audit event.
type EventType string

const (
	EventThresholdChanged         EventType = "THRESHOLD_CHANGED"
	EventThresholdChangeRequested EventType = "THRESHOLD_CHANGE_REQUESTED"
	EventThresholdChangeApproved  EventType = "THRESHOLD_CHANGE_APPROVED"
	EventThresholdChangeRejected  EventType = "THRESHOLD_CHANGE_REJECTED"
	EventThresholdChangeExpired   EventType = "THRESHOLD_CHANGE_EXPIRED"
)

// NotificationType names a user-facing notification.
type NotificationType string

const (
	NotificationThresholdChanged NotificationType = "THRESHOLD_CHANGED"
	NotificationChangePending    NotificationType = "THRESHOLD_CHANGE_PENDING"
	NotificationChangeApproved   NotificationType = "THRESHOLD_CHANGE_APPROVED"
	NotificationChangeRejected   NotificationType = "THRESHOLD_CHANGE_REJECTED"
	NotificationChangeExpired    NotificationType = "THRESHOLD_CHANGE_EXPIRED"
)

// ExecutionMode records whether a change applied immediately or via dual control.
type ExecutionMode string

const (
	ModeImmediate   ExecutionMode = "IMMEDIATE"
	ModeDualControl ExecutionMode = "DUAL_CONTROL"
)

// Role is a notification audience.
type Role string

const (
	RoleSupervisor Role = "SUPERVISOR"
	RoleCompliance Role = "COMPLIANCE"
)

// Capability is a named permission resolved by an external oracle.
type Capability string

const (
	CapabilityAdministrative      Capability = "admin"
	CapabilityDualControlApprover Capability = "dual_control_approver"
)
