package models

import (
	"encoding/json"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome is the disposition of a change request. Exactly one variant is
// attached to a request, so an approver and a rejecter can never coexist.
type Outcome interface {
	Status() domain.Status
	outcome()
}

// Pending is the outcome of a request still awaiting a second actor.
type Pending struct{}

// Approved records who let the change take effect.
type Approved struct {
	By        string
	At        time.Time
	Automatic bool
}

// Rejected records who refused the change and why.
type Rejected struct {
	By     string
	At     time.Time
	Reason string
}

// Expired records when the approval window lapsed.
type Expired struct {
	At time.Time
}

func (Pending) Status() domain.Status  { return domain.StatusPending }
func (Approved) Status() domain.Status { return domain.StatusApproved }
func (Rejected) Status() domain.Status { return domain.StatusRejected }
func (Expired) Status() domain.Status  { return domain.StatusExpired }

func (Pending) outcome()  {}
func (Approved) outcome() {}
func (Rejected) outcome() {}
func (Expired) outcome()  {}

// ThresholdChangeRequest is a proposed change and its disposition.
type ThresholdChangeRequest struct {
	RequestID        uuid.UUID
	TenantID         string
	Category         domain.Category
	CurrencyOrAsset  string
	CurrentAmount    domain.Amount
	NewAmount        domain.Amount
	MagnitudePercent decimal.Decimal
	RequiresApproval bool
	RequestedBy      string
	RequestedAt      time.Time
	ExpiresAt        time.Time
	Outcome          Outcome
}

// Status derives the lifecycle state from the outcome.
func (r *ThresholdChangeRequest) Status() domain.Status {
	if r.Outcome == nil {
		return domain.StatusPending
	}
	return r.Outcome.Status()
}

// IsStale reports whether a PENDING request has passed its deadline at now.
func (r *ThresholdChangeRequest) IsStale(now time.Time) bool {
	return r.Status() == domain.StatusPending && now.After(r.ExpiresAt)
}

// ExpiryDue reports whether a sweep at now should expire the request.
func (r *ThresholdChangeRequest) ExpiryDue(now time.Time) bool {
	return r.Status() == domain.StatusPending && !r.ExpiresAt.After(now)
}

// OutcomeRow is the flat, storage-friendly shape of an Outcome.
type OutcomeRow struct {
	Status     domain.Status
	ResolvedBy *string
	ResolvedAt *time.Time
	Reason     *string
	Automatic  bool
}

// Flatten converts the request outcome into its row shape.
func (r *ThresholdChangeRequest) Flatten() OutcomeRow {
	switch o := r.Outcome.(type) {
	case Approved:
		return OutcomeRow{Status: domain.StatusApproved, ResolvedBy: &o.By, ResolvedAt: &o.At, Automatic: o.Automatic}
	case Rejected:
		return OutcomeRow{Status: domain.StatusRejected, ResolvedBy: &o.By, ResolvedAt: &o.At, Reason: &o.Reason}
	case Expired:
		return OutcomeRow{Status: domain.StatusExpired, ResolvedAt: &o.At}
	default:
		return OutcomeRow{Status: domain.StatusPending}
	}
}

// Outcome rebuilds the union from a row.
func (row OutcomeRow) Outcome() Outcome {
	switch row.Status {
	case domain.StatusApproved:
		return Approved{By: deref(row.ResolvedBy), At: derefTime(row.ResolvedAt), Automatic: row.Automatic}
	case domain.StatusRejected:
		return Rejected{By: deref(row.ResolvedBy), At: derefTime(row.ResolvedAt), Reason: deref(row.Reason)}
	case domain.StatusExpired:
		return Expired{At: derefTime(row.ResolvedAt)}
	default:
		return Pending{}
	}
}

type requestJSON struct {
	RequestID        uuid.UUID       `json:"request_id"`
	TenantID         string          `json:"tenant_id"`
	Category         domain.Category `json:"category"`
	CurrencyOrAsset  string          `json:"currency_or_asset"`
	CurrentAmount    domain.Amount   `json:"current_amount"`
	NewAmount        domain.Amount   `json:"new_amount"`
	MagnitudePercent decimal.Decimal `json:"magnitude_percent"`
	RequiresApproval bool            `json:"requires_approval"`
	Status           domain.Status   `json:"status"`
	RequestedBy      string          `json:"requested_by"`
	RequestedAt      time.Time       `json:"requested_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	ApprovedBy       *string         `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	AutoApproved     bool            `json:"auto_approved,omitempty"`
	RejectedBy       *string         `json:"rejected_by,omitempty"`
	RejectedAt       *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason  *string         `json:"rejection_reason,omitempty"`
	ExpiredAt        *time.Time      `json:"expired_at,omitempty"`
}

// MarshalJSON flattens the outcome for API consumers.
func (r ThresholdChangeRequest) MarshalJSON() ([]byte, error) {
	out := requestJSON{
		RequestID:        r.RequestID,
		TenantID:         r.TenantID,
		Category:         r.Category,
		CurrencyOrAsset:  r.CurrencyOrAsset,
		CurrentAmount:    r.CurrentAmount,
		NewAmount:        r.NewAmount,
		MagnitudePercent: r.MagnitudePercent,
		RequiresApproval: r.RequiresApproval,
		Status:           r.Status(),
		RequestedBy:      r.RequestedBy,
		RequestedAt:      r.RequestedAt,
		ExpiresAt:        r.ExpiresAt,
	}
	switch o := r.Outcome.(type) {
	case Approved:
		out.ApprovedBy, out.ApprovedAt, out.AutoApproved = &o.By, &o.At, o.Automatic
	case Rejected:
		out.RejectedBy, out.RejectedAt, out.RejectionReason = &o.By, &o.At, &o.Reason
	case Expired:
		out.ExpiredAt = &o.At
	}
	return json.Marshal(out)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
