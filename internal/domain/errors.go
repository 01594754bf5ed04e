package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrMissingReason         = errors.New("rejection reason is required")
	ErrSelfApproval          = errors.New("requester cannot act on their own request")
	ErrInsufficientAuthority = errors.New("insufficient authority")
	ErrInvalidCategory       = errors.New("invalid category")
)

// InvalidStateError reports a transition attempted from a resolved request.
type InvalidStateError struct {
	RequestID string
	Current   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("threshold change request %s is already %s", e.RequestID, e.Current)
}

// Is lets errors.Is(err, ErrInvalidState) match.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// CurrentStatus extracts the status carried by an InvalidStateError.
func CurrentStatus(err error) (Status, bool) {
	var ise *InvalidStateError
	if errors.As(err, &ise) {
		return ise.Current, true
	}
	return "", false
}
