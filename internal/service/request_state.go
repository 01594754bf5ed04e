package service

import (
	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
)

var requestTransitions = map[domain.Status]map[domain.Status]struct{}{
	domain.StatusPending: {
		domain.StatusApproved: {},
		domain.StatusRejected: {},
		domain.StatusExpired:  {},
	},
	domain.StatusApproved: {},
	domain.StatusRejected: {},
	domain.StatusExpired:  {},
}

func canTransition(current, next domain.Status) bool {
	nextStates, ok := requestTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// checkTransition fails with the request's current status when next is unreachable.
func checkTransition(req models.ThresholdChangeRequest, next domain.Status) error {
	if !canTransition(req.Status(), next) {
		return &domain.InvalidStateError{RequestID: req.RequestID.String(), Current: req.Status()}
	}
	return nil
}
