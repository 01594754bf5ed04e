package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/ayo6706/risk-thresholds/internal/domain"
)

// CapabilityOracle answers which capabilities an actor holds. Identity alone
// never grants authority.
type CapabilityOracle interface {
	Capabilities(ctx context.Context, actorID string) ([]domain.Capability, error)
}

func (s *ApprovalService) capabilities(ctx context.Context, actorID string) ([]domain.Capability, error) {
	caps, err := s.oracle.Capabilities(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("resolve capabilities for %s: %w", actorID, err)
	}
	return caps, nil
}

func holdsAll(caps []domain.Capability, required ...domain.Capability) bool {
	for _, c := range required {
		if !slices.Contains(caps, c) {
			return false
		}
	}
	return true
}
