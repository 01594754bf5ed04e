// Package authority resolves what an actor is allowed to do.
package authority

import (
	"context"

	"github.com/ayo6706/risk-thresholds/internal/domain"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	ActorID      string
	TenantID     string
	Roles        []domain.Role
	Capabilities []domain.Capability
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached to ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ClaimsOracle trusts the capabilities carried in the caller's verified token.
// It grants nothing for an actor other than the authenticated one.
type ClaimsOracle struct{}

func (ClaimsOracle) Capabilities(ctx context.Context, actorID string) ([]domain.Capability, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok || p.ActorID != actorID {
		return nil, nil
	}
	return p.Capabilities, nil
}
