package entitlement

import (
	"context"
	"errors"
	"fmt"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/repository"
)

type Resolver struct {
	source Source
	ledger PunchLedger
}

func NewResolver(source Source, ledger PunchLedger) *Resolver {
	return &Resolver{source: source, ledger: ledger}
}

// Resolve loads the funding source named by exactly one of the two ids.
func (r *Resolver) Resolve(ctx context.Context, tenantID int64, subscriptionID, punchPassID *int64) (Funding, error) {
	hasSub := subscriptionID != nil && *subscriptionID != 0
	hasPass := punchPassID != nil && *punchPassID != 0
	if hasSub == hasPass {
		return nil, ErrMissingEntitlement
	}

	if hasSub {
		sub, err := r.source.GetSubscription(ctx, tenantID, *subscriptionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrSubscriptionNotFound
			}
			return nil, fmt.Errorf("failed to load subscription: %w", err)
		}
		return NewSubscriptionFunding(sub), nil
	}

	pass, err := r.source.GetPunchPass(ctx, tenantID, *punchPassID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPunchPassNotFound
		}
		return nil, fmt.Errorf("failed to load punch pass: %w", err)
	}
	return NewPunchPassFunding(pass, r.ledger), nil
}

// ForBooking resolves the source recorded on an existing booking.
func (r *Resolver) ForBooking(ctx context.Context, b *domain.OpenStudioBooking) (Funding, error) {
	return r.Resolve(ctx, b.TenantID, b.SubscriptionID, b.PunchPassID)
}
