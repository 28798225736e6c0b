package entitlement

import (
	"context"

	"kilnstudio/internal/domain"
)

// Source reads memberships and punch passes.
type Source interface {
	GetSubscription(ctx context.Context, tenantID, id int64) (*domain.Subscription, error)
	GetPunchPass(ctx context.Context, tenantID, id int64) (*domain.PunchPass, error)
}

// PunchLedger changes a punch pass balance inside the caller's transaction.
type PunchLedger interface {
	AdjustPunches(ctx context.Context, tenantID, passID int64, delta int) error
}
