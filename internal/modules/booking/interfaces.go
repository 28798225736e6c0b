package booking

import (
	"context"
	"time"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/modules/entitlement"
)

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type BookingStore interface {
	Create(ctx context.Context, b *domain.OpenStudioBooking) error
	GetByID(ctx context.Context, tenantID, id int64) (*domain.OpenStudioBooking, error)
	GetByIDForUpdate(ctx context.Context, tenantID, id int64) (*domain.OpenStudioBooking, error)
	CountForSubscriptionSince(ctx context.Context, tenantID, subscriptionID int64, since time.Time) (int, error)
	ListCheckedInEndedBy(ctx context.Context, tenantID int64, cutoff time.Time) ([]domain.OpenStudioBooking, error)
	ListForCustomer(ctx context.Context, tenantID, customerID int64) ([]domain.OpenStudioBooking, error)
	Transition(ctx context.Context, tenantID, id int64, from, to domain.OpenStudioBookingStatus, fields map[string]any) error
}

type SessionReader interface {
	GetByID(ctx context.Context, tenantID, id int64) (*domain.Session, error)
}

type ResourceReader interface {
	GetByID(ctx context.Context, tenantID, id int64) (*domain.Resource, error)
}

type SuspensionChecker interface {
	ActiveSuspension(ctx context.Context, tenantID, customerID int64, now time.Time) (*domain.CustomerSuspension, error)
}

type FundingResolver interface {
	Resolve(ctx context.Context, tenantID int64, subscriptionID, punchPassID *int64) (entitlement.Funding, error)
	ForBooking(ctx context.Context, b *domain.OpenStudioBooking) (entitlement.Funding, error)
}

// CapacityChecker reports free units of a resource for an interval.
type CapacityChecker interface {
	FreeCapacity(ctx context.Context, tenantID, sessionID, resourceID int64, start, end time.Time) (int, error)
}

// WaitlistTrigger promotes waiting customers once a slot frees up.
type WaitlistTrigger interface {
	PromoteNow(ctx context.Context, tenantID int64, slot domain.Slot)
}
