package waitlist

import (
	"context"
	"time"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/modules/booking"
)

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type EntryStore interface {
	Create(ctx context.Context, w *domain.OpenStudioWaitlist) error
	GetByID(ctx context.Context, tenantID, id int64) (*domain.OpenStudioWaitlist, error)
	ListActiveForSlot(ctx context.Context, tenantID int64, slot domain.Slot) ([]domain.OpenStudioWaitlist, error)
	MaxPosition(ctx context.Context, tenantID int64, slot domain.Slot) (int, error)
	FindActiveForSubscription(ctx context.Context, tenantID, subscriptionID int64, slot domain.Slot) (*domain.OpenStudioWaitlist, error)
	MarkFulfilled(ctx context.Context, tenantID, id, bookingID int64, at time.Time) error
	MarkCancelled(ctx context.Context, tenantID, id int64, at time.Time) error
}

type SubscriptionSource interface {
	GetSubscription(ctx context.Context, tenantID, id int64) (*domain.Subscription, error)
}

type CapacityChecker interface {
	FreeCapacity(ctx context.Context, tenantID, sessionID, resourceID int64, start, end time.Time) (int, error)
}

// Booker is the booking engine as seen by promotion. then runs in the
// booking's transaction.
type Booker interface {
	CreateBookingThen(ctx context.Context, tenantID int64, actor domain.Actor, req booking.CreateBookingRequest, then booking.AfterInsert) (*booking.BookingDetails, error)
}

// Processor runs promotion for one slot.
type Processor interface {
	Process(ctx context.Context, tenantID int64, slot domain.Slot) (*ProcessResult, error)
}
