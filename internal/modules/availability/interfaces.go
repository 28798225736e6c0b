package availability

import (
	"context"

	"kilnstudio/internal/domain"
)

type SessionStore interface {
	GetByID(ctx context.Context, tenantID, id int64) (*domain.Session, error)
	ListByDate(ctx context.Context, tenantID int64, date string) ([]domain.Session, error)
	ListRequirements(ctx context.Context, tenantID, classID int64) ([]domain.ClassResourceRequirement, error)
	ListRequirementsForClasses(ctx context.Context, tenantID int64, classIDs []int64) (map[int64][]domain.ClassResourceRequirement, error)
}

type AllocationStore interface {
	SumBySessions(ctx context.Context, tenantID int64, sessionIDs []int64) (map[int64]map[int64]int, error)
}

type ResourceStore interface {
	GetByID(ctx context.Context, tenantID, id int64) (*domain.Resource, error)
	List(ctx context.Context, tenantID int64, activeOnly bool) ([]domain.Resource, error)
	ListByIDs(ctx context.Context, tenantID int64, ids []int64) ([]domain.Resource, error)
}

type BookingStore interface {
	ListActiveForSession(ctx context.Context, tenantID, sessionID int64) ([]domain.OpenStudioBooking, error)
}

type WaitlistStore interface {
	ListActiveForSession(ctx context.Context, tenantID, sessionID int64) ([]domain.OpenStudioWaitlist, error)
}

// PromotionQueue accepts slots whose waitlist should be processed.
type PromotionQueue interface {
	Enqueue(tenantID int64, slot domain.Slot) bool
}
