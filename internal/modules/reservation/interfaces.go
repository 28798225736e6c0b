package reservation

import (
	"context"
	"time"

	"kilnstudio/internal/domain"
)

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type SuspensionChecker interface {
	ActiveSuspension(ctx context.Context, tenantID, customerID int64, now time.Time) (*domain.CustomerSuspension, error)
}

type RegistrationStore interface {
	GetByID(ctx context.Context, tenantID, id int64) (*domain.ClassRegistration, error)
}

type ReservationStore interface {
	Create(ctx context.Context, res *domain.SessionReservation) error
	GetByID(ctx context.Context, tenantID, id int64) (*domain.SessionReservation, error)
	GetByIDForUpdate(ctx context.Context, tenantID, id int64) (*domain.SessionReservation, error)
	FindByRegistrationAndSession(ctx context.Context, tenantID, registrationID, sessionID int64) (*domain.SessionReservation, error)
	CountForRegistration(ctx context.Context, tenantID, registrationID int64, statuses []domain.ReservationStatus) (int, error)
	CountForSession(ctx context.Context, tenantID, sessionID int64, statuses []domain.ReservationStatus) (int, error)
	ListForRegistration(ctx context.Context, tenantID, registrationID int64, statuses []domain.ReservationStatus) ([]domain.SessionReservation, error)
	ListForSessions(ctx context.Context, tenantID int64, sessionIDs []int64, statuses []domain.ReservationStatus) ([]domain.SessionReservation, error)
	Transition(ctx context.Context, tenantID, id int64, from, to domain.ReservationStatus, fields map[string]any) error
}

type SessionStore interface {
	GetByID(ctx context.Context, tenantID, id int64) (*domain.Session, error)
	ListByDate(ctx context.Context, tenantID int64, date string) ([]domain.Session, error)
	ListForClass(ctx context.Context, tenantID, classID int64) ([]domain.Session, error)
	ListByIDs(ctx context.Context, tenantID int64, ids []int64) ([]domain.Session, error)
	SetCancelled(ctx context.Context, tenantID, id int64) error
	AdjustEnrollment(ctx context.Context, tenantID, id int64, delta int) error
	GetClass(ctx context.Context, tenantID, id int64) (*domain.Class, error)
	ListActiveSteps(ctx context.Context, tenantID, classID int64) ([]domain.ClassStep, error)
	ListRequirements(ctx context.Context, tenantID, classID int64) ([]domain.ClassResourceRequirement, error)
}

type AllocationStore interface {
	CreateAll(ctx context.Context, allocs []domain.SessionResourceAllocation) error
	Release(ctx context.Context, tenantID, registrationID, sessionID int64) error
	SumBySessions(ctx context.Context, tenantID int64, sessionIDs []int64) (map[int64]map[int64]int, error)
}

type ResourceStore interface {
	ListByIDs(ctx context.Context, tenantID int64, ids []int64) ([]domain.Resource, error)
}

type BookingStore interface {
	ListActiveForSessions(ctx context.Context, tenantID int64, sessionIDs []int64) ([]domain.OpenStudioBooking, error)
}

type HistoryStore interface {
	Append(ctx context.Context, h *domain.ReservationHistory) error
	ListForReservation(ctx context.Context, tenantID, reservationID int64) ([]domain.ReservationHistory, error)
}
