package checkin

import (
	"context"

	"kilnstudio/internal/domain"
)

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type ReservationStore interface {
	GetByID(ctx context.Context, tenantID, id int64) (*domain.SessionReservation, error)
	GetByIDForUpdate(ctx context.Context, tenantID, id int64) (*domain.SessionReservation, error)
	ListForSessions(ctx context.Context, tenantID int64, sessionIDs []int64, statuses []domain.ReservationStatus) ([]domain.SessionReservation, error)
	Transition(ctx context.Context, tenantID, id int64, from, to domain.ReservationStatus, fields map[string]any) error
}

type RegistrationStore interface {
	GetByIDForUpdate(ctx context.Context, tenantID, id int64) (*domain.ClassRegistration, error)
	DeductPunch(ctx context.Context, tenantID, id int64) error
	RestorePunch(ctx context.Context, tenantID, id int64) error
	AdjustAttended(ctx context.Context, tenantID, id int64, delta int) error
}

type SessionStore interface {
	GetByID(ctx context.Context, tenantID, id int64) (*domain.Session, error)
	ListByDate(ctx context.Context, tenantID int64, date string) ([]domain.Session, error)
}

type HistoryStore interface {
	Append(ctx context.Context, h *domain.ReservationHistory) error
}
