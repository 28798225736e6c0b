package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"kilnstudio/internal/domain"
)

type ReservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Create(ctx context.Context, res *domain.SessionReservation) error {
	return conn(ctx, r.db).Create(res).Error
}

func (r *ReservationRepository) GetByID(ctx context.Context, tenantID, id int64) (*domain.SessionReservation, error) {
	var res domain.SessionReservation
	err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&res).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &res, nil
}

func (r *ReservationRepository) GetByIDForUpdate(ctx context.Context, tenantID, id int64) (*domain.SessionReservation, error) {
	var res domain.SessionReservation
	err := forUpdate(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&res).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &res, nil
}

func (r *ReservationRepository) FindByRegistrationAndSession(ctx context.Context, tenantID, registrationID, sessionID int64) (*domain.SessionReservation, error) {
	var res domain.SessionReservation
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND registration_id = ? AND session_id = ?", tenantID, registrationID, sessionID).
		First(&res).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &res, nil
}

func (r *ReservationRepository) CountForRegistration(ctx context.Context, tenantID, registrationID int64, statuses []domain.ReservationStatus) (int, error) {
	var n int64
	err := conn(ctx, r.db).Model(&domain.SessionReservation{}).
		Where("tenant_id = ? AND registration_id = ? AND reservation_status IN ?", tenantID, registrationID, statuses).
		Count(&n).Error
	return int(n), err
}

func (r *ReservationRepository) CountForSession(ctx context.Context, tenantID, sessionID int64, statuses []domain.ReservationStatus) (int, error) {
	var n int64
	err := conn(ctx, r.db).Model(&domain.SessionReservation{}).
		Where("tenant_id = ? AND session_id = ? AND reservation_status IN ?", tenantID, sessionID, statuses).
		Count(&n).Error
	return int(n), err
}

func (r *ReservationRepository) ListForRegistration(ctx context.Context, tenantID, registrationID int64, statuses []domain.ReservationStatus) ([]domain.SessionReservation, error) {
	var out []domain.SessionReservation
	q := conn(ctx, r.db).Where("tenant_id = ? AND registration_id = ?", tenantID, registrationID)
	if len(statuses) > 0 {
		q = q.Where("reservation_status IN ?", statuses)
	}
	err := q.Order("id ASC").Find(&out).Error
	return out, err
}

func (r *ReservationRepository) ListForSessions(ctx context.Context, tenantID int64, sessionIDs []int64, statuses []domain.ReservationStatus) ([]domain.SessionReservation, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var out []domain.SessionReservation
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND session_id IN ? AND reservation_status IN ?", tenantID, sessionIDs, statuses).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// Transition moves a reservation out of status from. It fails with
// ErrStaleState when another writer got there first.
func (r *ReservationRepository) Transition(ctx context.Context, tenantID, id int64, from, to domain.ReservationStatus, fields map[string]any) error {
	updates := map[string]any{"reservation_status": to, "updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}
	tx := conn(ctx, r.db).Model(&domain.SessionReservation{}).
		Where("tenant_id = ? AND id = ? AND reservation_status = ?", tenantID, id, from).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
