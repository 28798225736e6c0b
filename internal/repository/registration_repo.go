package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"kilnstudio/internal/domain"
)

type RegistrationRepository struct {
	db *gorm.DB
}

func NewRegistrationRepository(db *gorm.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func (r *RegistrationRepository) Create(ctx context.Context, reg *domain.ClassRegistration) error {
	return conn(ctx, r.db).Create(reg).Error
}

func (r *RegistrationRepository) GetByID(ctx context.Context, tenantID, id int64) (*domain.ClassRegistration, error) {
	var reg domain.ClassRegistration
	err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&reg).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &reg, nil
}

func (r *RegistrationRepository) GetByIDForUpdate(ctx context.Context, tenantID, id int64) (*domain.ClassRegistration, error) {
	var reg domain.ClassRegistration
	err := forUpdate(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&reg).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &reg, nil
}

// DeductPunch consumes one session and records attendance. It fails with
// ErrInsufficientPunches when nothing is left.
func (r *RegistrationRepository) DeductPunch(ctx context.Context, tenantID, id int64) error {
	tx := conn(ctx, r.db).Model(&domain.ClassRegistration{}).
		Where("tenant_id = ? AND id = ? AND sessions_remaining > 0", tenantID, id).
		Updates(map[string]any{
			"sessions_remaining": gorm.Expr("sessions_remaining - 1"),
			"sessions_attended":  gorm.Expr("sessions_attended + 1"),
			"updated_at":         time.Now().UTC(),
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrInsufficientPunches
	}
	return nil
}

// RestorePunch reverses DeductPunch.
func (r *RegistrationRepository) RestorePunch(ctx context.Context, tenantID, id int64) error {
	return conn(ctx, r.db).Model(&domain.ClassRegistration{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]any{
			"sessions_remaining": gorm.Expr("sessions_remaining + 1"),
			"sessions_attended":  gorm.Expr("CASE WHEN sessions_attended > 0 THEN sessions_attended - 1 ELSE 0 END"),
			"updated_at":         time.Now().UTC(),
		}).Error
}

// AdjustAttended changes the attendance counter, floored at zero.
func (r *RegistrationRepository) AdjustAttended(ctx context.Context, tenantID, id int64, delta int) error {
	return conn(ctx, r.db).Model(&domain.ClassRegistration{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]any{
			"sessions_attended": gorm.Expr("CASE WHEN sessions_attended + ? < 0 THEN 0 ELSE sessions_attended + ? END", delta, delta),
			"updated_at":        time.Now().UTC(),
		}).Error
}
