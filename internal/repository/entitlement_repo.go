package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"kilnstudio/internal/domain"
)

var ErrInsufficientPunches = errors.New("insufficient punches")

// EntitlementRepository stores memberships, punch passes and suspensions.
type EntitlementRepository struct {
	db *gorm.DB
}

func NewEntitlementRepository(db *gorm.DB) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

func (r *EntitlementRepository) CreateSubscription(ctx context.Context, s *domain.Subscription) error {
	return conn(ctx, r.db).Create(s).Error
}

func (r *EntitlementRepository) GetSubscription(ctx context.Context, tenantID, id int64) (*domain.Subscription, error) {
	var s domain.Subscription
	err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *EntitlementRepository) SetSubscriptionStatus(ctx context.Context, tenantID, id int64, status domain.SubscriptionStatus) error {
	return conn(ctx, r.db).Model(&domain.Subscription{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("status", status).Error
}

func (r *EntitlementRepository) CreatePunchPass(ctx context.Context, p *domain.PunchPass) error {
	return conn(ctx, r.db).Create(p).Error
}

func (r *EntitlementRepository) GetPunchPass(ctx context.Context, tenantID, id int64) (*domain.PunchPass, error) {
	var p domain.PunchPass
	err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// AdjustPunches adds delta to a pass's remaining punches. The guard keeps the
// balance non-negative under concurrent consumption.
func (r *EntitlementRepository) AdjustPunches(ctx context.Context, tenantID, id int64, delta int) error {
	tx := conn(ctx, r.db).Model(&domain.PunchPass{}).
		Where("tenant_id = ? AND id = ? AND punches_remaining + ? >= 0", tenantID, id, delta).
		Updates(map[string]any{
			"punches_remaining": gorm.Expr("punches_remaining + ?", delta),
			"updated_at":        time.Now().UTC(),
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		if _, err := r.GetPunchPass(ctx, tenantID, id); err != nil {
			return err
		}
		return ErrInsufficientPunches
	}
	return nil
}

func (r *EntitlementRepository) CreateSuspension(ctx context.Context, s *domain.CustomerSuspension) error {
	return conn(ctx, r.db).Create(s).Error
}

// ActiveSuspension returns the suspension covering now, or nil.
func (r *EntitlementRepository) ActiveSuspension(ctx context.Context, tenantID, customerID int64, now time.Time) (*domain.CustomerSuspension, error) {
	var rows []domain.CustomerSuspension
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Order("starts_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Covers(now) {
			return &rows[i], nil
		}
	}
	return nil, nil
}
