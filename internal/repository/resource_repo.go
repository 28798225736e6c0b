package repository

import (
	"context"

	"gorm.io/gorm"

	"kilnstudio/internal/domain"
)

type ResourceRepository struct {
	db *gorm.DB
}

func NewResourceRepository(db *gorm.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

func (r *ResourceRepository) Create(ctx context.Context, res *domain.Resource) error {
	return conn(ctx, r.db).Create(res).Error
}

func (r *ResourceRepository) GetByID(ctx context.Context, tenantID, id int64) (*domain.Resource, error) {
	var res domain.Resource
	err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&res).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &res, nil
}

func (r *ResourceRepository) List(ctx context.Context, tenantID int64, activeOnly bool) ([]domain.Resource, error) {
	var out []domain.Resource
	q := conn(ctx, r.db).Where("tenant_id = ?", tenantID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Order("name ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *ResourceRepository) ListByIDs(ctx context.Context, tenantID int64, ids []int64) ([]domain.Resource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.Resource
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("name ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *ResourceRepository) SetActive(ctx context.Context, tenantID, id int64, active bool) error {
	tx := conn(ctx, r.db).Model(&domain.Resource{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("is_active", active)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
