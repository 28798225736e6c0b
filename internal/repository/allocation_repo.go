package repository

import (
	"context"

	"gorm.io/gorm"

	"kilnstudio/internal/domain"
)

type AllocationRepository struct {
	db *gorm.DB
}

func NewAllocationRepository(db *gorm.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

func (r *AllocationRepository) CreateAll(ctx context.Context, allocs []domain.SessionResourceAllocation) error {
	if len(allocs) == 0 {
		return nil
	}
	return conn(ctx, r.db).Create(&allocs).Error
}

// Release removes the allocations a registration holds in a session.
func (r *AllocationRepository) Release(ctx context.Context, tenantID, registrationID, sessionID int64) error {
	return conn(ctx, r.db).
		Where("tenant_id = ? AND registration_id = ? AND session_id = ?", tenantID, registrationID, sessionID).
		Delete(&domain.SessionResourceAllocation{}).Error
}

type allocationSum struct {
	SessionID  int64
	ResourceID int64
	Total      int
}

// SumBySessions returns allocated quantity keyed by session id, then resource id.
func (r *AllocationRepository) SumBySessions(ctx context.Context, tenantID int64, sessionIDs []int64) (map[int64]map[int64]int, error) {
	out := make(map[int64]map[int64]int, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	var rows []allocationSum
	err := conn(ctx, r.db).Model(&domain.SessionResourceAllocation{}).
		Select("session_id, resource_id, SUM(quantity) AS total").
		Where("tenant_id = ? AND session_id IN ?", tenantID, sessionIDs).
		Group("session_id, resource_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if out[row.SessionID] == nil {
			out[row.SessionID] = make(map[int64]int)
		}
		out[row.SessionID][row.ResourceID] = row.Total
	}
	return out, nil
}
