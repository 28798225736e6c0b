package repository

import (
	"context"

	"gorm.io/gorm"

	"kilnstudio/internal/domain"
)

// HistoryRepository is append-only: it has no update or delete paths.
type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Append(ctx context.Context, h *domain.ReservationHistory) error {
	return conn(ctx, r.db).Create(h).Error
}

func (r *HistoryRepository) ListForReservation(ctx context.Context, tenantID, reservationID int64) ([]domain.ReservationHistory, error) {
	var out []domain.ReservationHistory
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND reservation_id = ?", tenantID, reservationID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}
