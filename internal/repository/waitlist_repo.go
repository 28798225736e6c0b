package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"kilnstudio/internal/domain"
)

type WaitlistRepository struct {
	db *gorm.DB
}

func NewWaitlistRepository(db *gorm.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

func (r *WaitlistRepository) Create(ctx context.Context, w *domain.OpenStudioWaitlist) error {
	return conn(ctx, r.db).Create(w).Error
}

func (r *WaitlistRepository) GetByID(ctx context.Context, tenantID, id int64) (*domain.OpenStudioWaitlist, error) {
	var w domain.OpenStudioWaitlist
	err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&w).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (r *WaitlistRepository) activeQuery(ctx context.Context, tenantID, sessionID int64) *gorm.DB {
	return conn(ctx, r.db).
		Where("tenant_id = ? AND session_id = ? AND cancelled_at IS NULL AND fulfilled_at IS NULL", tenantID, sessionID)
}

// ListActiveForSession returns live entries of a session ordered by position.
func (r *WaitlistRepository) ListActiveForSession(ctx context.Context, tenantID, sessionID int64) ([]domain.OpenStudioWaitlist, error) {
	var out []domain.OpenStudioWaitlist
	err := r.activeQuery(ctx, tenantID, sessionID).Order("position ASC, id ASC").Find(&out).Error
	return out, err
}

// ListActiveForSlot returns live entries of one slot in FIFO order.
func (r *WaitlistRepository) ListActiveForSlot(ctx context.Context, tenantID int64, slot domain.Slot) ([]domain.OpenStudioWaitlist, error) {
	var out []domain.OpenStudioWaitlist
	err := r.activeQuery(ctx, tenantID, slot.SessionID).
		Where("resource_id = ? AND start_time = ?", slot.ResourceID, slot.StartTime.UTC()).
		Order("position ASC, id ASC").
		Find(&out).Error
	return out, err
}

// MaxPosition returns the highest position ever issued for a slot,
// including cancelled and fulfilled entries.
func (r *WaitlistRepository) MaxPosition(ctx context.Context, tenantID int64, slot domain.Slot) (int, error) {
	var highest int
	err := conn(ctx, r.db).
		Model(&domain.OpenStudioWaitlist{}).
		Select("COALESCE(MAX(position), 0)").
		Where("tenant_id = ? AND session_id = ? AND resource_id = ? AND start_time = ?",
			tenantID, slot.SessionID, slot.ResourceID, slot.StartTime.UTC()).
		Scan(&highest).Error
	return highest, err
}

func (r *WaitlistRepository) FindActiveForSubscription(ctx context.Context, tenantID, subscriptionID int64, slot domain.Slot) (*domain.OpenStudioWaitlist, error) {
	var w domain.OpenStudioWaitlist
	err := r.activeQuery(ctx, tenantID, slot.SessionID).
		Where("resource_id = ? AND start_time = ? AND subscription_id = ?", slot.ResourceID, slot.StartTime.UTC(), subscriptionID).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *WaitlistRepository) MarkFulfilled(ctx context.Context, tenantID, id, bookingID int64, at time.Time) error {
	return r.close(ctx, tenantID, id, map[string]any{"fulfilled_at": at, "booking_id": bookingID})
}

func (r *WaitlistRepository) MarkCancelled(ctx context.Context, tenantID, id int64, at time.Time) error {
	return r.close(ctx, tenantID, id, map[string]any{"cancelled_at": at})
}

func (r *WaitlistRepository) close(ctx context.Context, tenantID, id int64, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	tx := conn(ctx, r.db).Model(&domain.OpenStudioWaitlist{}).
		Where("tenant_id = ? AND id = ? AND cancelled_at IS NULL AND fulfilled_at IS NULL", tenantID, id).
		Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
