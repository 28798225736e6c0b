package repository

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"kilnstudio/internal/domain"
)

type OpenStudioBookingRepository struct {
	db *gorm.DB
}

func NewOpenStudioBookingRepository(db *gorm.DB) *OpenStudioBookingRepository {
	return &OpenStudioBookingRepository{db: db}
}

func (r *OpenStudioBookingRepository) Create(ctx context.Context, b *domain.OpenStudioBooking) error {
	return conn(ctx, r.db).Create(b).Error
}

func (r *OpenStudioBookingRepository) GetByID(ctx context.Context, tenantID, id int64) (*domain.OpenStudioBooking, error) {
	var b domain.OpenStudioBooking
	err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&b).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *OpenStudioBookingRepository) GetByIDForUpdate(ctx context.Context, tenantID, id int64) (*domain.OpenStudioBooking, error) {
	var b domain.OpenStudioBooking
	err := forUpdate(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&b).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// ListActiveForSession returns RESERVED and CHECKED_IN bookings of a session.
func (r *OpenStudioBookingRepository) ListActiveForSession(ctx context.Context, tenantID, sessionID int64) ([]domain.OpenStudioBooking, error) {
	return r.ListActiveForSessions(ctx, tenantID, []int64{sessionID})
}

func (r *OpenStudioBookingRepository) ListActiveForSessions(ctx context.Context, tenantID int64, sessionIDs []int64) ([]domain.OpenStudioBooking, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var out []domain.OpenStudioBooking
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND session_id IN ? AND status IN ?", tenantID, sessionIDs, domain.ActiveOpenStudioStatuses).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// CountForSubscriptionSince counts bookings that consume the weekly
// allowance of a membership, reserved at or after since.
func (r *OpenStudioBookingRepository) CountForSubscriptionSince(ctx context.Context, tenantID, subscriptionID int64, since time.Time) (int, error) {
	var n int64
	err := conn(ctx, r.db).
		Model(&domain.OpenStudioBooking{}).
		Where("tenant_id = ? AND subscription_id = ? AND status IN ?", tenantID, subscriptionID, domain.WeeklyCountedStatuses).
		Where("reserved_at >= ?", since.UTC()).
		Count(&n).Error
	return int(n), err
}

// ListCheckedInEndedBy returns checked-in bookings whose block ended at or
// before cutoff.
func (r *OpenStudioBookingRepository) ListCheckedInEndedBy(ctx context.Context, tenantID int64, cutoff time.Time) ([]domain.OpenStudioBooking, error) {
	var out []domain.OpenStudioBooking
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND status = ? AND end_time <= ?", tenantID, domain.OpenStudioCheckedIn, cutoff.UTC()).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *OpenStudioBookingRepository) ListForCustomer(ctx context.Context, tenantID, customerID int64) ([]domain.OpenStudioBooking, error) {
	var out []domain.OpenStudioBooking
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Order("id DESC").
		Find(&out).Error
	return out, err
}

// Transition moves a booking from one status to another. It fails with
// ErrStaleState when the stored status is no longer from.
func (r *OpenStudioBookingRepository) Transition(ctx context.Context, tenantID, id int64, from, to domain.OpenStudioBookingStatus, fields map[string]any) error {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}
	tx := conn(ctx, r.db).Model(&domain.OpenStudioBooking{}).
		Where("tenant_id = ? AND id = ? AND status = ?", tenantID, id, from).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
