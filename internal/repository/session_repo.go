package repository

import (
	"context"

	"gorm.io/gorm"

	"kilnstudio/internal/domain"
)

// SessionRepository covers the schedule: classes, steps, resource
// requirements and sessions.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	return conn(ctx, r.db).Create(s).Error
}

func (r *SessionRepository) GetByID(ctx context.Context, tenantID, id int64) (*domain.Session, error) {
	var s domain.Session
	err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// ListByDate returns the non-cancelled sessions on a calendar date.
func (r *SessionRepository) ListByDate(ctx context.Context, tenantID int64, date string) ([]domain.Session, error) {
	var out []domain.Session
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND date = ? AND is_cancelled = ?", tenantID, date, false).
		Order("start_time ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *SessionRepository) ListForClass(ctx context.Context, tenantID, classID int64) ([]domain.Session, error) {
	var out []domain.Session
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND class_id = ? AND is_cancelled = ?", tenantID, classID, false).
		Order("date ASC, start_time ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *SessionRepository) ListByIDs(ctx context.Context, tenantID int64, ids []int64) ([]domain.Session, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.Session
	err := conn(ctx, r.db).Where("tenant_id = ? AND id IN ?", tenantID, ids).Find(&out).Error
	return out, err
}

func (r *SessionRepository) SetCancelled(ctx context.Context, tenantID, id int64) error {
	tx := conn(ctx, r.db).Model(&domain.Session{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("is_cancelled", true)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustEnrollment keeps the denormalised current_enrollment counter in step
// with seated reservations. It never drops below zero.
func (r *SessionRepository) AdjustEnrollment(ctx context.Context, tenantID, id int64, delta int) error {
	return conn(ctx, r.db).Model(&domain.Session{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("current_enrollment", gorm.Expr("CASE WHEN current_enrollment + ? < 0 THEN 0 ELSE current_enrollment + ? END", delta, delta)).
		Error
}

func (r *SessionRepository) CreateClass(ctx context.Context, c *domain.Class) error {
	return conn(ctx, r.db).Create(c).Error
}

func (r *SessionRepository) GetClass(ctx context.Context, tenantID, id int64) (*domain.Class, error) {
	var c domain.Class
	err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *SessionRepository) CreateStep(ctx context.Context, s *domain.ClassStep) error {
	return conn(ctx, r.db).Create(s).Error
}

// ListActiveSteps returns a class's active steps in step order.
func (r *SessionRepository) ListActiveSteps(ctx context.Context, tenantID, classID int64) ([]domain.ClassStep, error) {
	var out []domain.ClassStep
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND class_id = ? AND is_active = ?", tenantID, classID, true).
		Order("step_number ASC").
		Find(&out).Error
	return out, err
}

func (r *SessionRepository) CreateRequirement(ctx context.Context, req *domain.ClassResourceRequirement) error {
	return conn(ctx, r.db).Create(req).Error
}

func (r *SessionRepository) ListRequirements(ctx context.Context, tenantID, classID int64) ([]domain.ClassResourceRequirement, error) {
	var out []domain.ClassResourceRequirement
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND class_id = ?", tenantID, classID).
		Order("resource_id ASC").
		Find(&out).Error
	return out, err
}

// ListRequirementsForClasses groups requirements by class id.
func (r *SessionRepository) ListRequirementsForClasses(ctx context.Context, tenantID int64, classIDs []int64) (map[int64][]domain.ClassResourceRequirement, error) {
	out := make(map[int64][]domain.ClassResourceRequirement, len(classIDs))
	if len(classIDs) == 0 {
		return out, nil
	}
	var rows []domain.ClassResourceRequirement
	err := conn(ctx, r.db).
		Where("tenant_id = ? AND class_id IN ?", tenantID, classIDs).
		Order("resource_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ClassID] = append(out[row.ClassID], row)
	}
	return out, nil
}
