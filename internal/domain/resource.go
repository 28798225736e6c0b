package domain

import "time"

// Resource is a countable physical asset shared by open-studio bookings and
// class sessions (wheels, kilns, glaze stations).
type Resource struct {
	ID          int64     `json:"id" gorm:"primaryKey"`
	TenantID    int64     `json:"tenant_id" gorm:"not null;index"`
	Name        string    `json:"name" gorm:"size:120;not null" validate:"required"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	Quantity    int       `json:"quantity" gorm:"not null" validate:"required,gt=0"`
	IsActive    bool      `json:"is_active" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
