package domain

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue   SubscriptionStatus = "PAST_DUE"
	SubscriptionPaused    SubscriptionStatus = "PAUSED"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

// MembershipBenefits are the booking limits granted by a membership tier.
// Zero values mean the limit is not enforced.
type MembershipBenefits struct {
	MaxBlockMinutes    int  `json:"max_block_minutes"`
	MaxBookingsPerWeek int  `json:"max_bookings_per_week"`
	AdvanceBookingDays int  `json:"advance_booking_days"`
	AllowWalkIns       bool `json:"allow_walk_ins"`
}

type Subscription struct {
	ID         int64              `json:"id" gorm:"primaryKey"`
	TenantID   int64              `json:"tenant_id" gorm:"not null;index"`
	CustomerID int64              `json:"customer_id" gorm:"not null;index"`
	Status     SubscriptionStatus `json:"status" gorm:"size:20;not null"`
	Benefits   MembershipBenefits `json:"benefits" gorm:"embedded;embeddedPrefix:benefit_"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionActive
}

type PunchPass struct {
	ID               int64      `json:"id" gorm:"primaryKey"`
	TenantID         int64      `json:"tenant_id" gorm:"not null;index"`
	CustomerID       int64      `json:"customer_id" gorm:"not null;index"`
	PunchesRemaining int        `json:"punches_remaining" gorm:"not null"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (p *PunchPass) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// CustomerSuspension blocks new bookings and reservations while it covers now.
// A nil EndsAt means open-ended.
type CustomerSuspension struct {
	ID         int64      `json:"id" gorm:"primaryKey"`
	TenantID   int64      `json:"tenant_id" gorm:"not null;index"`
	CustomerID int64      `json:"customer_id" gorm:"not null;index"`
	StartsAt   time.Time  `json:"starts_at" gorm:"not null"`
	EndsAt     *time.Time `json:"ends_at,omitempty"`
	Reason     string     `json:"reason,omitempty" gorm:"type:text"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (s *CustomerSuspension) Covers(now time.Time) bool {
	if now.Before(s.StartsAt) {
		return false
	}
	return s.EndsAt == nil || !now.After(*s.EndsAt)
}
