package domain

import (
	"fmt"
	"time"
)

type OpenStudioBookingStatus string

const (
	OpenStudioReserved  OpenStudioBookingStatus = "RESERVED"
	OpenStudioCheckedIn OpenStudioBookingStatus = "CHECKED_IN"
	OpenStudioCompleted OpenStudioBookingStatus = "COMPLETED"
	OpenStudioCancelled OpenStudioBookingStatus = "CANCELLED"
)

// ActiveOpenStudioStatuses occupy a resource unit.
var ActiveOpenStudioStatuses = []OpenStudioBookingStatus{OpenStudioReserved, OpenStudioCheckedIn}

// WeeklyCountedStatuses count against a membership's weekly booking limit.
var WeeklyCountedStatuses = []OpenStudioBookingStatus{OpenStudioReserved, OpenStudioCheckedIn, OpenStudioCompleted}

func (s OpenStudioBookingStatus) IsActive() bool {
	return s == OpenStudioReserved || s == OpenStudioCheckedIn
}

func (s OpenStudioBookingStatus) CanTransitionTo(next OpenStudioBookingStatus) bool {
	switch s {
	case OpenStudioReserved:
		return next == OpenStudioCheckedIn || next == OpenStudioCancelled
	case OpenStudioCheckedIn:
		return next == OpenStudioCompleted
	}
	return false
}

// OpenStudioBooking holds one unit of a resource for a time block inside an
// open-studio session. Exactly one of SubscriptionID and PunchPassID is set.
type OpenStudioBooking struct {
	ID             int64                   `json:"id" gorm:"primaryKey"`
	TenantID       int64                   `json:"tenant_id" gorm:"not null;index"`
	CustomerID     int64                   `json:"customer_id" gorm:"not null;index"`
	SubscriptionID *int64                  `json:"subscription_id,omitempty" gorm:"index"`
	PunchPassID    *int64                  `json:"punch_pass_id,omitempty" gorm:"index"`
	SessionID      int64                   `json:"session_id" gorm:"not null;index:idx_osb_session_resource"`
	ResourceID     int64                   `json:"resource_id" gorm:"not null;index:idx_osb_session_resource"`
	StartTime      time.Time               `json:"start_time" gorm:"not null"`
	EndTime        time.Time               `json:"end_time" gorm:"not null"`
	Status         OpenStudioBookingStatus `json:"status" gorm:"size:20;not null;index"`
	IsWalkIn       bool                    `json:"is_walk_in" gorm:"not null"`
	ReservedAt     time.Time               `json:"reserved_at" gorm:"not null"`
	CheckedInAt    *time.Time              `json:"checked_in_at,omitempty"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
	CancelledAt    *time.Time              `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

func (b *OpenStudioBooking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && b.EndTime.After(start)
}

func (b *OpenStudioBooking) Slot() Slot {
	return Slot{SessionID: b.SessionID, ResourceID: b.ResourceID, StartTime: b.StartTime}
}

// OpenStudioWaitlist is a queue entry for a specific slot. Position is unique
// per slot and never reused.
type OpenStudioWaitlist struct {
	ID             int64      `json:"id" gorm:"primaryKey"`
	TenantID       int64      `json:"tenant_id" gorm:"not null;index"`
	CustomerID     int64      `json:"customer_id" gorm:"not null;index"`
	SubscriptionID int64      `json:"subscription_id" gorm:"not null;index"`
	SessionID      int64      `json:"session_id" gorm:"not null;uniqueIndex:uq_waitlist_slot_position,priority:1"`
	ResourceID     int64      `json:"resource_id" gorm:"not null;uniqueIndex:uq_waitlist_slot_position,priority:2"`
	StartTime      time.Time  `json:"start_time" gorm:"not null;uniqueIndex:uq_waitlist_slot_position,priority:3"`
	EndTime        time.Time  `json:"end_time" gorm:"not null"`
	Position       int        `json:"position" gorm:"not null;uniqueIndex:uq_waitlist_slot_position,priority:4"`
	JoinedAt       time.Time  `json:"joined_at" gorm:"not null"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	FulfilledAt    *time.Time `json:"fulfilled_at,omitempty"`
	BookingID      *int64     `json:"booking_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (w *OpenStudioWaitlist) IsActive() bool {
	return w.CancelledAt == nil && w.FulfilledAt == nil
}

func (w *OpenStudioWaitlist) Slot() Slot {
	return Slot{SessionID: w.SessionID, ResourceID: w.ResourceID, StartTime: w.StartTime}
}

// Slot identifies a (session, resource, start time) triple.
type Slot struct {
	SessionID  int64     `json:"session_id"`
	ResourceID int64     `json:"resource_id"`
	StartTime  time.Time `json:"start_time"`
}

func (s Slot) Key(tenantID int64) string {
	return fmt.Sprintf("%d:%d:%d:%d", tenantID, s.SessionID, s.ResourceID, s.StartTime.UTC().Unix())
}
