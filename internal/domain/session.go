package domain

import (
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

type Class struct {
	ID               int64     `json:"id" gorm:"primaryKey"`
	TenantID         int64     `json:"tenant_id" gorm:"not null;index"`
	Name             string    `json:"name" gorm:"size:160;not null"`
	IsMultiStep      bool      `json:"is_multi_step" gorm:"not null"`
	RequiresSequence bool      `json:"requires_sequence" gorm:"not null"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ClassStep is one ordered stage of a multi-step class.
type ClassStep struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	TenantID   int64     `json:"tenant_id" gorm:"not null;index"`
	ClassID    int64     `json:"class_id" gorm:"not null;index"`
	StepNumber int       `json:"step_number" gorm:"not null"`
	Name       string    `json:"name" gorm:"size:160"`
	IsActive   bool      `json:"is_active" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
}

type ClassResourceRequirement struct {
	ID                 int64 `json:"id" gorm:"primaryKey"`
	TenantID           int64 `json:"tenant_id" gorm:"not null;index"`
	ClassID            int64 `json:"class_id" gorm:"not null;index"`
	ResourceID         int64 `json:"resource_id" gorm:"not null"`
	QuantityPerStudent int   `json:"quantity_per_student" gorm:"not null"`
}

// Session is a scheduled occurrence. Sessions without a ClassID are open
// studio sessions that accept per-resource bookings.
type Session struct {
	ID                   int64     `json:"id" gorm:"primaryKey"`
	TenantID             int64     `json:"tenant_id" gorm:"not null;index"`
	ClassID              *int64    `json:"class_id,omitempty" gorm:"index"`
	StepID               *int64    `json:"step_id,omitempty"`
	Date                 string    `json:"date" gorm:"size:10;not null;index"`
	StartTime            string    `json:"start_time" gorm:"size:5;not null"`
	EndTime              string    `json:"end_time" gorm:"size:5;not null"`
	MaxStudents          int       `json:"max_students" gorm:"not null"`
	CurrentEnrollment    int       `json:"current_enrollment" gorm:"not null"`
	ResourceReleaseHours int       `json:"resource_release_hours" gorm:"not null"`
	ReserveFullCapacity  bool      `json:"reserve_full_capacity" gorm:"not null"`
	IsCancelled          bool      `json:"is_cancelled" gorm:"not null"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (s *Session) IsOpenStudio() bool {
	return s.ClassID == nil
}

// Bounds resolves the wall-clock date and times of the session in loc.
func (s *Session) Bounds(loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(DateLayout+" "+ClockLayout, s.Date+" "+s.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("session %d start: %w", s.ID, err)
	}
	end, err := time.ParseInLocation(DateLayout+" "+ClockLayout, s.Date+" "+s.EndTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("session %d end: %w", s.ID, err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("session %d ends before it starts", s.ID)
	}
	return start, end, nil
}

// ReleaseCutoff is the moment speculative full-capacity holds are dropped.
func (s *Session) ReleaseCutoff(start time.Time) time.Time {
	return start.Add(-time.Duration(s.ResourceReleaseHours) * time.Hour)
}

// SessionResourceAllocation records resources actually consumed by a class
// reservation.
type SessionResourceAllocation struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	TenantID       int64     `json:"tenant_id" gorm:"not null;index"`
	SessionID      int64     `json:"session_id" gorm:"not null;index"`
	ResourceID     int64     `json:"resource_id" gorm:"not null"`
	RegistrationID int64     `json:"registration_id" gorm:"not null;index"`
	Quantity       int       `json:"quantity" gorm:"not null"`
	CreatedAt      time.Time `json:"created_at"`
}
