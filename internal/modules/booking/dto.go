package booking

import (
	"time"

	"kilnstudio/internal/domain"
)

type CreateBookingRequest struct {
	SubscriptionID *int64    `json:"subscription_id"`
	PunchPassID    *int64    `json:"punch_pass_id"`
	SessionID      int64     `json:"session_id" binding:"required"`
	ResourceID     int64     `json:"resource_id" binding:"required"`
	StartTime      time.Time `json:"start_time" binding:"required"`
	EndTime        time.Time `json:"end_time" binding:"required"`
	// CustomerID, when set, must own the funding source.
	CustomerID int64 `json:"customer_id,omitempty"`
}

type WalkInRequest struct {
	SubscriptionID int64 `json:"subscription_id" binding:"required"`
	SessionID      int64 `json:"session_id" binding:"required"`
	ResourceID     int64 `json:"resource_id" binding:"required"`
	CustomerID     int64 `json:"customer_id,omitempty"`
}

type SessionSummary struct {
	ID        int64     `json:"id"`
	Date      string    `json:"date"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type BookingDetails struct {
	domain.OpenStudioBooking
	ResourceName string         `json:"resource_name"`
	Session      SessionSummary `json:"session"`
}
