package availability

import (
	"time"

	"kilnstudio/internal/domain"
)

type HoldSource string

const (
	HoldClass    HoldSource = "class"
	HoldBookings HoldSource = "bookings"
)

// HeldSlot is an interval during which some units of a resource are taken,
// either by an overlapping class or because bookings fill the resource.
type HeldSlot struct {
	SessionID *int64     `json:"session_id,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Quantity  int        `json:"quantity"`
	Source    HoldSource `json:"source"`
}

type BookingView struct {
	ID         int64                          `json:"id"`
	CustomerID int64                          `json:"customer_id"`
	StartTime  time.Time                      `json:"start_time"`
	EndTime    time.Time                      `json:"end_time"`
	Status     domain.OpenStudioBookingStatus `json:"status"`
	IsWalkIn   bool                           `json:"is_walk_in"`
}

type WaitlistView struct {
	ID             int64     `json:"id"`
	SubscriptionID int64     `json:"subscription_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Position       int       `json:"position"`
	JoinedAt       time.Time `json:"joined_at"`
}

type ResourceAvailability struct {
	ResourceID      int64          `json:"resource_id"`
	ResourceName    string         `json:"resource_name"`
	TotalQuantity   int            `json:"total_quantity"`
	HeldByClasses   int            `json:"held_by_classes"`
	HeldSlots       []HeldSlot     `json:"held_slots"`
	CurrentlyBooked int            `json:"currently_booked"`
	Available       int            `json:"available"`
	Bookings        []BookingView  `json:"bookings"`
	WaitlistCounts  map[string]int `json:"waitlist_counts"`
	Waitlist        []WaitlistView `json:"waitlist"`
}

type SessionAvailability struct {
	SessionID int64                  `json:"session_id"`
	Date      string                 `json:"date"`
	StartTime time.Time              `json:"start_time"`
	EndTime   time.Time              `json:"end_time"`
	Resources []ResourceAvailability `json:"resources"`
}
