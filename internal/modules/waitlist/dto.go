package waitlist

import (
	"time"

	"kilnstudio/internal/domain"
)

type JoinRequest struct {
	SubscriptionID int64     `json:"subscription_id" binding:"required"`
	SessionID      int64     `json:"session_id" binding:"required"`
	ResourceID     int64     `json:"resource_id" binding:"required"`
	StartTime      time.Time `json:"start_time" binding:"required"`
	EndTime        time.Time `json:"end_time" binding:"required"`
}

type ProcessRequest struct {
	SessionID  int64     `json:"session_id" binding:"required"`
	ResourceID int64     `json:"resource_id" binding:"required"`
	StartTime  time.Time `json:"start_time" binding:"required"`
}

func (r ProcessRequest) Slot() domain.Slot {
	return domain.Slot{SessionID: r.SessionID, ResourceID: r.ResourceID, StartTime: r.StartTime.UTC()}
}

// Skipped is an entry dropped during promotion because its booking
// attempt was refused.
type Skipped struct {
	EntryID int64  `json:"entry_id"`
	Reason  string `json:"reason"`
}

type ProcessResult struct {
	Slot      domain.Slot                `json:"slot"`
	Fulfilled *domain.OpenStudioWaitlist `json:"fulfilled,omitempty"`
	BookingID *int64                     `json:"booking_id,omitempty"`
	Skipped   []Skipped                  `json:"skipped"`
	// NoCapacity is set when nothing was fulfilled and at least one entry
	// did not fit the free capacity; such entries keep their place.
	NoCapacity bool `json:"no_capacity"`
}
