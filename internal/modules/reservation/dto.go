package reservation

import (
	"time"

	"kilnstudio/internal/domain"
)

type ValidateRequest struct {
	RegistrationID int64 `json:"registration_id" binding:"required"`
	SessionID      int64 `json:"session_id" binding:"required"`
}

type CreateRequest struct {
	RegistrationID int64 `json:"registration_id" binding:"required"`
	SessionID      int64 `json:"session_id" binding:"required"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// AvailableSession is a session a registration may reserve next.
type AvailableSession struct {
	domain.Session
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	SeatsLeft int       `json:"seats_left"`
}
