package waitlist

import "errors"

var (
	ErrNotFound        = errors.New("waitlist entry not found")
	ErrForbidden       = errors.New("waitlist entry belongs to another customer")
	ErrNotActive       = errors.New("waitlist entry is no longer active")
	ErrSlotAvailable   = errors.New("slot has free capacity, book it directly")
	ErrAlreadyWaiting  = errors.New("subscription is already waiting for this slot")
	ErrInvalidDuration = errors.New("waitlist slot must end after it starts")
)
