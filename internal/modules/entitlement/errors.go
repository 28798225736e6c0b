package entitlement

import "errors"

var (
	ErrMissingEntitlement   = errors.New("exactly one of subscription or punch pass is required")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionInactive = errors.New("subscription is not active")
	ErrPunchPassNotFound    = errors.New("punch pass not found")
	ErrPunchPassExpired     = errors.New("punch pass has expired")
	ErrNoPunchesRemaining   = errors.New("no punches remaining")
	ErrEntitlementNotOwned  = errors.New("entitlement belongs to another customer")
)
