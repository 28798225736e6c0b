package booking

import (
	"errors"

	"kilnstudio/internal/modules/entitlement"
)

var (
	ErrNotFound                = errors.New("booking not found")
	ErrForbidden               = errors.New("booking belongs to another customer")
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionCancelled        = errors.New("session is cancelled")
	ErrNotOpenStudio           = errors.New("session is not an open studio session")
	ErrResourceNotFound        = errors.New("resource not found")
	ErrResourceInactive        = errors.New("resource is not active")
	ErrInvalidDuration         = errors.New("booking must end after it starts")
	ErrOutsideSession          = errors.New("booking must fall within the session")
	ErrBlockTooLong            = errors.New("booking exceeds the maximum block length")
	ErrWeeklyLimitReached      = errors.New("weekly booking limit reached")
	ErrOutsideBookingWindow    = errors.New("session is beyond the advance booking window")
	ErrCustomerSuspended       = errors.New("customer is suspended")
	ErrConflict                = errors.New("resource is fully booked for the requested time")
	ErrInvalidStatusTransition = errors.New("booking status does not allow this action")
	ErrWalkInNotAllowed        = errors.New("membership does not allow walk-ins")
)

// ruleViolations are outcomes caused by the request itself rather than by
// infrastructure faults.
var ruleViolations = []error{
	ErrNotFound,
	ErrForbidden,
	ErrSessionNotFound,
	ErrSessionCancelled,
	ErrNotOpenStudio,
	ErrResourceNotFound,
	ErrResourceInactive,
	ErrInvalidDuration,
	ErrOutsideSession,
	ErrBlockTooLong,
	ErrWeeklyLimitReached,
	ErrOutsideBookingWindow,
	ErrCustomerSuspended,
	ErrConflict,
	ErrInvalidStatusTransition,
	ErrWalkInNotAllowed,
	entitlement.ErrMissingEntitlement,
	entitlement.ErrSubscriptionNotFound,
	entitlement.ErrSubscriptionInactive,
	entitlement.ErrPunchPassNotFound,
	entitlement.ErrPunchPassExpired,
	entitlement.ErrNoPunchesRemaining,
	entitlement.ErrEntitlementNotOwned,
}

func IsRuleViolation(err error) bool {
	for _, target := range ruleViolations {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
