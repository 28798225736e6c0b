package reservation

import "errors"

var (
	ErrNotFound                = errors.New("reservation not found")
	ErrRegistrationNotFound    = errors.New("registration not found")
	ErrSessionNotFound         = errors.New("session not found")
	ErrForbidden               = errors.New("reservation belongs to another customer")
	ErrInvalidStatusTransition = errors.New("only pending reservations can be cancelled")
)

// RuleViolationError carries the failed validation result out of the
// engine so callers can branch on its code.
type RuleViolationError struct {
	Result ValidationResult
}

func (e *RuleViolationError) Error() string {
	return e.Result.Error
}

// AsRuleViolation extracts a failed validation result from err.
func AsRuleViolation(err error) (ValidationResult, bool) {
	var rv *RuleViolationError
	if errors.As(err, &rv) {
		return rv.Result, true
	}
	return ValidationResult{}, false
}
