package checkin

import "errors"

var (
	ErrNotFound      = errors.New("reservation not found")
	ErrForbidden     = errors.New("staff only")
	ErrInvalidStatus = errors.New("reservation is not checked in")
)

// RejectedError carries a failed check-in validation out of CheckIn.
type RejectedError struct {
	Result Result
}

func (e *RejectedError) Error() string {
	return e.Result.Error
}

func AsRejected(err error) (Result, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Result, true
	}
	return Result{}, false
}
