package availability

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrResourceNotFound = errors.New("resource not found")
)
