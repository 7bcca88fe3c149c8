package booking

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("booking: session not found or expired")
	ErrForbidden         = errors.New("booking: session belongs to another patient")
	ErrWrongStep         = errors.New("booking: action not allowed at the current step")
	ErrInvalidCode       = errors.New("booking: invalid verification code")
	ErrCodeExpired       = errors.New("booking: verification code expired, request a new one")
	ErrLookupUnavailable = errors.New("booking: booked slots could not be checked, try again later")
	ErrSuperseded        = errors.New("booking: lookup superseded by a newer request")
	ErrInProgress        = errors.New("booking: another request for this session is in progress")
)

// ValidationError reports a missing or malformed field. The session is left
// untouched whenever one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("booking: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
