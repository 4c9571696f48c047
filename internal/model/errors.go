package model

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks at component boundaries.
var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("resource not found")
	ErrPatientNotFound         = errors.New("patient not found")
	ErrDoctorNotFound          = errors.New("doctor not found")
	ErrDoctorNotAvailable      = errors.New("doctor not available")
	ErrSpecialtyNotAvailable   = errors.New("specialty not available")
	ErrSlotNotAvailable        = errors.New("slot not available")
	ErrConflictDetected        = errors.New("scheduling conflict detected")
	ErrLockContended           = errors.New("slot lock contended")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidTime             = errors.New("invalid appointment time")
	ErrDatabase                = errors.New("database operation failed")
	ErrExternalService         = errors.New("external service error")

	ErrVideoServiceUnavailable    = errors.New("video service unavailable")
	ErrVideoSessionCreationFailed = errors.New("video session creation failed")
	ErrVideoSessionNotFound       = errors.New("video session not found")
)

// Error wraps a sentinel with operation context for diagnostics.
type Error struct {
	Sentinel error
	Detail   string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Sentinel.Error()
	}
	return fmt.Sprintf("%v: %s", e.Sentinel, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}

// E builds a wrapped domain error with detail.
func E(sentinel error, format string, args ...any) error {
	return &Error{Sentinel: sentinel, Detail: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether a booking pipeline failure may be retried.
// Only infrastructure faults are transient: database errors, external
// service errors, and timeouts. Everything else, including business-rule
// rejections and scheduling conflicts, is final and surfaced to the caller.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrDatabase),
		errors.Is(err, ErrExternalService),
		errors.Is(err, ErrVideoServiceUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
