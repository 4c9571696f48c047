package rowstore

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("rowstore: resource not found")
	ErrUnauthorized        = errors.New("rowstore: access denied")
	ErrConflict            = errors.New("rowstore: row conflict")
	ErrUpstreamUnavailable = errors.New("rowstore: upstream unreachable or 5xx")
	ErrBadResponse         = errors.New("rowstore: invalid response format")
	ErrTimeout             = errors.New("rowstore: request timed out")
)

// StoreError wraps a sentinel with request context.
type StoreError struct {
	Sentinel error
	Op       string
	Table    string
	Status   int
	Body     string
	Err      error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("rowstore: %s %s: %v", e.Op, e.Table, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Sentinel
}
