package model_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amaeclinic/televisit/internal/model"
)

func TestE_WrapsSentinel(t *testing.T) {
	err := model.E(model.ErrSlotNotAvailable, "doctor %s is booked", "d-1")

	assert.ErrorIs(t, err, model.ErrSlotNotAvailable)
	assert.Contains(t, err.Error(), "doctor d-1 is booked")

	var de *model.Error
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, "doctor d-1 is booked", de.Detail)
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		model.E(model.ErrDatabase, "connection reset"),
		model.E(model.ErrExternalService, "gateway timeout"),
		model.E(model.ErrVideoServiceUnavailable, "provider unreachable"),
		context.DeadlineExceeded,
	}
	for _, err := range retryable {
		assert.True(t, model.IsRetryable(err), "%v", err)
	}

	final := []error{
		model.E(model.ErrValidation, "duration too long"),
		model.E(model.ErrInvalidTime, "sunday"),
		model.E(model.ErrInvalidStatusTransition, "completed -> queued"),
		model.E(model.ErrPatientNotFound, "unknown"),
		model.E(model.ErrDoctorNotFound, "unknown"),
		model.E(model.ErrDoctorNotAvailable, "no slots"),
		model.E(model.ErrSpecialtyNotAvailable, "dermatology"),
		model.E(model.ErrSlotNotAvailable, "taken"),
		model.E(model.ErrNotFound, "missing row"),
	}
	for _, err := range final {
		assert.False(t, model.IsRetryable(err), "%v", err)
	}
}

// A scheduling conflict is a business outcome, not an infrastructure fault:
// re-running the booking cannot succeed while the slot is taken.
func TestIsRetryable_ConflictIsFinal(t *testing.T) {
	err := model.E(model.ErrConflictDetected, "appointment overlap detected")
	assert.False(t, model.IsRetryable(err))
}
