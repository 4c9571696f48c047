package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/amaeclinic/televisit/internal/lifecycle"
	"github.com/amaeclinic/televisit/internal/model"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to model.AppointmentStatus }{
		{model.ApptPending, model.ApptConfirmed},
		{model.ApptPending, model.ApptCancelled},
		{model.ApptPending, model.ApptNoShow},
		{model.ApptConfirmed, model.ApptInProgress},
		{model.ApptConfirmed, model.ApptCancelled},
		{model.ApptConfirmed, model.ApptNoShow},
		{model.ApptConfirmed, model.ApptRescheduled},
		{model.ApptInProgress, model.ApptCompleted},
		{model.ApptInProgress, model.ApptCancelled},
		{model.ApptRescheduled, model.ApptConfirmed},
		{model.ApptRescheduled, model.ApptCancelled},
	}
	for _, tc := range allowed {
		assert.True(t, lifecycle.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	forbidden := []struct{ from, to model.AppointmentStatus }{
		{model.ApptPending, model.ApptInProgress},
		{model.ApptPending, model.ApptCompleted},
		{model.ApptInProgress, model.ApptNoShow},
		{model.ApptInProgress, model.ApptRescheduled},
		{model.ApptCompleted, model.ApptCancelled},
		{model.ApptCancelled, model.ApptConfirmed},
		{model.ApptNoShow, model.ApptConfirmed},
		{model.ApptConfirmed, model.ApptConfirmed},
	}
	for _, tc := range forbidden {
		assert.False(t, lifecycle.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidTransitions(t *testing.T) {
	next := lifecycle.ValidTransitions(model.ApptConfirmed)
	assert.ElementsMatch(t, []model.AppointmentStatus{
		model.ApptInProgress, model.ApptCancelled, model.ApptNoShow, model.ApptRescheduled,
	}, next)

	assert.Empty(t, lifecycle.ValidTransitions(model.ApptCompleted))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, lifecycle.Validate(model.ApptPending, model.ApptConfirmed))
	assert.ErrorIs(t, lifecycle.Validate(model.ApptCompleted, model.ApptConfirmed), model.ErrInvalidStatusTransition)
}

func TestRules_CanStart(t *testing.T) {
	rules := lifecycle.DefaultRules()
	start := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

	assert.True(t, rules.CanStart(model.ApptConfirmed, start, start.Add(-15*time.Minute)))
	assert.True(t, rules.CanStart(model.ApptConfirmed, start, start))
	assert.True(t, rules.CanStart(model.ApptConfirmed, start, start.Add(30*time.Minute)))

	assert.False(t, rules.CanStart(model.ApptConfirmed, start, start.Add(-16*time.Minute)))
	assert.False(t, rules.CanStart(model.ApptConfirmed, start, start.Add(31*time.Minute)))
	assert.False(t, rules.CanStart(model.ApptPending, start, start))
}

func TestRules_ShouldMarkNoShow(t *testing.T) {
	rules := lifecycle.DefaultRules()
	start := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

	assert.False(t, rules.ShouldMarkNoShow(model.ApptConfirmed, start, start.Add(30*time.Minute)))
	assert.True(t, rules.ShouldMarkNoShow(model.ApptConfirmed, start, start.Add(31*time.Minute)))
	assert.True(t, rules.ShouldMarkNoShow(model.ApptPending, start, start.Add(31*time.Minute)))
	assert.False(t, rules.ShouldMarkNoShow(model.ApptInProgress, start, start.Add(31*time.Minute)))
}

func TestRules_AutoTransition(t *testing.T) {
	rules := lifecycle.DefaultRules()
	start := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	assert.Equal(t, model.ApptNoShow,
		rules.AutoTransition(model.ApptConfirmed, start, end, start.Add(31*time.Minute)))
	assert.Equal(t, model.ApptCompleted,
		rules.AutoTransition(model.ApptInProgress, start, end, end.Add(31*time.Minute)))
	assert.Equal(t, model.AppointmentStatus(""),
		rules.AutoTransition(model.ApptInProgress, start, end, end.Add(29*time.Minute)))
	assert.Equal(t, model.AppointmentStatus(""),
		rules.AutoTransition(model.ApptCompleted, start, end, end.Add(time.Hour)))
}

func TestRules_CanCancel(t *testing.T) {
	rules := lifecycle.DefaultRules()
	start := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

	assert.True(t, rules.CanCancel(start, start.Add(-25*time.Hour)))
	assert.True(t, rules.CanCancel(start, start.Add(-24*time.Hour)))
	assert.False(t, rules.CanCancel(start, start.Add(-23*time.Hour)))
}

func TestValidateTiming(t *testing.T) {
	now := time.Date(2026, 9, 14, 8, 0, 0, 0, time.UTC) // Monday

	ok := time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC)
	assert.NoError(t, lifecycle.ValidateTiming(ok, 30, now))

	past := now.Add(-time.Hour)
	assert.ErrorIs(t, lifecycle.ValidateTiming(past, 30, now), model.ErrInvalidTime)

	early := time.Date(2026, 9, 15, 7, 30, 0, 0, time.UTC)
	assert.ErrorIs(t, lifecycle.ValidateTiming(early, 30, now), model.ErrInvalidTime)

	late := time.Date(2026, 9, 15, 20, 0, 0, 0, time.UTC)
	assert.ErrorIs(t, lifecycle.ValidateTiming(late, 30, now), model.ErrInvalidTime)

	// 19:30 + 60min ends at 20:30, past closing.
	overrun := time.Date(2026, 9, 15, 19, 30, 0, 0, time.UTC)
	assert.ErrorIs(t, lifecycle.ValidateTiming(overrun, 60, now), model.ErrInvalidTime)

	// Ending exactly at closing is allowed.
	lastSlot := time.Date(2026, 9, 15, 19, 0, 0, 0, time.UTC)
	assert.NoError(t, lifecycle.ValidateTiming(lastSlot, 60, now))

	sunday := time.Date(2026, 9, 20, 10, 0, 0, 0, time.UTC)
	assert.ErrorIs(t, lifecycle.ValidateTiming(sunday, 30, now), model.ErrInvalidTime)
}

func TestComputeMetrics(t *testing.T) {
	start := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	m := lifecycle.ComputeMetrics(start, end, nil, nil)
	assert.Equal(t, int64(30), m.ScheduledDurationMinutes)
	_, known := m.WasOnTime()
	assert.False(t, known)

	actualStart := start.Add(3 * time.Minute)
	actualEnd := end.Add(5 * time.Minute)
	m = lifecycle.ComputeMetrics(start, end, &actualStart, &actualEnd)
	assert.Equal(t, int64(32), *m.ActualDurationMinutes)
	assert.Equal(t, int64(3), *m.StartDelayMinutes)
	assert.Equal(t, int64(5), *m.EndVarianceMinutes)

	onTime, known := m.WasOnTime()
	assert.True(t, known)
	assert.True(t, onTime)

	lateStart := start.Add(10 * time.Minute)
	m = lifecycle.ComputeMetrics(start, end, &lateStart, &actualEnd)
	onTime, known = m.WasOnTime()
	assert.True(t, known)
	assert.False(t, onTime)
}
