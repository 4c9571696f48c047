// Package lifecycle enforces the appointment status state machine and its
// time-based business rules.
package lifecycle

import (
	"time"

	"github.com/amaeclinic/televisit/internal/model"
)

// Transition is a single allowed edge in the appointment state machine.
type Transition struct {
	From model.AppointmentStatus
	To   model.AppointmentStatus
}

var transitionsTable = []Transition{
	{From: model.ApptPending, To: model.ApptConfirmed},
	{From: model.ApptPending, To: model.ApptCancelled},
	{From: model.ApptPending, To: model.ApptNoShow},

	{From: model.ApptConfirmed, To: model.ApptInProgress},
	{From: model.ApptConfirmed, To: model.ApptCancelled},
	{From: model.ApptConfirmed, To: model.ApptNoShow},
	{From: model.ApptConfirmed, To: model.ApptRescheduled},

	// Emergency cancellation is the only exit from an active consult
	// besides completion.
	{From: model.ApptInProgress, To: model.ApptCompleted},
	{From: model.ApptInProgress, To: model.ApptCancelled},

	{From: model.ApptRescheduled, To: model.ApptConfirmed},
	{From: model.ApptRescheduled, To: model.ApptCancelled},
}

// CanTransition reports whether from → to is an allowed edge.
func CanTransition(from, to model.AppointmentStatus) bool {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

// ValidTransitions returns all allowed next statuses for a state.
func ValidTransitions(from model.AppointmentStatus) []model.AppointmentStatus {
	var out []model.AppointmentStatus
	for _, tr := range transitionsTable {
		if tr.From == from {
			out = append(out, tr.To)
		}
	}
	return out
}

// Validate returns ErrInvalidStatusTransition for a forbidden edge.
func Validate(from, to model.AppointmentStatus) error {
	if !CanTransition(from, to) {
		return model.E(model.ErrInvalidStatusTransition, "%s -> %s", from, to)
	}
	return nil
}

// Rules are the time-based lifecycle thresholds.
type Rules struct {
	MaxEarlyStart         time.Duration
	MaxLateStart          time.Duration
	NoShowThreshold       time.Duration
	AutoCompleteDelay     time.Duration
	MinCancellationNotice time.Duration
	MaxRescheduleCount    int
}

// DefaultRules returns the clinic's standard thresholds.
func DefaultRules() Rules {
	return Rules{
		MaxEarlyStart:         15 * time.Minute,
		MaxLateStart:          30 * time.Minute,
		NoShowThreshold:       30 * time.Minute,
		AutoCompleteDelay:     30 * time.Minute,
		MinCancellationNotice: 24 * time.Hour,
		MaxRescheduleCount:    3,
	}
}

// CanStart reports whether a confirmed appointment may begin now: from 15
// minutes before the scheduled start until 30 minutes after it.
func (r Rules) CanStart(status model.AppointmentStatus, scheduledStart, now time.Time) bool {
	if status != model.ApptConfirmed {
		return false
	}
	earliest := scheduledStart.Add(-r.MaxEarlyStart)
	latest := scheduledStart.Add(r.MaxLateStart)
	return !now.Before(earliest) && !now.After(latest)
}

// ShouldMarkNoShow reports whether a pending/confirmed appointment is past
// the no-show threshold.
func (r Rules) ShouldMarkNoShow(status model.AppointmentStatus, scheduledStart, now time.Time) bool {
	if status != model.ApptPending && status != model.ApptConfirmed {
		return false
	}
	return now.After(scheduledStart.Add(r.NoShowThreshold))
}

// AutoTransition returns the status an appointment should automatically move
// to based on elapsed time, or "" when none applies.
func (r Rules) AutoTransition(status model.AppointmentStatus, scheduledStart, scheduledEnd, now time.Time) model.AppointmentStatus {
	switch status {
	case model.ApptConfirmed:
		if r.ShouldMarkNoShow(status, scheduledStart, now) {
			return model.ApptNoShow
		}
	case model.ApptInProgress:
		if now.After(scheduledEnd.Add(r.AutoCompleteDelay)) {
			return model.ApptCompleted
		}
	}
	return ""
}

// CanCancel reports whether a cancellation honours the notice period.
func (r Rules) CanCancel(scheduledStart, now time.Time) bool {
	return scheduledStart.Sub(now) >= r.MinCancellationNotice
}
