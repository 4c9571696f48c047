package lifecycle

import (
	"time"

	"github.com/amaeclinic/televisit/internal/model"
)

// Clinic business hours in UTC. Appointments must start and finish inside
// this window; Sundays are closed.
const (
	openingHour = 8
	closingHour = 20
)

// ValidateTiming checks the clinic's scheduling window for a proposed
// appointment: it must be in the future, fit inside business hours, and not
// fall on a Sunday.
func ValidateTiming(scheduledStart time.Time, durationMinutes int, now time.Time) error {
	scheduledEnd := scheduledStart.Add(time.Duration(durationMinutes) * time.Minute)

	if !scheduledStart.After(now) {
		return model.E(model.ErrInvalidTime, "appointment must be scheduled for a future time")
	}

	start := scheduledStart.UTC()
	end := scheduledEnd.UTC()
	// Closing time on the start date; an appointment may end exactly at it.
	closing := time.Date(start.Year(), start.Month(), start.Day(), closingHour, 0, 0, 0, time.UTC)
	if start.Hour() < openingHour || start.Hour() >= closingHour || end.After(closing) {
		return model.E(model.ErrInvalidTime, "appointments must be scheduled between 8 AM and 8 PM")
	}

	if start.Weekday() == time.Sunday {
		return model.E(model.ErrInvalidTime, "appointments cannot be scheduled on Sundays")
	}

	return nil
}

// Metrics captures schedule adherence for a finished appointment.
type Metrics struct {
	ScheduledDurationMinutes int64
	ActualDurationMinutes    *int64
	StartDelayMinutes        *int64
	EndVarianceMinutes       *int64
}

// ComputeMetrics derives timing metrics from scheduled and actual bounds.
func ComputeMetrics(scheduledStart, scheduledEnd time.Time, actualStart, actualEnd *time.Time) Metrics {
	m := Metrics{
		ScheduledDurationMinutes: int64(scheduledEnd.Sub(scheduledStart).Minutes()),
	}
	if actualStart != nil && actualEnd != nil {
		dur := int64(actualEnd.Sub(*actualStart).Minutes())
		delay := int64(actualStart.Sub(scheduledStart).Minutes())
		variance := int64(actualEnd.Sub(scheduledEnd).Minutes())
		m.ActualDurationMinutes = &dur
		m.StartDelayMinutes = &delay
		m.EndVarianceMinutes = &variance
	}
	return m
}

// WasOnTime reports whether the consult began within five minutes of
// schedule; unknown when the appointment never started.
func (m Metrics) WasOnTime() (bool, bool) {
	if m.StartDelayMinutes == nil {
		return false, false
	}
	d := *m.StartDelayMinutes
	if d < 0 {
		d = -d
	}
	return d <= 5, true
}
