// Package conflict detects scheduling collisions against existing
// appointments and proposes alternative windows.
package conflict

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/rowstore"
)

const (
	workdayStartHour = 8
	workdayEndHour   = 20
	alternativeStep  = 30 * time.Minute
	maxAlternatives  = 5
	lookaheadDays    = 3
)

// Store is the subset of the row-store gateway the detector needs.
type Store interface {
	Select(ctx context.Context, q rowstore.Query, dest any) error
}

// Detector checks proposed windows against active appointments.
type Detector struct {
	store  Store
	logger zerolog.Logger
}

// New creates a conflict detector.
func New(store Store) *Detector {
	return &Detector{store: store, logger: log.WithComponent("conflict")}
}

// Check reports whether [start,end) collides with an active appointment of
// the doctor. excludeID skips one appointment (used when rescheduling);
// pass uuid.Nil to check all.
func (d *Detector) Check(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	appts, err := d.overlappingAppointments(ctx, doctorID, start, end, excludeID)
	if err != nil {
		return false, err
	}
	for i := range appts {
		if model.Overlaps(start, end, appts[i].ScheduledStartTime, appts[i].ScheduledEndTime) {
			return true, nil
		}
	}
	return false, nil
}

// CheckWithBuffer extends the window by bufferMinutes on both ends before
// testing, keeping back-to-back bookings from abutting without a gap.
func (d *Detector) CheckWithBuffer(ctx context.Context, doctorID uuid.UUID, start, end time.Time, bufferMinutes int, excludeID uuid.UUID) (bool, error) {
	buf := time.Duration(bufferMinutes) * time.Minute
	return d.Check(ctx, doctorID, start.Add(-buf), end.Add(buf), excludeID)
}

func (d *Detector) overlappingAppointments(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]model.Appointment, error) {
	statuses := make([]any, 0, len(model.ActiveAppointmentStatuses))
	for _, s := range model.ActiveAppointmentStatuses {
		statuses = append(statuses, string(s))
	}
	filters := []rowstore.Filter{
		rowstore.Eq("doctor_id", doctorID),
		rowstore.Lte("scheduled_start_time", end),
		rowstore.Gte("scheduled_end_time", start),
		rowstore.In("status", statuses...),
	}
	if excludeID != uuid.Nil {
		filters = append(filters, rowstore.Neq("id", excludeID))
	}
	var appts []model.Appointment
	q := rowstore.Query{Table: rowstore.TableAppointments, Filters: filters}
	if err := d.store.Select(ctx, q, &appts); err != nil {
		return nil, model.E(model.ErrDatabase, "appointment range query failed: %v", err)
	}
	return appts, nil
}

// Alternatives proposes up to five free windows near the requested one:
// same day first (working hours, 30-minute grid, skipping the original
// start), then the next three days.
func (d *Detector) Alternatives(ctx context.Context, doctorID uuid.UUID, requested time.Time, durationMinutes int) ([]model.AlternativeSlot, error) {
	duration := time.Duration(durationMinutes) * time.Minute
	var out []model.AlternativeSlot

	for dayOffset := 0; dayOffset <= lookaheadDays && len(out) < maxAlternatives; dayOffset++ {
		day := requested.UTC().AddDate(0, 0, dayOffset)
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), workdayStartHour, 0, 0, 0, time.UTC)
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), workdayEndHour, 0, 0, 0, time.UTC)

		booked, err := d.overlappingAppointments(ctx, doctorID, dayStart, dayEnd, uuid.Nil)
		if err != nil {
			return nil, err
		}

		for cur := dayStart; !cur.Add(duration).After(dayEnd) && len(out) < maxAlternatives; cur = cur.Add(alternativeStep) {
			if dayOffset == 0 && cur.Equal(requested.UTC()) {
				continue
			}
			if dayOffset == 0 && cur.Before(requested.UTC()) {
				continue
			}
			if hasOverlap(booked, cur, cur.Add(duration)) {
				continue
			}
			out = append(out, model.AlternativeSlot{
				DoctorID:  doctorID,
				StartTime: cur,
				EndTime:   cur.Add(duration),
			})
		}
	}
	return out, nil
}

// NextAvailable scans forward on a 30-minute grid within working hours and
// returns the first conflict-free window, or nil within maxDays.
func (d *Detector) NextAvailable(ctx context.Context, doctorID uuid.UUID, from time.Time, durationMinutes, maxDays int) (*model.AlternativeSlot, error) {
	duration := time.Duration(durationMinutes) * time.Minute
	cur := from.UTC().Truncate(alternativeStep).Add(alternativeStep)
	deadline := from.UTC().AddDate(0, 0, maxDays)

	for cur.Before(deadline) {
		if !withinWorkingHours(cur) {
			cur = cur.Add(alternativeStep)
			continue
		}
		conflicted, err := d.Check(ctx, doctorID, cur, cur.Add(duration), uuid.Nil)
		if err != nil {
			return nil, err
		}
		if !conflicted {
			return &model.AlternativeSlot{
				DoctorID:  doctorID,
				StartTime: cur,
				EndTime:   cur.Add(duration),
			}, nil
		}
		cur = cur.Add(alternativeStep)
	}
	return nil, nil
}

func withinWorkingHours(t time.Time) bool {
	h := t.UTC().Hour()
	return h >= workdayStartHour && h < workdayEndHour
}

func hasOverlap(appts []model.Appointment, start, end time.Time) bool {
	for i := range appts {
		if model.Overlaps(start, end, appts[i].ScheduledStartTime, appts[i].ScheduledEndTime) {
			return true
		}
	}
	return false
}
