// Package scheduler owns the atomic booking path: lock, final conflict
// check, insert, unlock — with bounded retry under contention.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaeclinic/televisit/internal/config"
	"github.com/amaeclinic/televisit/internal/lifecycle"
	"github.com/amaeclinic/televisit/internal/locks"
	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/metrics"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/rowstore"
)

const (
	maxBookingAttempts = 3
	contentionBackoff  = 100 * time.Millisecond
)

// Locker is the slot lock manager contract.
type Locker interface {
	Acquire(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*locks.Lock, error)
	Release(ctx context.Context, key string) error
}

// ConflictChecker is the conflict detector contract.
type ConflictChecker interface {
	Check(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)
}

// Store is the subset of the row-store gateway the scheduler needs.
type Store interface {
	Insert(ctx context.Context, table string, record any, dest any) error
}

// Scheduler books appointments atomically.
type Scheduler struct {
	store    Store
	locker   Locker
	conflict ConflictChecker
	rules    config.Booking
	sleep    func(time.Duration) // test seam
	logger   zerolog.Logger
}

// New creates a scheduler.
func New(store Store, locker Locker, conflict ConflictChecker, rules config.Booking) *Scheduler {
	return &Scheduler{
		store:    store,
		locker:   locker,
		conflict: conflict,
		rules:    rules,
		sleep:    time.Sleep,
		logger:   log.WithComponent("scheduler"),
	}
}

// BookSlot describes the window being booked.
type BookSlot struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Start           time.Time
	End             time.Time
	AppointmentType model.AppointmentType
	ReasonForVisit  string
	Notes           string
}

// Book validates the request, then runs the guarded insert: acquire the slot
// lock, re-check conflicts under the lock, insert the appointment as
// pending, release. Lock contention backs off 100ms x attempt and retries;
// after three attempts the booking fails with a database error.
func (s *Scheduler) Book(ctx context.Context, slot BookSlot) (*model.Appointment, error) {
	if err := s.Validate(slot, time.Now().UTC()); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxBookingAttempts; attempt++ {
		appt, err := s.bookOnce(ctx, slot)
		if err == nil {
			metrics.IncBookingAttempt("booked")
			return appt, nil
		}
		lastErr = err
		if errors.Is(err, model.ErrLockContended) {
			metrics.IncBookingAttempt("conflict")
			s.logger.Debug().
				Int(log.FieldAttempt, attempt).
				Str(log.FieldDoctorID, slot.DoctorID.String()).
				Msg("slot lock contended, backing off")
			s.sleep(contentionBackoff * time.Duration(attempt))
			continue
		}
		metrics.IncBookingAttempt("error")
		return nil, err
	}
	metrics.IncBookingAttempt("retry_exhausted")
	return nil, model.E(model.ErrDatabase, "max retries exceeded booking slot: %v", lastErr)
}

func (s *Scheduler) bookOnce(ctx context.Context, slot BookSlot) (*model.Appointment, error) {
	lock, err := s.locker.Acquire(ctx, slot.DoctorID, slot.Start, slot.End)
	if err != nil {
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := s.locker.Release(releaseCtx, lock.Key); rerr != nil {
			s.logger.Warn().Err(rerr).Str(log.FieldLockKey, lock.Key).Msg("slot lock release failed")
		}
	}()

	conflicted, err := s.conflict.Check(ctx, slot.DoctorID, slot.Start, slot.End, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if conflicted {
		return nil, model.E(model.ErrConflictDetected, "appointment overlap detected")
	}

	now := time.Now().UTC()
	appt := model.Appointment{
		ID:                 uuid.New(),
		PatientID:          slot.PatientID,
		DoctorID:           slot.DoctorID,
		AppointmentType:    slot.AppointmentType,
		Status:             model.ApptPending,
		ScheduledStartTime: slot.Start.UTC(),
		ScheduledEndTime:   slot.End.UTC(),
		ReasonForVisit:     slot.ReasonForVisit,
		Notes:              slot.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	var created []model.Appointment
	if err := s.store.Insert(ctx, rowstore.TableAppointments, appt, &created); err != nil {
		return nil, model.E(model.ErrDatabase, "appointment insert failed: %v", err)
	}
	if len(created) > 0 {
		appt = created[0]
	}

	s.logger.Info().
		Str(log.FieldAppointmentID, appt.ID.String()).
		Str(log.FieldDoctorID, appt.DoctorID.String()).
		Time("start", appt.ScheduledStartTime).
		Msg("appointment booked")
	return &appt, nil
}

// Validate applies the clinic's booking window rules to a proposed slot.
func (s *Scheduler) Validate(slot BookSlot, now time.Time) error {
	dur := slot.End.Sub(slot.Start)
	durMinutes := int(dur.Minutes())
	if durMinutes < s.rules.MinDurationMinutes || durMinutes > s.rules.MaxDurationMinutes {
		return model.E(model.ErrValidation, "duration %d minutes outside [%d, %d]",
			durMinutes, s.rules.MinDurationMinutes, s.rules.MaxDurationMinutes)
	}
	// A lead time of exactly the minimum is still too short.
	if slot.Start.Sub(now) <= s.rules.MinAdvance {
		return model.E(model.ErrValidation, "appointment must be booked at least %s in advance", s.rules.MinAdvance)
	}
	if slot.Start.After(now.AddDate(0, 0, s.rules.MaxAdvanceDays)) {
		return model.E(model.ErrValidation, "appointment cannot be booked more than %d days ahead", s.rules.MaxAdvanceDays)
	}
	return lifecycle.ValidateTiming(slot.Start, durMinutes, now)
}
