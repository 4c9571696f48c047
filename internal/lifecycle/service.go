package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/rowstore"
)

// Store is the subset of the row-store gateway the service needs.
type Store interface {
	Select(ctx context.Context, q rowstore.Query, dest any) error
	Update(ctx context.Context, table string, filters []rowstore.Filter, patch any, dest any) error
}

// Notifier reacts to an applied status change. The video coordinator
// implements this; failures are logged, never propagated.
type Notifier interface {
	Handle(ctx context.Context, appt *model.Appointment, oldStatus model.AppointmentStatus) error
}

// Service applies appointment status changes with the state machine and
// time-based rules enforced.
type Service struct {
	store    Store
	rules    Rules
	notifier Notifier
	logger   zerolog.Logger
}

// NewService creates the lifecycle service. notifier may be nil.
func NewService(store Store, rules Rules, notifier Notifier) *Service {
	return &Service{
		store:    store,
		rules:    rules,
		notifier: notifier,
		logger:   log.WithComponent("lifecycle"),
	}
}

// Get loads one appointment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var appts []model.Appointment
	q := rowstore.Query{
		Table:   rowstore.TableAppointments,
		Filters: []rowstore.Filter{rowstore.Eq("id", id)},
		Limit:   1,
	}
	if err := s.store.Select(ctx, q, &appts); err != nil {
		return nil, model.E(model.ErrDatabase, "appointment lookup failed: %v", err)
	}
	if len(appts) == 0 {
		return nil, model.E(model.ErrNotFound, "appointment %s", id)
	}
	return &appts[0], nil
}

// Confirm moves a pending or rescheduled appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, id, model.ApptConfirmed, nil)
}

// Start begins the consult. Allowed from 15 minutes before the scheduled
// start until 30 minutes after it.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !s.rules.CanStart(appt.Status, appt.ScheduledStartTime, now) {
		return nil, model.E(model.ErrInvalidTime, "appointment %s cannot start now (scheduled %s)",
			id, appt.ScheduledStartTime.Format(time.RFC3339))
	}
	return s.apply(ctx, appt, model.ApptInProgress, map[string]any{"actual_start_time": now})
}

// Complete finishes an in-progress consult.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, id, model.ApptCompleted, map[string]any{
		"actual_end_time": time.Now().UTC(),
	})
}

// Cancel cancels an appointment. Outside the 24-hour notice window only an
// emergency consultation may still be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if appt.Status != model.ApptInProgress &&
		appt.AppointmentType != model.TypeEmergencyConsultation &&
		!s.rules.CanCancel(appt.ScheduledStartTime, now) {
		return nil, model.E(model.ErrValidation, "cancellation requires %s notice", s.rules.MinCancellationNotice)
	}
	return s.apply(ctx, appt, model.ApptCancelled, nil)
}

// Reschedule moves a confirmed appointment to a new window, bounded by the
// reschedule budget.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart, newEnd time.Time) (*model.Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.RescheduleCount >= s.rules.MaxRescheduleCount {
		return nil, model.E(model.ErrValidation, "appointment %s already rescheduled %d times", id, appt.RescheduleCount)
	}
	now := time.Now().UTC()
	if err := ValidateTiming(newStart, int(newEnd.Sub(newStart).Minutes()), now); err != nil {
		return nil, err
	}
	return s.apply(ctx, appt, model.ApptRescheduled, map[string]any{
		"scheduled_start_time": newStart.UTC(),
		"scheduled_end_time":   newEnd.UTC(),
		"reschedule_count":     appt.RescheduleCount + 1,
	})
}

// MarkNoShow flags a missed appointment once the threshold has passed.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.rules.ShouldMarkNoShow(appt.Status, appt.ScheduledStartTime, time.Now().UTC()) {
		return nil, model.E(model.ErrValidation, "appointment %s is not past the no-show threshold", id)
	}
	return s.apply(ctx, appt, model.ApptNoShow, nil)
}

// Sweep applies the automatic time-based transitions: confirmed appointments
// past the no-show threshold and consults running past the auto-complete
// delay. Returns the number of appointments changed.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	changed := 0

	var overdue []model.Appointment
	oq := rowstore.Query{
		Table: rowstore.TableAppointments,
		Filters: []rowstore.Filter{
			rowstore.In("status", string(model.ApptPending), string(model.ApptConfirmed)),
			rowstore.Lt("scheduled_start_time", now.Add(-s.rules.NoShowThreshold)),
		},
	}
	if err := s.store.Select(ctx, oq, &overdue); err != nil {
		return changed, model.E(model.ErrDatabase, "no-show scan failed: %v", err)
	}
	for i := range overdue {
		if _, err := s.apply(ctx, &overdue[i], model.ApptNoShow, nil); err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldAppointmentID, overdue[i].ID.String()).
				Msg("no-show transition failed")
			continue
		}
		changed++
	}

	var running []model.Appointment
	rq := rowstore.Query{
		Table: rowstore.TableAppointments,
		Filters: []rowstore.Filter{
			rowstore.Eq("status", string(model.ApptInProgress)),
			rowstore.Lt("scheduled_end_time", now.Add(-s.rules.AutoCompleteDelay)),
		},
	}
	if err := s.store.Select(ctx, rq, &running); err != nil {
		return changed, model.E(model.ErrDatabase, "auto-complete scan failed: %v", err)
	}
	for i := range running {
		if _, err := s.apply(ctx, &running[i], model.ApptCompleted, map[string]any{
			"actual_end_time": now,
		}); err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldAppointmentID, running[i].ID.String()).
				Msg("auto-complete transition failed")
			continue
		}
		changed++
	}
	return changed, nil
}

// RunSweeper loops Sweep at the given interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if changed, err := s.Sweep(ctx, time.Now()); err != nil {
				s.logger.Warn().Err(err).Msg("lifecycle sweep failed")
			} else if changed > 0 {
				s.logger.Info().Int("count", changed).Msg("automatic transitions applied")
			}
		}
	}
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to model.AppointmentStatus, extra map[string]any) (*model.Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, appt, to, extra)
}

// apply validates the edge, patches the row, and notifies. The notifier is
// best-effort; the transition stands even when video work fails.
func (s *Service) apply(ctx context.Context, appt *model.Appointment, to model.AppointmentStatus, extra map[string]any) (*model.Appointment, error) {
	if err := Validate(appt.Status, to); err != nil {
		return nil, err
	}

	patch := map[string]any{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		patch[k] = v
	}

	var updated []model.Appointment
	if err := s.store.Update(ctx, rowstore.TableAppointments,
		[]rowstore.Filter{rowstore.Eq("id", appt.ID)}, patch, &updated); err != nil {
		return nil, model.E(model.ErrDatabase, "appointment update failed: %v", err)
	}

	old := appt.Status
	result := *appt
	if len(updated) > 0 {
		result = updated[0]
	} else {
		result.Status = to
	}
	s.logger.Info().
		Str(log.FieldAppointmentID, appt.ID.String()).
		Str(log.FieldOldStatus, string(old)).
		Str(log.FieldNewStatus, string(to)).
		Msg("appointment status changed")

	if s.notifier != nil {
		if err := s.notifier.Handle(ctx, &result, old); err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldAppointmentID, appt.ID.String()).
				Msg("status change notification failed")
		}
	}
	return &result, nil
}
