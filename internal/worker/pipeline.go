package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/metrics"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/scheduler"
)

const defaultDurationMinutes = 30

// StatusUpdater advances the job along the queue's status DAG.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.BookingStatus, errorMessage string) (*model.BookingJob, error)
}

// Matcher selects the best doctor for a request.
type Matcher interface {
	FindBest(ctx context.Context, req *model.BookingRequest) (*model.MatchResult, error)
}

// SlotSource yields theoretical slots for a doctor and date.
type SlotSource interface {
	SlotsForDate(ctx context.Context, doctorID uuid.UUID, date time.Time, apptType model.AppointmentType) ([]model.AvailableSlot, error)
}

// Booker performs the guarded appointment insert.
type Booker interface {
	Book(ctx context.Context, slot scheduler.BookSlot) (*model.Appointment, error)
}

// AlternativeSource proposes fallback windows near a requested time.
type AlternativeSource interface {
	Alternatives(ctx context.Context, doctorID uuid.UUID, requested time.Time, durationMinutes int) ([]model.AlternativeSlot, error)
}

// Pipeline executes the five booking steps for one job: match a doctor,
// materialize availability, pick the best slot, book it atomically, and
// attach alternative windows to the result.
type Pipeline struct {
	updater      StatusUpdater
	matcher      Matcher
	slots        SlotSource
	booker       Booker
	alternatives AlternativeSource
	logger       zerolog.Logger
}

// NewPipeline wires the booking steps together.
func NewPipeline(updater StatusUpdater, matcher Matcher, slots SlotSource, booker Booker, alternatives AlternativeSource) *Pipeline {
	return &Pipeline{
		updater:      updater,
		matcher:      matcher,
		slots:        slots,
		booker:       booker,
		alternatives: alternatives,
		logger:       log.WithComponent("pipeline"),
	}
}

// Run drives the job through all steps and returns the booking result.
// Each step publishes its progress event before running so subscribers see
// the pipeline advance in real time.
func (p *Pipeline) Run(ctx context.Context, job *model.BookingJob, pub Publisher) (*model.BookingResult, error) {
	started := time.Now()
	var steps []model.StepRecord

	// Step 1: doctor matching.
	if err := p.enter(ctx, job, pub, model.StatusDoctorMatching); err != nil {
		return nil, err
	}
	match, err := timedStep(model.StatusDoctorMatching, &steps, func() (*model.MatchResult, error) {
		return p.matcher.FindBest(ctx, &job.Request)
	})
	if err != nil {
		return nil, err
	}
	doctor := match.Doctor
	p.logger.Debug().
		Str(log.FieldJobID, job.JobID.String()).
		Str(log.FieldDoctorID, doctor.ID.String()).
		Float64("score", match.Score).
		Msg("doctor matched")

	// Step 2: availability check.
	if err := p.enter(ctx, job, pub, model.StatusAvailabilityCheck); err != nil {
		return nil, err
	}
	targetDate := time.Now().UTC().AddDate(0, 0, 1)
	if job.Request.PreferredTimeSlot != nil {
		targetDate = job.Request.PreferredTimeSlot.UTC()
	}
	slots, err := timedStep(model.StatusAvailabilityCheck, &steps, func() ([]model.AvailableSlot, error) {
		all, err := p.slots.SlotsForDate(ctx, doctor.ID, targetDate, job.Request.AppointmentType)
		if err != nil {
			return nil, err
		}
		return futureSlots(all, time.Now().UTC()), nil
	})
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, model.E(model.ErrDoctorNotAvailable, "doctor %s has no open slots on %s",
			doctor.ID, targetDate.Format("2006-01-02"))
	}

	// Step 3: slot selection.
	if err := p.enter(ctx, job, pub, model.StatusSlotSelection); err != nil {
		return nil, err
	}
	isEmergency := job.Request.Urgency == model.UrgencyCritical ||
		job.Request.AppointmentType == model.TypeEmergencyConsultation
	best, err := timedStep(model.StatusSlotSelection, &steps, func() (*model.AvailableSlot, error) {
		s := scheduler.SelectBestSlot(slots, job.Request.PreferredTimeSlot, isEmergency)
		if s == nil {
			return nil, model.E(model.ErrSlotNotAvailable, "no bookable slot for doctor %s", doctor.ID)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	durationMinutes := job.Request.DurationMinutes
	if durationMinutes <= 0 {
		durationMinutes = best.DurationMinutes
	}
	if durationMinutes <= 0 {
		durationMinutes = defaultDurationMinutes
	}
	slotEnd := best.StartTime.Add(time.Duration(durationMinutes) * time.Minute)

	// Step 4: appointment creation.
	if err := p.enter(ctx, job, pub, model.StatusAppointmentCreation); err != nil {
		return nil, err
	}
	appt, err := timedStep(model.StatusAppointmentCreation, &steps, func() (*model.Appointment, error) {
		return p.booker.Book(ctx, scheduler.BookSlot{
			PatientID:       job.PatientID,
			DoctorID:        doctor.ID,
			Start:           best.StartTime,
			End:             slotEnd,
			AppointmentType: job.Request.AppointmentType,
			ReasonForVisit:  job.Request.ReasonForVisit,
			Notes:           job.Request.Notes,
		})
	})
	if err != nil {
		return nil, err
	}

	// Step 5: alternative generation. Failures here never sink a booking
	// that already exists.
	if err := p.enter(ctx, job, pub, model.StatusAlternativeGeneration); err != nil {
		return nil, err
	}
	alternatives, altErr := timedStep(model.StatusAlternativeGeneration, &steps, func() ([]model.AlternativeSlot, error) {
		return p.alternatives.Alternatives(ctx, doctor.ID, appt.ScheduledStartTime, durationMinutes)
	})
	if altErr != nil {
		p.logger.Warn().Err(altErr).
			Str(log.FieldJobID, job.JobID.String()).
			Msg("alternative generation failed")
		alternatives = nil
	}

	return &model.BookingResult{
		AppointmentID:    appt.ID,
		DoctorID:         doctor.ID,
		ScheduledStart:   appt.ScheduledStartTime,
		ScheduledEnd:     appt.ScheduledEndTime,
		MatchScore:       match.Score,
		Alternatives:     alternatives,
		ProcessingTimeMS: time.Since(started).Milliseconds(),
		Steps:            steps,
	}, nil
}

// enter moves the job to the step's status and publishes the progress event.
func (p *Pipeline) enter(ctx context.Context, job *model.BookingJob, pub Publisher, status model.BookingStatus) error {
	if _, err := p.updater.UpdateStatus(ctx, job.JobID, status, ""); err != nil {
		return err
	}
	pub.Publish(model.UpdateFor(job.JobID, status))
	return nil
}

// timed runs fn and appends a step record with its duration and outcome.
func timedStep[T any](status model.BookingStatus, steps *[]model.StepRecord, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	end := time.Now()
	result := "ok"
	if err != nil {
		result = "error"
	}
	*steps = append(*steps, model.StepRecord{
		Step:        status,
		StartedAt:   start.UTC(),
		CompletedAt: end.UTC(),
		DurationMS:  end.Sub(start).Milliseconds(),
		Result:      result,
	})
	metrics.ObserveStep(status.Step(), end.Sub(start).Seconds())
	return out, err
}

func futureSlots(slots []model.AvailableSlot, now time.Time) []model.AvailableSlot {
	out := slots[:0]
	for _, s := range slots {
		if s.StartTime.After(now) {
			out = append(out, s)
		}
	}
	return out
}
