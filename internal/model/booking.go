package model

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the lifecycle state of a booking job as it moves through
// the pipeline. The allowed edges form a DAG validated by the queue.
type BookingStatus string

const (
	StatusQueued                BookingStatus = "queued"
	StatusProcessing            BookingStatus = "processing"
	StatusDoctorMatching        BookingStatus = "doctor_matching"
	StatusAvailabilityCheck     BookingStatus = "availability_check"
	StatusSlotSelection         BookingStatus = "slot_selection"
	StatusAppointmentCreation   BookingStatus = "appointment_creation"
	StatusAlternativeGeneration BookingStatus = "alternative_generation"
	StatusCompleted             BookingStatus = "completed"
	StatusFailed                BookingStatus = "failed"
	StatusRetrying              BookingStatus = "retrying"
	StatusCancelled             BookingStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Progress returns the client-facing completion percentage for the status.
func (s BookingStatus) Progress() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 10
	case StatusDoctorMatching:
		return 25
	case StatusAvailabilityCheck:
		return 40
	case StatusSlotSelection:
		return 60
	case StatusAppointmentCreation:
		return 80
	case StatusAlternativeGeneration:
		return 90
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 100
	case StatusRetrying:
		return 5
	}
	return 0
}

// EstimatedRemaining returns the rough seconds-to-completion hint shown to
// clients while the job is in flight, or 0 for terminal states.
func (s BookingStatus) EstimatedRemaining() int {
	switch s {
	case StatusQueued:
		return 30
	case StatusProcessing:
		return 25
	case StatusDoctorMatching:
		return 20
	case StatusAvailabilityCheck:
		return 15
	case StatusSlotSelection:
		return 10
	case StatusAppointmentCreation:
		return 5
	case StatusAlternativeGeneration:
		return 3
	}
	return 0
}

// Message returns the human-readable status line published with updates.
func (s BookingStatus) Message() string {
	switch s {
	case StatusQueued:
		return "Booking request queued for processing"
	case StatusProcessing:
		return "Processing your booking request"
	case StatusDoctorMatching:
		return "Finding the best doctor for your needs"
	case StatusAvailabilityCheck:
		return "Checking doctor availability"
	case StatusSlotSelection:
		return "Selecting optimal time slot"
	case StatusAppointmentCreation:
		return "Creating your appointment"
	case StatusAlternativeGeneration:
		return "Generating alternative options"
	case StatusCompleted:
		return "Appointment successfully booked"
	case StatusFailed:
		return "Booking failed - please try again"
	case StatusRetrying:
		return "Retrying your booking request"
	case StatusCancelled:
		return "Booking request cancelled"
	}
	return "Unknown status"
}

// Step returns the pipeline step label for in-flight statuses, or "".
func (s BookingStatus) Step() string {
	switch s {
	case StatusDoctorMatching:
		return "Finding best doctor match"
	case StatusAvailabilityCheck:
		return "Checking doctor availability"
	case StatusSlotSelection:
		return "Selecting optimal time slot"
	case StatusAppointmentCreation:
		return "Creating appointment"
	case StatusAlternativeGeneration:
		return "Generating alternatives"
	}
	return ""
}

// BookingUrgency orders how aggressively a request should be scheduled.
type BookingUrgency string

const (
	UrgencyLow      BookingUrgency = "low"
	UrgencyNormal   BookingUrgency = "normal"
	UrgencyHigh     BookingUrgency = "high"
	UrgencyCritical BookingUrgency = "critical"
)

// SchedulingPriority ranks batch booking requests; lower sorts first.
type SchedulingPriority string

const (
	PriorityEmergency SchedulingPriority = "emergency"
	PriorityUrgent    SchedulingPriority = "urgent"
	PriorityStandard  SchedulingPriority = "standard"
	PriorityFlexible  SchedulingPriority = "flexible"
)

// Rank returns the sort weight for batch ordering.
func (p SchedulingPriority) Rank() int {
	switch p {
	case PriorityEmergency:
		return 0
	case PriorityUrgent:
		return 1
	case PriorityStandard:
		return 2
	case PriorityFlexible:
		return 3
	}
	return 2
}

// BookingRequest is a patient's smart booking request.
type BookingRequest struct {
	PatientID          uuid.UUID          `json:"patient_id"`
	Specialty          string             `json:"specialty,omitempty"`
	Urgency            BookingUrgency     `json:"urgency,omitempty"`
	PreferredDoctorID  *uuid.UUID         `json:"preferred_doctor_id,omitempty"`
	PreferredTimeSlot  *time.Time         `json:"preferred_time_slot,omitempty"`
	AlternativeSlots   []time.Time        `json:"alternative_time_slots,omitempty"`
	AppointmentType    AppointmentType    `json:"appointment_type,omitempty"`
	ReasonForVisit     string             `json:"reason_for_visit,omitempty"`
	DurationMinutes    int                `json:"duration_minutes,omitempty"`
	IsFollowUp         bool               `json:"is_follow_up,omitempty"`
	Notes              string             `json:"notes,omitempty"`
	SchedulingPriority SchedulingPriority `json:"scheduling_priority,omitempty"`
}

// BookingJob is the durable unit of work held in the queue.
type BookingJob struct {
	JobID        uuid.UUID      `json:"job_id"`
	PatientID    uuid.UUID      `json:"patient_id"`
	Request      BookingRequest `json:"request"`
	Status       BookingStatus  `json:"status"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	WorkerID     string         `json:"worker_id,omitempty"`
}

// CanRetry reports whether a failed job still has retry budget.
func (j *BookingJob) CanRetry() bool {
	return j.Status == StatusFailed && j.RetryCount < j.MaxRetries
}

// StepRecord captures timing and outcome for one pipeline step.
type StepRecord struct {
	Step        BookingStatus `json:"step"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	DurationMS  int64         `json:"duration_ms"`
	Result      string        `json:"result"`
}

// BookingResult is the payload attached to a completed booking update.
type BookingResult struct {
	AppointmentID    uuid.UUID         `json:"appointment_id"`
	DoctorID         uuid.UUID         `json:"doctor_id"`
	ScheduledStart   time.Time         `json:"scheduled_start_time"`
	ScheduledEnd     time.Time         `json:"scheduled_end_time"`
	MatchScore       float64           `json:"match_score"`
	Alternatives     []AlternativeSlot `json:"alternatives,omitempty"`
	ProcessingTimeMS int64             `json:"processing_time_ms"`
	Steps            []StepRecord      `json:"steps_completed"`
}

// AlternativeSlot is a proposed fallback when the requested window is taken.
type AlternativeSlot struct {
	DoctorID     uuid.UUID `json:"doctor_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	MatchScore   float64   `json:"match_score"`
	IsUrgentSlot bool      `json:"is_urgent_slot"`
}

// BookingUpdate is a single progress event published on the hub.
type BookingUpdate struct {
	JobID              uuid.UUID      `json:"job_id"`
	Status             BookingStatus  `json:"status"`
	Message            string         `json:"message"`
	ProgressPercentage int            `json:"progress_percentage"`
	CurrentStep        string         `json:"current_step,omitempty"`
	EstimatedRemaining int            `json:"estimated_remaining_seconds,omitempty"`
	ErrorDetails       string         `json:"error_details,omitempty"`
	Result             *BookingResult `json:"result,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
}

// UpdateFor builds the standard progress event for a status.
func UpdateFor(jobID uuid.UUID, status BookingStatus) BookingUpdate {
	u := BookingUpdate{
		JobID:              jobID,
		Status:             status,
		Message:            status.Message(),
		ProgressPercentage: status.Progress(),
		Timestamp:          time.Now().UTC(),
	}
	if step := status.Step(); step != "" {
		u.CurrentStep = step
	}
	if rem := status.EstimatedRemaining(); rem > 0 {
		u.EstimatedRemaining = rem
	}
	return u
}

// QueueStats summarises queue health for the worker health loop.
type QueueStats struct {
	QueuedJobs     int64  `json:"queued_jobs"`
	ProcessingJobs int64  `json:"processing_jobs"`
	CompletedToday int64  `json:"completed_today"`
	FailedToday    int64  `json:"failed_today"`
	ActiveWorkers  int    `json:"active_workers"`
	QueueHealth    string `json:"queue_health"`
}
