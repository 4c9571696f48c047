package model

import (
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus is the clinical lifecycle state of an appointment.
type AppointmentStatus string

const (
	ApptPending     AppointmentStatus = "pending"
	ApptConfirmed   AppointmentStatus = "confirmed"
	ApptInProgress  AppointmentStatus = "in_progress"
	ApptCompleted   AppointmentStatus = "completed"
	ApptCancelled   AppointmentStatus = "cancelled"
	ApptNoShow      AppointmentStatus = "no_show"
	ApptRescheduled AppointmentStatus = "rescheduled"
)

// IsTerminal reports whether the appointment can no longer change state.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case ApptCompleted, ApptCancelled, ApptNoShow:
		return true
	}
	return false
}

// ActiveAppointmentStatuses are the states that occupy clinician time and
// therefore participate in conflict detection.
var ActiveAppointmentStatuses = []AppointmentStatus{
	ApptPending, ApptConfirmed, ApptInProgress,
}

// AppointmentType classifies the consultation and drives slot priority.
type AppointmentType string

const (
	TypeInitialConsultation   AppointmentType = "initial_consultation"
	TypeGeneralConsultation   AppointmentType = "general_consultation"
	TypeFollowUpConsultation  AppointmentType = "follow_up_consultation"
	TypeEmergencyConsultation AppointmentType = "emergency_consultation"
	TypeSpecialtyConsultation AppointmentType = "specialty_consultation"
	TypePrescriptionRenewal   AppointmentType = "prescription_renewal"
)

// Appointment is a scheduled consultation row.
type Appointment struct {
	ID                 uuid.UUID         `json:"id"`
	PatientID          uuid.UUID         `json:"patient_id"`
	DoctorID           uuid.UUID         `json:"doctor_id"`
	AppointmentType    AppointmentType   `json:"appointment_type"`
	Status             AppointmentStatus `json:"status"`
	ScheduledStartTime time.Time         `json:"scheduled_start_time"`
	ScheduledEndTime   time.Time         `json:"scheduled_end_time"`
	ActualStartTime    *time.Time        `json:"actual_start_time,omitempty"`
	ActualEndTime      *time.Time        `json:"actual_end_time,omitempty"`
	ReasonForVisit     string            `json:"reason_for_visit,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	VideoConferenceURL string            `json:"video_conference_link,omitempty"`
	RescheduleCount    int               `json:"reschedule_count"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Overlaps reports whether [s1,e1) and [s2,e2) intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}
