package model

import (
	"time"

	"github.com/google/uuid"
)

// Doctor is a clinician profile row.
type Doctor struct {
	ID                 uuid.UUID `json:"id"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	Specialty          string    `json:"specialty"`
	SubSpecialty       string    `json:"sub_specialty,omitempty"`
	YearsOfExperience  int       `json:"years_of_experience"`
	Rating             float64   `json:"rating"`
	TotalConsultations int       `json:"total_consultations"`
	IsVerified         bool      `json:"is_verified"`
	Timezone           string    `json:"timezone,omitempty"`
}

// FullName renders the display name.
func (d *Doctor) FullName() string {
	return d.FirstName + " " + d.LastName
}

// Patient is a patient profile row.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
}

// AvailabilityRule is a recurring (or date-pinned) working-hours row.
// Day numbering follows the row store: 0 = Sunday.
type AvailabilityRule struct {
	ID                 uuid.UUID       `json:"id"`
	DoctorID           uuid.UUID       `json:"doctor_id"`
	DayOfWeek          int             `json:"day_of_week"`
	DurationMinutes    int             `json:"duration_minutes"`
	IsAvailable        bool            `json:"is_available"`
	MorningStartTime   *time.Time      `json:"morning_start_time,omitempty"`
	MorningEndTime     *time.Time      `json:"morning_end_time,omitempty"`
	AfternoonStartTime *time.Time      `json:"afternoon_start_time,omitempty"`
	AfternoonEndTime   *time.Time      `json:"afternoon_end_time,omitempty"`
	AppointmentType    AppointmentType `json:"appointment_type,omitempty"`
	BufferMinutes      int             `json:"buffer_minutes"`
	MaxConcurrent      int             `json:"max_concurrent_appointments"`
	IsRecurring        bool            `json:"is_recurring"`
	SpecificDate       string          `json:"specific_date,omitempty"` // YYYY-MM-DD
}

// AvailabilityOverride blocks or opens a specific date.
type AvailabilityOverride struct {
	ID           uuid.UUID `json:"id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	OverrideDate string    `json:"override_date"` // YYYY-MM-DD
	IsAvailable  bool      `json:"is_available"`
	Reason       string    `json:"reason,omitempty"`
}

// SlotPriority colour-codes synthesized slots for selection scoring.
type SlotPriority string

const (
	SlotEmergency SlotPriority = "emergency"
	SlotPreferred SlotPriority = "preferred"
	SlotAvailable SlotPriority = "available"
	SlotLimited   SlotPriority = "limited"
	SlotWaitList  SlotPriority = "wait_list"
)

// AvailableSlot is a theoretical bookable window synthesized from rules.
type AvailableSlot struct {
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	DurationMinutes int             `json:"duration_minutes"`
	AppointmentType AppointmentType `json:"appointment_type"`
	BufferMinutes   int             `json:"buffer_minutes"`
	MaxConcurrent   int             `json:"max_concurrent_patients"`
	Priority        SlotPriority    `json:"slot_priority"`
}

// MatchResult is one scored candidate from the matching engine.
type MatchResult struct {
	Doctor  Doctor   `json:"doctor"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// Recommendation is a proactive doctor suggestion for a patient.
type Recommendation struct {
	Doctor Doctor  `json:"doctor"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}
