package model

import (
	"time"

	"github.com/google/uuid"
)

// VideoSessionStatus is the lifecycle state of a video session row.
type VideoSessionStatus string

const (
	VideoCreated   VideoSessionStatus = "created"
	VideoReady     VideoSessionStatus = "ready"
	VideoActive    VideoSessionStatus = "active"
	VideoEnded     VideoSessionStatus = "ended"
	VideoCancelled VideoSessionStatus = "cancelled"
	VideoFailed    VideoSessionStatus = "failed"
)

// IsConcluded reports whether the session is finished and may be replaced.
func (s VideoSessionStatus) IsConcluded() bool {
	switch s {
	case VideoEnded, VideoCancelled, VideoFailed:
		return true
	}
	return false
}

// VideoAction is what the coordinator must do in response to an
// appointment status change.
type VideoAction string

const (
	VideoNoAction VideoAction = "no_action"
	VideoCreate   VideoAction = "create"
	VideoActivate VideoAction = "activate"
	VideoStart    VideoAction = "start"
	VideoEnd      VideoAction = "end"
	VideoCancel   VideoAction = "cancel"
	VideoRecreate VideoAction = "recreate"
)

// VideoSession is a video session row tied to an appointment.
type VideoSession struct {
	ID                uuid.UUID          `json:"id"`
	AppointmentID     uuid.UUID          `json:"appointment_id"`
	PatientID         uuid.UUID          `json:"patient_id"`
	DoctorID          uuid.UUID          `json:"doctor_id"`
	ProviderSessionID string             `json:"provider_session_id"`
	Status            VideoSessionStatus `json:"status"`
	ScheduledStart    time.Time          `json:"scheduled_start_time"`
	ActualStart       *time.Time         `json:"actual_start_time,omitempty"`
	ActualEnd         *time.Time         `json:"actual_end_time,omitempty"`
	DurationMinutes   *int               `json:"session_duration_minutes,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// JoinURLs holds participant links issued when a session is activated.
type JoinURLs struct {
	PatientJoinURL string    `json:"patient_join_url"`
	DoctorJoinURL  string    `json:"doctor_join_url"`
	SessionID      string    `json:"session_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// VideoLifecycleEvent is an audit row appended for every coordinator action.
type VideoLifecycleEvent struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	SessionID     uuid.UUID `json:"session_id"`
	EventType     string    `json:"event_type"`
	TriggeredBy   string    `json:"triggered_by"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Timestamp     time.Time `json:"event_timestamp"`
}
