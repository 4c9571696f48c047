package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldJobID         = "job_id"
	FieldRequestID     = "request_id"
	FieldPatientID     = "patient_id"
	FieldDoctorID      = "doctor_id"
	FieldAppointmentID = "appointment_id"
	FieldSessionID     = "session_id"
	FieldWorkerID      = "worker_id"
	FieldLockKey       = "lock_key"

	// Process / pipeline fields
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldStep      = "step"
	FieldAttempt   = "attempt"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Storage fields
	FieldTable = "table"
	FieldKey   = "key"
)
