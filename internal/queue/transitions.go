package queue

import "github.com/amaeclinic/televisit/internal/model"

// pipelineOrder is the forward path of a booking job through the pipeline.
var pipelineOrder = map[model.BookingStatus]model.BookingStatus{
	model.StatusQueued:                model.StatusProcessing,
	model.StatusProcessing:            model.StatusDoctorMatching,
	model.StatusDoctorMatching:        model.StatusAvailabilityCheck,
	model.StatusAvailabilityCheck:     model.StatusSlotSelection,
	model.StatusSlotSelection:         model.StatusAppointmentCreation,
	model.StatusAppointmentCreation:   model.StatusAlternativeGeneration,
	model.StatusAlternativeGeneration: model.StatusCompleted,
}

// CanTransition reports whether from → to is a legal edge of the job DAG:
// the forward pipeline path, failure from any non-terminal state,
// cancellation of any non-terminal state, and the retry loop
// (failed → retrying → queued/processing).
func CanTransition(from, to model.BookingStatus) bool {
	if from == to {
		return false
	}
	if from.IsTerminal() && from != model.StatusFailed {
		return false
	}
	switch to {
	case model.StatusFailed:
		return !from.IsTerminal()
	case model.StatusCancelled:
		return !from.IsTerminal()
	case model.StatusRetrying:
		return from == model.StatusFailed
	case model.StatusQueued, model.StatusProcessing:
		if from == model.StatusRetrying {
			return true
		}
	}
	if from == model.StatusFailed {
		return false
	}
	return pipelineOrder[from] == to
}

// ValidateTransition returns ErrInvalidStatusTransition for a forbidden edge.
func ValidateTransition(from, to model.BookingStatus) error {
	if !CanTransition(from, to) {
		return model.E(model.ErrInvalidStatusTransition, "booking job %s -> %s", from, to)
	}
	return nil
}
