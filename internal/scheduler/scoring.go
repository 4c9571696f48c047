package scheduler

import (
	"sort"
	"time"

	"github.com/amaeclinic/televisit/internal/model"
)

// Slot selection scoring. Preference proximity dominates, then the slot's
// priority class, then a mild morning bias for routine consults.
const (
	preferredWindowBonus = 0.4
	morningBonus         = 0.1
	morningStartHour     = 9
	morningEndHour       = 11
	preferredProximity   = 2 * time.Hour
)

func priorityBonus(p model.SlotPriority) float64 {
	switch p {
	case model.SlotEmergency:
		return 0.3
	case model.SlotPreferred:
		return 0.2
	case model.SlotAvailable:
		return 0.1
	case model.SlotLimited:
		return 0.05
	case model.SlotWaitList:
		return -0.1
	}
	return 0
}

// ScoreSlot rates one slot against the request's preferred time.
func ScoreSlot(slot *model.AvailableSlot, preferred *time.Time, isEmergency bool) float64 {
	var score float64
	if preferred != nil {
		delta := slot.StartTime.Sub(preferred.UTC())
		if delta < 0 {
			delta = -delta
		}
		if delta <= preferredProximity {
			score += preferredWindowBonus
		}
	}
	score += priorityBonus(slot.Priority)
	hour := slot.StartTime.UTC().Hour()
	if !isEmergency && hour >= morningStartHour && hour < morningEndHour {
		score += morningBonus
	}
	return score
}

// SelectBestSlot returns the highest-scoring slot, breaking ties on the
// earlier start. Returns nil for an empty slice.
func SelectBestSlot(slots []model.AvailableSlot, preferred *time.Time, isEmergency bool) *model.AvailableSlot {
	if len(slots) == 0 {
		return nil
	}
	best := 0
	bestScore := ScoreSlot(&slots[0], preferred, isEmergency)
	for i := 1; i < len(slots); i++ {
		score := ScoreSlot(&slots[i], preferred, isEmergency)
		if score > bestScore || (score == bestScore && slots[i].StartTime.Before(slots[best].StartTime)) {
			best, bestScore = i, score
		}
	}
	return &slots[best]
}

// OrderBatch sorts batch booking requests by scheduling priority
// (emergency first), keeping arrival order within a priority class.
func OrderBatch(reqs []model.BookingRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].SchedulingPriority.Rank() < reqs[j].SchedulingPriority.Rank()
	})
}
