// Package availability materializes theoretical booking slots from
// recurring availability rules, date overrides, and buffers.
package availability

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/rowstore"
)

const dateLayout = "2006-01-02"

// Store is the subset of the row-store gateway the engine needs.
type Store interface {
	Select(ctx context.Context, q rowstore.Query, dest any) error
}

// Engine synthesizes available slots for doctors.
type Engine struct {
	store  Store
	logger zerolog.Logger
}

// New creates an availability engine.
func New(store Store) *Engine {
	return &Engine{store: store, logger: log.WithComponent("availability")}
}

// SlotsForDate returns the theoretical slots for a doctor on the given date.
// An unavailable override for the date yields no slots. Slots are sorted by
// start time with overlapping entries removed (earliest wins).
func (e *Engine) SlotsForDate(ctx context.Context, doctorID uuid.UUID, date time.Time, apptType model.AppointmentType) ([]model.AvailableSlot, error) {
	date = date.UTC()
	day := date.Format(dateLayout)

	var overrides []model.AvailabilityOverride
	oq := rowstore.Query{
		Table: rowstore.TableOverrides,
		Filters: []rowstore.Filter{
			rowstore.Eq("doctor_id", doctorID),
			rowstore.Eq("override_date", day),
		},
	}
	if err := e.store.Select(ctx, oq, &overrides); err != nil {
		return nil, model.E(model.ErrDatabase, "override lookup failed: %v", err)
	}
	for _, o := range overrides {
		if !o.IsAvailable {
			e.logger.Debug().
				Str(log.FieldDoctorID, doctorID.String()).
				Str("date", day).
				Str("reason", o.Reason).
				Msg("date blocked by override")
			return nil, nil
		}
	}

	var rules []model.AvailabilityRule
	rq := rowstore.Query{
		Table: rowstore.TableAvailabilities,
		Filters: []rowstore.Filter{
			rowstore.Eq("doctor_id", doctorID),
			rowstore.Eq("is_available", true),
		},
	}
	if err := e.store.Select(ctx, rq, &rules); err != nil {
		return nil, model.E(model.ErrDatabase, "availability lookup failed: %v", err)
	}

	weekday := int(date.Weekday()) // 0 = Sunday, matching the row store
	var slots []model.AvailableSlot
	for i := range rules {
		r := &rules[i]
		if !ruleAppliesTo(r, weekday, day) {
			continue
		}
		if apptType != "" && r.AppointmentType != "" && r.AppointmentType != apptType {
			continue
		}
		slots = append(slots, e.expandRule(r, date)...)
	}

	return removeOverlaps(slots), nil
}

func ruleAppliesTo(r *model.AvailabilityRule, weekday int, day string) bool {
	if r.SpecificDate != "" {
		return r.SpecificDate == day
	}
	return r.IsRecurring && r.DayOfWeek == weekday
}

// expandRule steps duration+buffer through the rule's morning and afternoon
// windows, keeping any slot that still fits entirely inside the window.
func (e *Engine) expandRule(r *model.AvailabilityRule, date time.Time) []model.AvailableSlot {
	duration := time.Duration(r.DurationMinutes) * time.Minute
	if duration <= 0 {
		return nil
	}
	step := duration + time.Duration(r.BufferMinutes)*time.Minute

	var out []model.AvailableSlot
	for _, w := range []struct{ start, end *time.Time }{
		{r.MorningStartTime, r.MorningEndTime},
		{r.AfternoonStartTime, r.AfternoonEndTime},
	} {
		if w.start == nil || w.end == nil {
			continue
		}
		cur := onDate(date, *w.start)
		end := onDate(date, *w.end)
		for !cur.Add(duration).After(end) {
			slotEnd := cur.Add(duration)
			out = append(out, model.AvailableSlot{
				StartTime:       cur,
				EndTime:         slotEnd,
				DurationMinutes: r.DurationMinutes,
				AppointmentType: r.AppointmentType,
				BufferMinutes:   r.BufferMinutes,
				MaxConcurrent:   r.MaxConcurrent,
				Priority:        PriorityFor(r.AppointmentType, cur),
			})
			cur = cur.Add(step)
		}
	}
	return out
}

// onDate projects the time-of-day of t onto the given date.
func onDate(date, t time.Time) time.Time {
	t = t.UTC()
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}

// PriorityFor classifies a slot for selection scoring. Emergency and
// specialist consultations outrank the time-of-day heuristic.
func PriorityFor(apptType model.AppointmentType, start time.Time) model.SlotPriority {
	switch apptType {
	case model.TypeEmergencyConsultation:
		return model.SlotEmergency
	case model.TypeInitialConsultation, model.TypeSpecialtyConsultation:
		return model.SlotPreferred
	}
	hour := start.UTC().Hour()
	switch {
	case hour >= 9 && hour < 11:
		return model.SlotPreferred
	case hour >= 12 && hour < 13:
		return model.SlotLimited
	case hour < 9 || hour >= 17:
		return model.SlotLimited
	default:
		return model.SlotAvailable
	}
}

// removeOverlaps sorts slots by start and drops any slot that begins before
// the previously retained slot ends.
func removeOverlaps(slots []model.AvailableSlot) []model.AvailableSlot {
	if len(slots) < 2 {
		return slots
	}
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
	out := slots[:1]
	for _, s := range slots[1:] {
		if s.StartTime.Before(out[len(out)-1].EndTime) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SplitMorningAfternoon partitions slots at 12:00 UTC for display.
func SplitMorningAfternoon(slots []model.AvailableSlot) (morning, afternoon []model.AvailableSlot) {
	for _, s := range slots {
		if s.StartTime.UTC().Hour() < 12 {
			morning = append(morning, s)
		} else {
			afternoon = append(afternoon, s)
		}
	}
	return morning, afternoon
}

// NextAvailable returns the first slot on or after `from` within maxDays,
// or nil when the doctor has no upcoming availability.
func (e *Engine) NextAvailable(ctx context.Context, doctorID uuid.UUID, from time.Time, apptType model.AppointmentType, maxDays int) (*model.AvailableSlot, error) {
	for d := 0; d <= maxDays; d++ {
		day := from.AddDate(0, 0, d)
		slots, err := e.SlotsForDate(ctx, doctorID, day, apptType)
		if err != nil {
			return nil, err
		}
		for i := range slots {
			if !slots[i].StartTime.Before(from) {
				return &slots[i], nil
			}
		}
	}
	return nil, nil
}
