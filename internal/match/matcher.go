// Package match ranks candidate doctors for a booking request using a
// weighted multi-factor score.
package match

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/rowstore"
)

// Scoring weights. Specialty fit dominates, then near-term availability,
// then reputation and tenure.
const (
	weightSpecialty    = 0.40
	weightAvailability = 0.30
	weightRating       = 0.20
	weightExperience   = 0.10

	// A slot counts as "in the preferred window" when it starts within
	// two hours of the requested time.
	preferredWindow = 2 * time.Hour

	minCandidateRating = 3.0
	maxCandidates      = 20
	experienceCapYears = 20
)

// Store is the subset of the row-store gateway the matcher needs.
type Store interface {
	Select(ctx context.Context, q rowstore.Query, dest any) error
}

// SlotSource yields theoretical slots for availability scoring.
type SlotSource interface {
	SlotsForDate(ctx context.Context, doctorID uuid.UUID, date time.Time, apptType model.AppointmentType) ([]model.AvailableSlot, error)
}

// Matcher retrieves and scores candidate doctors.
type Matcher struct {
	store  Store
	slots  SlotSource
	logger zerolog.Logger
}

// New creates a matcher.
func New(store Store, slots SlotSource) *Matcher {
	return &Matcher{store: store, slots: slots, logger: log.WithComponent("match")}
}

// Find returns up to limit candidates ranked by score, best first.
// Candidates must be verified, rated at least 3.0, and carry the requested
// specialty when one is given.
func (m *Matcher) Find(ctx context.Context, req *model.BookingRequest, limit int) ([]model.MatchResult, error) {
	if limit <= 0 || limit > maxCandidates {
		limit = maxCandidates
	}

	filters := []rowstore.Filter{
		rowstore.Eq("is_verified", true),
		rowstore.Gte("rating", minCandidateRating),
	}
	if req.Specialty != "" {
		filters = append(filters, rowstore.Ilike("specialty", "*"+req.Specialty+"*"))
	}
	if req.PreferredDoctorID != nil {
		filters = append(filters, rowstore.Eq("id", *req.PreferredDoctorID))
	}

	var doctors []model.Doctor
	q := rowstore.Query{
		Table:   rowstore.TableDoctors,
		Filters: filters,
		Order:   "rating.desc",
		Limit:   maxCandidates,
	}
	if err := m.store.Select(ctx, q, &doctors); err != nil {
		return nil, model.E(model.ErrDatabase, "candidate query failed: %v", err)
	}
	if len(doctors) == 0 {
		if req.Specialty != "" {
			return nil, model.E(model.ErrSpecialtyNotAvailable, "no verified doctors for specialty %q", req.Specialty)
		}
		return nil, model.E(model.ErrDoctorNotFound, "no verified doctors available")
	}

	results := make([]model.MatchResult, 0, len(doctors))
	for i := range doctors {
		score, reasons, err := m.score(ctx, &doctors[i], req)
		if err != nil {
			return nil, err
		}
		results = append(results, model.MatchResult{Doctor: doctors[i], Score: score, Reasons: reasons})
	}
	sortByScore(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// FindBest returns the single best candidate.
func (m *Matcher) FindBest(ctx context.Context, req *model.BookingRequest) (*model.MatchResult, error) {
	results, err := m.Find(ctx, req, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, model.E(model.ErrDoctorNotFound, "no matching doctor")
	}
	return &results[0], nil
}

func (m *Matcher) score(ctx context.Context, doc *model.Doctor, req *model.BookingRequest) (float64, []string, error) {
	var score float64
	var reasons []string

	if req.Specialty == "" || strings.Contains(strings.ToLower(doc.Specialty), strings.ToLower(req.Specialty)) {
		score += weightSpecialty
		if req.Specialty != "" {
			reasons = append(reasons, "Specialty match: "+doc.Specialty)
		}
	}

	avail, err := m.availabilityScore(ctx, doc.ID, req)
	if err != nil {
		return 0, nil, err
	}
	score += avail * weightAvailability
	switch {
	case avail >= 1.0:
		reasons = append(reasons, "Available at your preferred time")
	case avail > 0:
		reasons = append(reasons, "Has upcoming availability")
	}

	score += (doc.Rating / 5.0) * weightRating
	if doc.Rating >= 4.5 {
		reasons = append(reasons, "Highly rated doctor")
	}

	years := doc.YearsOfExperience
	if years > experienceCapYears {
		years = experienceCapYears
	}
	score += (float64(years) / experienceCapYears) * weightExperience
	if doc.YearsOfExperience >= 10 {
		reasons = append(reasons, "Extensive experience")
	}

	return score, reasons, nil
}

// availabilityScore returns 1.0 when a slot exists inside the preferred
// window, 0.5 when the doctor has slots but none in the window, 0 when the
// doctor has no slots at all.
func (m *Matcher) availabilityScore(ctx context.Context, doctorID uuid.UUID, req *model.BookingRequest) (float64, error) {
	date := time.Now().UTC().AddDate(0, 0, 1)
	if req.PreferredTimeSlot != nil {
		date = req.PreferredTimeSlot.UTC()
	}
	slots, err := m.slots.SlotsForDate(ctx, doctorID, date, req.AppointmentType)
	if err != nil {
		return 0, err
	}
	if len(slots) == 0 {
		return 0, nil
	}
	if req.PreferredTimeSlot == nil {
		return 1.0, nil
	}
	want := req.PreferredTimeSlot.UTC()
	for i := range slots {
		delta := slots[i].StartTime.Sub(want)
		if delta < 0 {
			delta = -delta
		}
		if delta <= preferredWindow {
			return 1.0, nil
		}
	}
	return 0.5, nil
}

func sortByScore(results []model.MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
