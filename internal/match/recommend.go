package match

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/rowstore"
)

// Recommendation scoring. A prior consultation with the doctor dominates;
// quality signals only lift a doctor over the threshold together.
const (
	historyBonus        = 0.60
	recommendRatingW    = 0.20
	recommendExpCap     = 0.10
	verifiedBonus       = 0.05
	establishedBonus    = 0.05
	recommendThreshold  = 0.50
	establishedConsults = 50
	recommendMinRating  = 4.0
	recommendMinYears   = 2
	recommendCandidates = 20
)

// Recommend returns proactive doctor suggestions for a patient, favouring
// continuity of care. Only candidates scoring above the threshold are
// returned, best first.
func (m *Matcher) Recommend(ctx context.Context, patientID uuid.UUID, specialty string, limit int) ([]model.Recommendation, error) {
	filters := []rowstore.Filter{
		rowstore.Eq("is_verified", true),
		rowstore.Gte("rating", recommendMinRating),
		rowstore.Gte("years_of_experience", recommendMinYears),
	}
	if specialty != "" {
		filters = append(filters, rowstore.Ilike("specialty", "*"+specialty+"*"))
	}

	var doctors []model.Doctor
	q := rowstore.Query{
		Table:   rowstore.TableDoctors,
		Filters: filters,
		Order:   "rating.desc",
		Limit:   recommendCandidates,
	}
	if err := m.store.Select(ctx, q, &doctors); err != nil {
		return nil, model.E(model.ErrDatabase, "recommendation query failed: %v", err)
	}
	if len(doctors) == 0 && specialty != "" {
		return nil, model.E(model.ErrSpecialtyNotAvailable, "no verified doctors for specialty %q", specialty)
	}

	seen, err := m.doctorsSeenBy(ctx, patientID)
	if err != nil {
		return nil, err
	}

	var recs []model.Recommendation
	for i := range doctors {
		doc := &doctors[i]
		score := recommendationScore(doc, seen[doc.ID])
		if score <= recommendThreshold {
			continue
		}
		reason := "Highly rated, verified and experienced"
		if seen[doc.ID] {
			reason = "Previously treated by this doctor - continuity of care recommended"
		}
		recs = append(recs, model.Recommendation{Doctor: *doc, Score: score, Reason: reason})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func recommendationScore(doc *model.Doctor, hasHistory bool) float64 {
	var score float64
	if hasHistory {
		score += historyBonus
	}
	score += (doc.Rating / 5.0) * recommendRatingW
	exp := float64(doc.YearsOfExperience) / 20.0
	if exp > recommendExpCap {
		exp = recommendExpCap
	}
	score += exp
	if doc.IsVerified {
		score += verifiedBonus
	}
	if doc.TotalConsultations >= establishedConsults {
		score += establishedBonus
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// doctorsSeenBy returns the set of doctors the patient has completed
// appointments with.
func (m *Matcher) doctorsSeenBy(ctx context.Context, patientID uuid.UUID) (map[uuid.UUID]bool, error) {
	var appts []model.Appointment
	q := rowstore.Query{
		Table: rowstore.TableAppointments,
		Filters: []rowstore.Filter{
			rowstore.Eq("patient_id", patientID),
			rowstore.Eq("status", string(model.ApptCompleted)),
		},
		Select: "id,doctor_id,patient_id,status,scheduled_start_time,scheduled_end_time",
	}
	if err := m.store.Select(ctx, q, &appts); err != nil {
		return nil, model.E(model.ErrDatabase, "history query failed: %v", err)
	}
	seen := make(map[uuid.UUID]bool, len(appts))
	for i := range appts {
		seen[appts[i].DoctorID] = true
	}
	return seen, nil
}
