package lifecycle_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaeclinic/televisit/internal/lifecycle"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/rowstore"
)

// fakeApptTable keeps appointments in memory and applies status patches.
type fakeApptTable struct {
	appts map[uuid.UUID]*model.Appointment
}

func newFakeApptTable(appts ...*model.Appointment) *fakeApptTable {
	table := &fakeApptTable{appts: make(map[uuid.UUID]*model.Appointment)}
	for _, a := range appts {
		table.appts[a.ID] = a
	}
	return table
}

func (s *fakeApptTable) Select(_ context.Context, q rowstore.Query, dest any) error {
	var out []model.Appointment
	for _, a := range s.appts {
		if matches(a, q.Filters) {
			out = append(out, *a)
		}
	}
	raw, _ := json.Marshal(out)
	return json.Unmarshal(raw, dest)
}

func (s *fakeApptTable) Update(_ context.Context, _ string, filters []rowstore.Filter, patch any, dest any) error {
	raw, _ := json.Marshal(patch)
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	var updated []model.Appointment
	for _, a := range s.appts {
		if !matches(a, filters) {
			continue
		}
		if v, ok := fields["status"].(string); ok {
			a.Status = model.AppointmentStatus(v)
		}
		if v, ok := fields["reschedule_count"].(float64); ok {
			a.RescheduleCount = int(v)
		}
		if v, ok := fields["scheduled_start_time"].(string); ok {
			a.ScheduledStartTime, _ = time.Parse(time.RFC3339, v)
		}
		if v, ok := fields["scheduled_end_time"].(string); ok {
			a.ScheduledEndTime, _ = time.Parse(time.RFC3339, v)
		}
		updated = append(updated, *a)
	}
	if dest != nil {
		raw, _ := json.Marshal(updated)
		return json.Unmarshal(raw, dest)
	}
	return nil
}

func matches(a *model.Appointment, filters []rowstore.Filter) bool {
	for _, f := range filters {
		switch {
		case f.Column == "id" && f.Op == "eq":
			if a.ID.String() != f.Value {
				return false
			}
		case f.Column == "status" && f.Op == "eq":
			if string(a.Status) != f.Value {
				return false
			}
		case f.Column == "status" && f.Op == "in":
			if !containsStatus(f.Value, a.Status) {
				return false
			}
		case f.Column == "scheduled_start_time" && f.Op == "lt":
			cutoff, _ := time.Parse(time.RFC3339, f.Value)
			if !a.ScheduledStartTime.Before(cutoff) {
				return false
			}
		case f.Column == "scheduled_end_time" && f.Op == "lt":
			cutoff, _ := time.Parse(time.RFC3339, f.Value)
			if !a.ScheduledEndTime.Before(cutoff) {
				return false
			}
		}
	}
	return true
}

func containsStatus(set string, status model.AppointmentStatus) bool {
	// set looks like "(pending,confirmed)".
	for _, part := range strings.Split(strings.Trim(set, "()"), ",") {
		if part == string(status) {
			return true
		}
	}
	return false
}

// recordingNotifier captures status-change notifications.
type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) Handle(_ context.Context, appt *model.Appointment, oldStatus model.AppointmentStatus) error {
	n.calls = append(n.calls, string(oldStatus)+"->"+string(appt.Status))
	return nil
}

func futureAppt(status model.AppointmentStatus, start time.Time) *model.Appointment {
	return &model.Appointment{
		ID:                 uuid.New(),
		PatientID:          uuid.New(),
		DoctorID:           uuid.New(),
		AppointmentType:    model.TypeGeneralConsultation,
		Status:             status,
		ScheduledStartTime: start,
		ScheduledEndTime:   start.Add(30 * time.Minute),
	}
}

func TestService_ConfirmNotifies(t *testing.T) {
	appt := futureAppt(model.ApptPending, time.Now().UTC().Add(48*time.Hour))
	store := newFakeApptTable(appt)
	notifier := &recordingNotifier{}
	svc := lifecycle.NewService(store, lifecycle.DefaultRules(), notifier)

	got, err := svc.Confirm(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApptConfirmed, got.Status)
	assert.Equal(t, []string{"pending->confirmed"}, notifier.calls)
}

func TestService_InvalidTransitionRejected(t *testing.T) {
	appt := futureAppt(model.ApptCompleted, time.Now().UTC().Add(48*time.Hour))
	svc := lifecycle.NewService(newFakeApptTable(appt), lifecycle.DefaultRules(), nil)

	_, err := svc.Confirm(context.Background(), appt.ID)
	assert.ErrorIs(t, err, model.ErrInvalidStatusTransition)
}

func TestService_GetUnknown(t *testing.T) {
	svc := lifecycle.NewService(newFakeApptTable(), lifecycle.DefaultRules(), nil)

	_, err := svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestService_StartOutsideWindow(t *testing.T) {
	appt := futureAppt(model.ApptConfirmed, time.Now().UTC().Add(2*time.Hour))
	svc := lifecycle.NewService(newFakeApptTable(appt), lifecycle.DefaultRules(), nil)

	_, err := svc.Start(context.Background(), appt.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTime)
}

func TestService_StartWithinWindow(t *testing.T) {
	appt := futureAppt(model.ApptConfirmed, time.Now().UTC().Add(10*time.Minute))
	svc := lifecycle.NewService(newFakeApptTable(appt), lifecycle.DefaultRules(), nil)

	got, err := svc.Start(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApptInProgress, got.Status)
}

func TestService_CancelRequiresNotice(t *testing.T) {
	soon := futureAppt(model.ApptConfirmed, time.Now().UTC().Add(2*time.Hour))
	svc := lifecycle.NewService(newFakeApptTable(soon), lifecycle.DefaultRules(), nil)

	_, err := svc.Cancel(context.Background(), soon.ID)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestService_CancelEmergencyBypassesNotice(t *testing.T) {
	soon := futureAppt(model.ApptConfirmed, time.Now().UTC().Add(2*time.Hour))
	soon.AppointmentType = model.TypeEmergencyConsultation
	svc := lifecycle.NewService(newFakeApptTable(soon), lifecycle.DefaultRules(), nil)

	got, err := svc.Cancel(context.Background(), soon.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApptCancelled, got.Status)
}

func TestService_RescheduleBudget(t *testing.T) {
	appt := futureAppt(model.ApptConfirmed, time.Now().UTC().Add(48*time.Hour))
	appt.RescheduleCount = 3
	svc := lifecycle.NewService(newFakeApptTable(appt), lifecycle.DefaultRules(), nil)

	newStart := nextWeekdayAt(10)
	_, err := svc.Reschedule(context.Background(), appt.ID, newStart, newStart.Add(30*time.Minute))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestService_Reschedule(t *testing.T) {
	appt := futureAppt(model.ApptConfirmed, time.Now().UTC().Add(48*time.Hour))
	store := newFakeApptTable(appt)
	svc := lifecycle.NewService(store, lifecycle.DefaultRules(), nil)

	newStart := nextWeekdayAt(10)
	got, err := svc.Reschedule(context.Background(), appt.ID, newStart, newStart.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.ApptRescheduled, got.Status)
	assert.Equal(t, 1, got.RescheduleCount)
	assert.True(t, got.ScheduledStartTime.Equal(newStart))
}

func TestService_SweepAppliesAutoTransitions(t *testing.T) {
	now := time.Now().UTC()
	missed := futureAppt(model.ApptConfirmed, now.Add(-time.Hour))
	running := futureAppt(model.ApptInProgress, now.Add(-2*time.Hour))
	fresh := futureAppt(model.ApptConfirmed, now.Add(time.Hour))
	store := newFakeApptTable(missed, running, fresh)
	notifier := &recordingNotifier{}
	svc := lifecycle.NewService(store, lifecycle.DefaultRules(), notifier)

	changed, err := svc.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	assert.Equal(t, model.ApptNoShow, store.appts[missed.ID].Status)
	assert.Equal(t, model.ApptCompleted, store.appts[running.ID].Status)
	assert.Equal(t, model.ApptConfirmed, store.appts[fresh.ID].Status)
	assert.Len(t, notifier.calls, 2)
}

// nextWeekdayAt returns 10:00 UTC at least two days out, skipping Sunday.
func nextWeekdayAt(hour int) time.Time {
	d := time.Now().UTC().AddDate(0, 0, 2)
	if d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}
