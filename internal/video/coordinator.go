package video

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/metrics"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/rowstore"
)

const (
	// Join links stay valid this long after activation.
	joinURLValidity = 2 * time.Hour

	// Created sessions are activated this close to the scheduled start.
	activationLead = 15 * time.Minute

	// Sessions still waiting this long past their start are written off.
	staleAfter = 2 * time.Hour
)

// SessionProvider is the RTC provider contract. A nil provider disables
// video entirely; every action becomes a no-op.
type SessionProvider interface {
	CreateSession(ctx context.Context) (string, error)
	EndSession(ctx context.Context, providerSessionID string) error
}

// Store is the subset of the row-store gateway the coordinator needs.
type Store interface {
	Select(ctx context.Context, q rowstore.Query, dest any) error
	Insert(ctx context.Context, table string, record any, dest any) error
	Update(ctx context.Context, table string, filters []rowstore.Filter, patch any, dest any) error
}

// Coordinator keeps video sessions in step with their appointments.
// Video is strictly best-effort: callers log coordinator errors but never
// fail the appointment operation that triggered them.
type Coordinator struct {
	store      Store
	provider   SessionProvider
	publicBase string
	logger     zerolog.Logger
}

// NewCoordinator creates the coordinator. Pass a nil provider when RTC
// credentials are not configured.
func NewCoordinator(store Store, provider SessionProvider, publicBase string) *Coordinator {
	return &Coordinator{
		store:      store,
		provider:   provider,
		publicBase: publicBase,
		logger:     log.WithComponent("video"),
	}
}

// ActionFor maps an appointment status change to the required video action.
func ActionFor(oldStatus, newStatus model.AppointmentStatus) model.VideoAction {
	if oldStatus == newStatus {
		return model.VideoNoAction
	}
	switch newStatus {
	case model.ApptConfirmed:
		if oldStatus == model.ApptRescheduled {
			return model.VideoRecreate
		}
		return model.VideoCreate
	case model.ApptInProgress:
		return model.VideoStart
	case model.ApptCompleted:
		return model.VideoEnd
	case model.ApptCancelled, model.ApptNoShow:
		return model.VideoCancel
	case model.ApptRescheduled:
		return model.VideoRecreate
	}
	return model.VideoNoAction
}

// Handle reacts to an appointment status change. The lifecycle event is
// recorded win or lose; the returned error is informational only.
func (c *Coordinator) Handle(ctx context.Context, appt *model.Appointment, oldStatus model.AppointmentStatus) error {
	action := ActionFor(oldStatus, appt.Status)
	if action == model.VideoNoAction {
		return nil
	}
	if c.provider == nil {
		c.logger.Debug().
			Str(log.FieldAppointmentID, appt.ID.String()).
			Str("action", string(action)).
			Msg("video disabled, skipping action")
		return nil
	}

	var err error
	var sessionID uuid.UUID
	switch action {
	case model.VideoCreate:
		sessionID, err = c.create(ctx, appt)
	case model.VideoStart:
		sessionID, err = c.start(ctx, appt.ID)
	case model.VideoEnd:
		sessionID, err = c.end(ctx, appt.ID)
	case model.VideoCancel:
		sessionID, err = c.cancel(ctx, appt.ID)
	case model.VideoRecreate:
		if sessionID, err = c.cancel(ctx, appt.ID); err == nil {
			sessionID, err = c.create(ctx, appt)
		}
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.logger.Warn().Err(err).
			Str(log.FieldAppointmentID, appt.ID.String()).
			Str("action", string(action)).
			Msg("video action failed")
	}
	metrics.IncVideoAction(string(action), outcome)
	c.recordEvent(ctx, appt.ID, sessionID, string(action), "status_change", err)
	return err
}

// create provisions a session for the appointment and issues join links.
// Idempotent: an existing unfinished session for the appointment is kept.
func (c *Coordinator) create(ctx context.Context, appt *model.Appointment) (uuid.UUID, error) {
	existing, err := c.sessionFor(ctx, appt.ID)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil && !existing.Status.IsConcluded() {
		return existing.ID, nil
	}

	providerID, err := c.provider.CreateSession(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	now := time.Now().UTC()
	session := model.VideoSession{
		ID:                uuid.New(),
		AppointmentID:     appt.ID,
		PatientID:         appt.PatientID,
		DoctorID:          appt.DoctorID,
		ProviderSessionID: providerID,
		Status:            model.VideoCreated,
		ScheduledStart:    appt.ScheduledStartTime,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := c.store.Insert(ctx, rowstore.TableVideoSessions, session, nil); err != nil {
		return uuid.Nil, model.E(model.ErrVideoSessionCreationFailed, "session insert: %v", err)
	}

	if err := c.activate(ctx, &session); err != nil {
		return session.ID, err
	}
	return session.ID, nil
}

// activate issues join links and moves the session to ready. The patient
// link is mirrored onto the appointment row so clients see it immediately.
func (c *Coordinator) activate(ctx context.Context, session *model.VideoSession) error {
	urls := model.JoinURLs{
		PatientJoinURL: fmt.Sprintf("%s/video/%s/patient", c.publicBase, session.ID),
		DoctorJoinURL:  fmt.Sprintf("%s/video/%s/doctor", c.publicBase, session.ID),
		SessionID:      session.ID.String(),
		ExpiresAt:      time.Now().UTC().Add(joinURLValidity),
	}
	if err := c.store.Insert(ctx, rowstore.TableVideoURLs, urls, nil); err != nil {
		return model.E(model.ErrVideoSessionCreationFailed, "join url insert: %v", err)
	}

	if err := c.updateSession(ctx, session.ID, map[string]any{
		"status":     string(model.VideoReady),
		"updated_at": time.Now().UTC(),
	}); err != nil {
		return err
	}

	patch := map[string]any{"video_conference_link": urls.PatientJoinURL}
	if err := c.store.Update(ctx, rowstore.TableAppointments,
		[]rowstore.Filter{rowstore.Eq("id", session.AppointmentID)}, patch, nil); err != nil {
		return model.E(model.ErrDatabase, "appointment video link update: %v", err)
	}
	return nil
}

func (c *Coordinator) start(ctx context.Context, appointmentID uuid.UUID) (uuid.UUID, error) {
	session, err := c.sessionFor(ctx, appointmentID)
	if err != nil {
		return uuid.Nil, err
	}
	if session == nil {
		return uuid.Nil, model.E(model.ErrVideoSessionNotFound, "appointment %s", appointmentID)
	}
	now := time.Now().UTC()
	return session.ID, c.updateSession(ctx, session.ID, map[string]any{
		"status":            string(model.VideoActive),
		"actual_start_time": now,
		"updated_at":        now,
	})
}

func (c *Coordinator) end(ctx context.Context, appointmentID uuid.UUID) (uuid.UUID, error) {
	session, err := c.sessionFor(ctx, appointmentID)
	if err != nil {
		return uuid.Nil, err
	}
	if session == nil {
		return uuid.Nil, model.E(model.ErrVideoSessionNotFound, "appointment %s", appointmentID)
	}

	now := time.Now().UTC()
	patch := map[string]any{
		"status":          string(model.VideoEnded),
		"actual_end_time": now,
		"updated_at":      now,
	}
	if session.ActualStart != nil {
		patch["session_duration_minutes"] = int(now.Sub(*session.ActualStart).Minutes())
	}
	if err := c.updateSession(ctx, session.ID, patch); err != nil {
		return session.ID, err
	}

	c.expireURLs(ctx, session.ID)
	if err := c.provider.EndSession(ctx, session.ProviderSessionID); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldSessionID, session.ID.String()).Msg("provider session release failed")
	}
	return session.ID, nil
}

func (c *Coordinator) cancel(ctx context.Context, appointmentID uuid.UUID) (uuid.UUID, error) {
	session, err := c.sessionFor(ctx, appointmentID)
	if err != nil {
		return uuid.Nil, err
	}
	if session == nil || session.Status.IsConcluded() {
		// Nothing to cancel; rescheduling before confirmation is normal.
		return uuid.Nil, nil
	}

	if err := c.updateSession(ctx, session.ID, map[string]any{
		"status":     string(model.VideoCancelled),
		"updated_at": time.Now().UTC(),
	}); err != nil {
		return session.ID, err
	}
	c.expireURLs(ctx, session.ID)

	patch := map[string]any{"video_conference_link": ""}
	if err := c.store.Update(ctx, rowstore.TableAppointments,
		[]rowstore.Filter{rowstore.Eq("id", appointmentID)}, patch, nil); err != nil {
		return session.ID, model.E(model.ErrDatabase, "appointment video link clear: %v", err)
	}
	if err := c.provider.EndSession(ctx, session.ProviderSessionID); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldSessionID, session.ID.String()).Msg("provider session release failed")
	}
	return session.ID, nil
}

// Sweep is the periodic maintenance pass: sessions approaching their start
// are activated, and sessions that never started are marked failed.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) error {
	if c.provider == nil {
		return nil
	}
	now = now.UTC()

	var pending []model.VideoSession
	q := rowstore.Query{
		Table: rowstore.TableVideoSessions,
		Filters: []rowstore.Filter{
			rowstore.Eq("status", string(model.VideoCreated)),
			rowstore.Lte("scheduled_start_time", now.Add(activationLead)),
			rowstore.Gte("scheduled_start_time", now.Add(-staleAfter)),
		},
	}
	if err := c.store.Select(ctx, q, &pending); err != nil {
		return model.E(model.ErrDatabase, "pending session scan: %v", err)
	}
	for i := range pending {
		if err := c.activate(ctx, &pending[i]); err != nil {
			c.logger.Warn().Err(err).
				Str(log.FieldSessionID, pending[i].ID.String()).
				Msg("session activation failed")
			metrics.IncVideoAction(string(model.VideoActivate), "error")
			continue
		}
		metrics.IncVideoAction(string(model.VideoActivate), "ok")
		c.recordEvent(ctx, pending[i].AppointmentID, pending[i].ID, string(model.VideoActivate), "sweeper", nil)
	}

	for _, status := range []model.VideoSessionStatus{model.VideoCreated, model.VideoReady} {
		var stale []model.VideoSession
		sq := rowstore.Query{
			Table: rowstore.TableVideoSessions,
			Filters: []rowstore.Filter{
				rowstore.Eq("status", string(status)),
				rowstore.Lt("scheduled_start_time", now.Add(-staleAfter)),
			},
		}
		if err := c.store.Select(ctx, sq, &stale); err != nil {
			return model.E(model.ErrDatabase, "stale session scan: %v", err)
		}
		for i := range stale {
			if err := c.updateSession(ctx, stale[i].ID, map[string]any{
				"status":     string(model.VideoFailed),
				"updated_at": now,
			}); err != nil {
				c.logger.Warn().Err(err).
					Str(log.FieldSessionID, stale[i].ID.String()).
					Msg("stale session update failed")
				continue
			}
			c.expireURLs(ctx, stale[i].ID)
			c.logger.Info().
				Str(log.FieldSessionID, stale[i].ID.String()).
				Str(log.FieldAppointmentID, stale[i].AppointmentID.String()).
				Msg("stale video session marked failed")
			c.recordEvent(ctx, stale[i].AppointmentID, stale[i].ID, "expire", "sweeper", nil)
		}
	}
	return nil
}

// RunSweeper loops Sweep at the given interval until ctx is cancelled.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sweep(ctx, time.Now()); err != nil {
				c.logger.Warn().Err(err).Msg("video sweep failed")
			}
		}
	}
}

// sessionFor returns the newest session row for an appointment, or nil.
func (c *Coordinator) sessionFor(ctx context.Context, appointmentID uuid.UUID) (*model.VideoSession, error) {
	var sessions []model.VideoSession
	q := rowstore.Query{
		Table:   rowstore.TableVideoSessions,
		Filters: []rowstore.Filter{rowstore.Eq("appointment_id", appointmentID)},
		Order:   "created_at.desc",
		Limit:   1,
	}
	if err := c.store.Select(ctx, q, &sessions); err != nil {
		return nil, model.E(model.ErrDatabase, "session lookup: %v", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

func (c *Coordinator) updateSession(ctx context.Context, id uuid.UUID, patch map[string]any) error {
	if err := c.store.Update(ctx, rowstore.TableVideoSessions,
		[]rowstore.Filter{rowstore.Eq("id", id)}, patch, nil); err != nil {
		return model.E(model.ErrDatabase, "session update: %v", err)
	}
	return nil
}

// expireURLs invalidates join links immediately. Best-effort.
func (c *Coordinator) expireURLs(ctx context.Context, sessionID uuid.UUID) {
	patch := map[string]any{"expires_at": time.Now().UTC()}
	if err := c.store.Update(ctx, rowstore.TableVideoURLs,
		[]rowstore.Filter{rowstore.Eq("session_id", sessionID.String())}, patch, nil); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID.String()).Msg("join url expiry failed")
	}
}

// recordEvent appends an audit row. Best-effort.
func (c *Coordinator) recordEvent(ctx context.Context, appointmentID, sessionID uuid.UUID, eventType, trigger string, actionErr error) {
	event := model.VideoLifecycleEvent{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		SessionID:     sessionID,
		EventType:     eventType,
		TriggeredBy:   trigger,
		Success:       actionErr == nil,
		Timestamp:     time.Now().UTC(),
	}
	if actionErr != nil {
		event.ErrorMessage = actionErr.Error()
	}
	if err := c.store.Insert(ctx, rowstore.TableVideoEvents, event, nil); err != nil {
		c.logger.Warn().Err(err).
			Str(log.FieldAppointmentID, appointmentID.String()).
			Msg("lifecycle event insert failed")
	}
}
