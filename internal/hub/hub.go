// Package hub fans booking progress updates out to per-job subscribers and
// a global firehose. Delivery is best-effort: a slow or departed subscriber
// drops the event rather than stalling the pipeline.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/metrics"
	"github.com/amaeclinic/televisit/internal/model"
)

const subscriberBuffer = 64

// GlobalUpdate is the envelope published on the firehose channel.
type GlobalUpdate struct {
	Type      string              `json:"type"`
	JobID     uuid.UUID           `json:"job_id"`
	Timestamp time.Time           `json:"timestamp"`
	Data      model.BookingUpdate `json:"data"`
}

// Hub routes updates to subscribers.
type Hub struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]chan model.BookingUpdate
	global []chan GlobalUpdate
	closed bool
	logger zerolog.Logger
}

// New creates a hub.
func New() *Hub {
	return &Hub{
		jobs:   make(map[uuid.UUID]chan model.BookingUpdate),
		logger: log.WithComponent("hub"),
	}
}

// Subscribe opens the progress channel for one job. A second subscription
// for the same job replaces the first (last writer wins); the previous
// channel is closed.
func (h *Hub) Subscribe(jobID uuid.UUID) <-chan model.BookingUpdate {
	ch := make(chan model.BookingUpdate, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	if prev, ok := h.jobs[jobID]; ok {
		close(prev)
	}
	h.jobs[jobID] = ch
	return ch
}

// Unsubscribe closes and removes a job's channel.
func (h *Hub) Unsubscribe(jobID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.jobs[jobID]; ok {
		close(ch)
		delete(h.jobs, jobID)
	}
}

// SubscribeGlobal opens a firehose channel receiving every update.
func (h *Hub) SubscribeGlobal() <-chan GlobalUpdate {
	ch := make(chan GlobalUpdate, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.global = append(h.global, ch)
	return ch
}

// Publish delivers an update to the job's subscriber (if any) and every
// global subscriber. Full buffers drop the event.
func (h *Hub) Publish(update model.BookingUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}

	// The read lock is held across the sends: Subscribe, Unsubscribe, and
	// Close all close channels under the write lock, so a send can never
	// race a close.
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	if jobCh, hasJob := h.jobs[update.JobID]; hasJob {
		select {
		case jobCh <- update:
			metrics.IncHubEvent("delivered")
		default:
			metrics.IncHubEvent("dropped")
			h.logger.Debug().
				Str(log.FieldJobID, update.JobID.String()).
				Str(log.FieldNewStatus, string(update.Status)).
				Msg("dropped update for slow subscriber")
		}
	}

	env := GlobalUpdate{
		Type:      "booking_update",
		JobID:     update.JobID,
		Timestamp: update.Timestamp,
		Data:      update,
	}
	for _, ch := range h.global {
		select {
		case ch <- env:
			metrics.IncHubEvent("delivered")
		default:
			metrics.IncHubEvent("dropped")
		}
	}
}

// Close shuts the hub down, closing every subscriber channel. Publishes
// after Close are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.jobs {
		close(ch)
		delete(h.jobs, id)
	}
	for _, ch := range h.global {
		close(ch)
	}
	h.global = nil
}
