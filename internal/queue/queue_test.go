package queue_test

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	return newTestQueueWithPublisher(t, nil)
}

func newTestQueueWithPublisher(t *testing.T, pub queue.Publisher) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewWithClient(client, 3, pub)
}

// recordingPublisher captures published updates for assertions.
type recordingPublisher struct {
	mu      sync.Mutex
	updates []model.BookingUpdate
}

func (p *recordingPublisher) Publish(u model.BookingUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func (p *recordingPublisher) all() []model.BookingUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.BookingUpdate, len(p.updates))
	copy(out, p.updates)
	return out
}

// jobResultValue reads the booking jobs counter for one result label.
func jobResultValue(t *testing.T, result string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "televisit_booking_jobs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func testRequest() model.BookingRequest {
	return model.BookingRequest{
		PatientID:       uuid.New(),
		Specialty:       "cardiology",
		Urgency:         model.UrgencyNormal,
		AppointmentType: model.TypeGeneralConsultation,
		ReasonForVisit:  "chest pain follow-up",
	}
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, job.Status)
	assert.Equal(t, 3, job.MaxRetries)
	assert.NotEqual(t, uuid.Nil, job.JobID)

	got, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, model.StatusProcessing, got.Status)
	assert.Equal(t, "worker-1", got.WorkerID)
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := newTestQueue(t)

	got, err := q.Dequeue(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)

	got1, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)
	got2, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)

	assert.Equal(t, first.JobID, got1.JobID)
	assert.Equal(t, second.JobID, got2.JobID)
}

func TestQueue_Get(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)

	got, err := q.Get(ctx, job.JobID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.PatientID, got.PatientID)
	assert.Equal(t, "cardiology", got.Request.Specialty)

	missing, err := q.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQueue_UpdateStatus_ValidPath(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "w")
	require.NoError(t, err)

	before := jobResultValue(t, "completed")
	for _, status := range []model.BookingStatus{
		model.StatusDoctorMatching,
		model.StatusAvailabilityCheck,
		model.StatusSlotSelection,
		model.StatusAppointmentCreation,
		model.StatusAlternativeGeneration,
		model.StatusCompleted,
	} {
		updated, err := q.UpdateStatus(ctx, job.JobID, status, "")
		require.NoError(t, err, "to %s", status)
		assert.Equal(t, status, updated.Status)
	}

	final, err := q.Get(ctx, job.JobID)
	require.NoError(t, err)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, before+1, jobResultValue(t, "completed"))
}

func TestQueue_UpdateStatus_InvalidEdge(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)

	_, err = q.UpdateStatus(ctx, job.JobID, model.StatusCompleted, "")
	assert.ErrorIs(t, err, model.ErrInvalidStatusTransition)
}

func TestQueue_UpdateStatus_Unknown(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.UpdateStatus(context.Background(), uuid.New(), model.StatusFailed, "boom")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestQueue_Retry(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "w")
	require.NoError(t, err)
	_, err = q.UpdateStatus(ctx, job.JobID, model.StatusFailed, "transient")
	require.NoError(t, err)

	retried, err := q.Retry(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.WorkerID)
	assert.Empty(t, retried.ErrorMessage)
	assert.Nil(t, retried.CompletedAt)

	got, err := q.Dequeue(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.JobID, got.JobID)
}

func TestQueue_Retry_BudgetExhausted(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = q.Dequeue(ctx, "w")
		require.NoError(t, err)
		_, err = q.UpdateStatus(ctx, job.JobID, model.StatusFailed, "transient")
		require.NoError(t, err)
		if i < 2 {
			_, err = q.Retry(ctx, job.JobID)
			require.NoError(t, err)
		}
	}

	_, err = q.Retry(ctx, job.JobID)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "w")
	require.NoError(t, err)
	_, err = q.UpdateStatus(ctx, job.JobID, model.StatusFailed, "transient")
	require.NoError(t, err)

	_, err = q.Retry(ctx, job.JobID)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestQueue_Retry_NotFailed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)

	_, err = q.Retry(ctx, job.JobID)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestQueue_CancelPublishesUpdate(t *testing.T) {
	pub := &recordingPublisher{}
	q := newTestQueueWithPublisher(t, pub)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)

	before := jobResultValue(t, "cancelled")
	cancelled, err := q.Cancel(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	updates := pub.all()
	require.Len(t, updates, 1)
	assert.Equal(t, job.JobID, updates[0].JobID)
	assert.Equal(t, model.StatusCancelled, updates[0].Status)
	assert.Equal(t, 100, updates[0].ProgressPercentage)
	assert.Equal(t, before+1, jobResultValue(t, "cancelled"))
}

func TestQueue_CancelUnknownJobPublishesNothing(t *testing.T) {
	pub := &recordingPublisher{}
	q := newTestQueueWithPublisher(t, pub)

	_, err := q.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, pub.all())
}

func TestQueue_CancelledJobSkippedOnDequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)
	_, err = q.Cancel(ctx, job.JobID)
	require.NoError(t, err)

	got, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_Stats(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testRequest())
	require.NoError(t, err)

	stats, err := q.Stats(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.QueuedJobs)
	assert.Equal(t, 2, stats.ActiveWorkers)
	assert.Equal(t, "healthy", stats.QueueHealth)

	// The oldest job comes off first.
	dq, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)
	require.Equal(t, job.JobID, dq.JobID)
	for _, status := range []model.BookingStatus{
		model.StatusDoctorMatching,
		model.StatusAvailabilityCheck,
		model.StatusSlotSelection,
		model.StatusAppointmentCreation,
		model.StatusAlternativeGeneration,
		model.StatusCompleted,
	} {
		_, err = q.UpdateStatus(ctx, job.JobID, status, "")
		require.NoError(t, err)
	}

	stats, err = q.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CompletedToday)
}

func TestQueue_CleanupExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.NewWithClient(client, 3, nil)
	ctx := context.Background()

	stale, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)
	live, err := q.Enqueue(ctx, testRequest())
	require.NoError(t, err)

	// Simulate the job hash expiring while the ID still sits in the list.
	mr.Del("booking_job:" + stale.JobID.String())

	removed, err := q.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, live.JobID, got.JobID)
}
