package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/amaeclinic/televisit/internal/config"
	"github.com/amaeclinic/televisit/internal/hub"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeJobQueue hands out scripted jobs and records the calls made against it.
type fakeJobQueue struct {
	mu       sync.Mutex
	pending  []*model.BookingJob
	updates  []model.BookingStatus
	retries  []uuid.UUID
	workerID string
	done     chan struct{} // closed after the first terminal status write
	once     sync.Once
}

func newFakeJobQueue(jobs ...*model.BookingJob) *fakeJobQueue {
	return &fakeJobQueue{pending: jobs, done: make(chan struct{})}
}

func (q *fakeJobQueue) Dequeue(_ context.Context, workerID string) (*model.BookingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	q.workerID = workerID
	job.Status = model.StatusProcessing
	return job, nil
}

func (q *fakeJobQueue) UpdateStatus(_ context.Context, id uuid.UUID, status model.BookingStatus, _ string) (*model.BookingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = append(q.updates, status)
	if status == model.StatusCompleted || status == model.StatusFailed {
		q.once.Do(func() { close(q.done) })
	}
	return &model.BookingJob{JobID: id, Status: status, MaxRetries: 3}, nil
}

func (q *fakeJobQueue) Retry(_ context.Context, id uuid.UUID) (*model.BookingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retries = append(q.retries, id)
	return &model.BookingJob{JobID: id, Status: model.StatusRetrying}, nil
}

func (q *fakeJobQueue) Stats(context.Context, int) (*model.QueueStats, error) {
	return &model.QueueStats{QueueHealth: "healthy"}, nil
}

func (q *fakeJobQueue) CleanupExpired(context.Context) (int, error) { return 0, nil }

func (q *fakeJobQueue) statuses() []model.BookingStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.BookingStatus, len(q.updates))
	copy(out, q.updates)
	return out
}

func (q *fakeJobQueue) retryCalls() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]uuid.UUID, len(q.retries))
	copy(out, q.retries)
	return out
}

func poolConfig() config.Worker {
	return config.Worker{
		PoolSize:       2,
		JobTimeout:     5 * time.Second,
		RetryDelay:     time.Millisecond,
		HealthInterval: time.Hour, // keep the health loop quiet during tests
		MaxRetries:     3,
	}
}

// runPool starts the pool on the given queue and pipeline, returning a stop
// function that cancels and waits for every loop to drain.
func runPool(t *testing.T, queue *fakeJobQueue, pipeline *worker.Pipeline, h *hub.Hub) func() {
	t.Helper()
	pool := worker.NewPool(queue, h, pipeline, poolConfig())
	worker.SetSleepForTest(pool, func(time.Duration) { time.Sleep(time.Millisecond) })

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- pool.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-stopped:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func successPipeline(updater worker.StatusUpdater) *worker.Pipeline {
	return worker.NewPipeline(
		updater,
		&fakeMatcher{result: matchedDoctor()},
		&fakeSlotSource{slots: []model.AvailableSlot{futureSlot(24*time.Hour, 30)}},
		&fakeBooker{},
		&fakeAlternatives{},
	)
}

func TestPool_CompletesJob(t *testing.T) {
	queue := newFakeJobQueue(testJob())
	h := hub.New()
	defer h.Close()

	stop := runPool(t, queue, successPipeline(queue), h)
	defer stop()

	select {
	case <-queue.done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached a terminal status")
	}

	statuses := queue.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, model.StatusCompleted, statuses[len(statuses)-1])
	assert.Equal(t, append(append([]model.BookingStatus{}, pipelineSteps...), model.StatusCompleted), statuses)
	assert.Contains(t, queue.workerID, "-w")
}

func TestPool_PublishesProgress(t *testing.T) {
	job := testJob()
	queue := newFakeJobQueue(job)
	h := hub.New()
	defer h.Close()
	events := h.Subscribe(job.JobID)

	stop := runPool(t, queue, successPipeline(queue), h)
	defer stop()

	want := append([]model.BookingStatus{model.StatusProcessing}, pipelineSteps...)
	want = append(want, model.StatusCompleted)
	for _, expected := range want {
		select {
		case update := <-events:
			assert.Equal(t, expected, update.Status)
			if expected == model.StatusCompleted {
				assert.NotNil(t, update.Result)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", expected)
		}
	}
}

func TestPool_RetriesTransientFailure(t *testing.T) {
	job := testJob()
	queue := newFakeJobQueue(job)
	h := hub.New()
	defer h.Close()

	// Doctor lookup fails with a transient infrastructure error.
	pipeline := worker.NewPipeline(
		queue,
		&fakeMatcher{err: model.E(model.ErrDatabase, "doctor lookup timed out")},
		&fakeSlotSource{},
		&fakeBooker{},
		&fakeAlternatives{},
	)

	stop := runPool(t, queue, pipeline, h)

	select {
	case <-queue.done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never failed")
	}
	require.Eventually(t, func() bool { return len(queue.retryCalls()) > 0 },
		5*time.Second, 10*time.Millisecond, "retryable failure must be requeued")
	stop()

	assert.Contains(t, queue.statuses(), model.StatusFailed)
	assert.Equal(t, job.JobID, queue.retryCalls()[0])
}

func TestPool_DoesNotRetryFinalFailure(t *testing.T) {
	finals := map[string]error{
		"validation":         model.E(model.ErrValidation, "bad request"),
		"conflict":           model.E(model.ErrConflictDetected, "appointment overlap detected"),
		"slot taken":         model.E(model.ErrSlotNotAvailable, "slot already booked"),
		"no doctor":          model.E(model.ErrDoctorNotFound, "unknown specialty"),
		"doctor unavailable": model.E(model.ErrDoctorNotAvailable, "no open slots"),
	}
	for name, jobErr := range finals {
		t.Run(name, func(t *testing.T) {
			queue := newFakeJobQueue(testJob())
			h := hub.New()
			defer h.Close()

			pipeline := worker.NewPipeline(
				queue,
				&fakeMatcher{err: jobErr},
				&fakeSlotSource{},
				&fakeBooker{},
				&fakeAlternatives{},
			)

			stop := runPool(t, queue, pipeline, h)

			select {
			case <-queue.done:
			case <-time.After(5 * time.Second):
				t.Fatal("job never failed")
			}
			// Give the pool a beat to (incorrectly) schedule a retry.
			time.Sleep(50 * time.Millisecond)
			stop()

			assert.Contains(t, queue.statuses(), model.StatusFailed)
			assert.Empty(t, queue.retryCalls())
		})
	}
}

func TestPool_IdentityIsUnique(t *testing.T) {
	queue := newFakeJobQueue()
	h := hub.New()
	defer h.Close()

	a := worker.NewPool(queue, h, successPipeline(queue), poolConfig())
	b := worker.NewPool(queue, h, successPipeline(queue), poolConfig())
	assert.NotEqual(t, a.Identity(), b.Identity())
}
