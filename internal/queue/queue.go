// Package queue is the durable FIFO of booking jobs, backed by Redis.
//
// Each job lives in a hash under booking_job:{id} with a 7-day TTL; pending
// job IDs wait in the booking_jobs:pending list; per-day completion counters
// live under booking_stats:{date}:{completed|failed}.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/amaeclinic/televisit/internal/config"
	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/metrics"
	"github.com/amaeclinic/televisit/internal/model"
)

const (
	jobKeyPrefix   = "booking_job:"
	pendingListKey = "booking_jobs:pending"
	statsKeyPrefix = "booking_stats:"
	jobTTL         = 7 * 24 * time.Hour
	dateLayout     = "2006-01-02"

	defaultMaxRetries = 3
)

// Publisher receives job status updates for fan-out to subscribers.
type Publisher interface {
	Publish(update model.BookingUpdate)
}

// Queue persists booking jobs and enforces the status DAG.
type Queue struct {
	rdb        *redis.Client
	maxRetries int
	pub        Publisher
	logger     zerolog.Logger
}

// New connects to Redis and returns the queue. The connection is verified
// with a bounded ping. A nil publisher disables update fan-out.
func New(cfg config.Redis, maxRetries int, pub Publisher) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewWithClient(client, maxRetries, pub), nil
}

// NewWithClient wraps an existing Redis client (used by tests).
func NewWithClient(client *redis.Client, maxRetries int, pub Publisher) *Queue {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Queue{
		rdb:        client,
		maxRetries: maxRetries,
		pub:        pub,
		logger:     log.WithComponent("queue"),
	}
}

func jobKey(id uuid.UUID) string { return jobKeyPrefix + id.String() }

func statsKey(day time.Time, outcome string) string {
	return statsKeyPrefix + day.UTC().Format(dateLayout) + ":" + outcome
}

// Enqueue persists a new job and appends it to the pending list.
func (q *Queue) Enqueue(ctx context.Context, req model.BookingRequest) (*model.BookingJob, error) {
	now := time.Now().UTC()
	job := &model.BookingJob{
		JobID:      uuid.New(),
		PatientID:  req.PatientID,
		Request:    req,
		Status:     model.StatusQueued,
		MaxRetries: q.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	if err := q.rdb.LPush(ctx, pendingListKey, job.JobID.String()).Err(); err != nil {
		return nil, model.E(model.ErrDatabase, "enqueue push failed: %v", err)
	}
	q.logger.Info().
		Str(log.FieldJobID, job.JobID.String()).
		Str(log.FieldPatientID, job.PatientID.String()).
		Msg("booking job enqueued")
	return job, nil
}

// Dequeue pops the oldest pending job, stamps the worker identity, and
// moves it to processing. Returns (nil, nil) when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*model.BookingJob, error) {
	idStr, err := q.rdb.RPop(ctx, pendingListKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, model.E(model.ErrDatabase, "dequeue pop failed: %v", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		q.logger.Warn().Str(log.FieldJobID, idStr).Msg("discarding malformed job id from pending list")
		return nil, nil
	}

	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Job hash expired while queued; skip it.
		return nil, nil
	}
	if job.Status == model.StatusCancelled {
		return nil, nil
	}

	if err := ValidateTransition(job.Status, model.StatusProcessing); err != nil {
		return nil, err
	}
	metrics.IncJobTransition(string(job.Status), string(model.StatusProcessing))
	job.Status = model.StatusProcessing
	job.WorkerID = workerID
	job.UpdatedAt = time.Now().UTC()
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get loads a job by ID, or (nil, nil) when unknown or expired.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*model.BookingJob, error) {
	data, err := q.rdb.HGet(ctx, jobKey(id), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, model.E(model.ErrDatabase, "job fetch failed: %v", err)
	}
	var job model.BookingJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, model.E(model.ErrDatabase, "job decode failed: %v", err)
	}
	return &job, nil
}

// UpdateStatus moves a job along the DAG, stamping completion time on
// terminal states and bumping the daily counters.
func (q *Queue) UpdateStatus(ctx context.Context, id uuid.UUID, status model.BookingStatus, errorMessage string) (*model.BookingJob, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, model.E(model.ErrNotFound, "booking job %s", id)
	}
	if err := ValidateTransition(job.Status, status); err != nil {
		return nil, err
	}
	metrics.IncJobTransition(string(job.Status), string(status))

	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	job.ErrorMessage = errorMessage
	if status.IsTerminal() {
		job.CompletedAt = &now
		metrics.IncJobResult(string(status))
		switch status {
		case model.StatusCompleted:
			q.bumpStat(ctx, now, "completed")
		case model.StatusFailed:
			q.bumpStat(ctx, now, "failed")
		}
	}
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Retry re-queues a failed job with an incremented retry counter. The
// worker identity and error message are cleared so the next attempt starts
// clean.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) (*model.BookingJob, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, model.E(model.ErrNotFound, "booking job %s", id)
	}
	if !job.CanRetry() {
		return nil, model.E(model.ErrValidation, "job %s is not retryable (status=%s retries=%d/%d)",
			id, job.Status, job.RetryCount, job.MaxRetries)
	}

	metrics.IncJobTransition(string(job.Status), string(model.StatusRetrying))
	metrics.IncJobTransition(string(model.StatusRetrying), string(model.StatusQueued))
	metrics.IncJobResult("retried")

	job.Status = model.StatusQueued
	job.RetryCount++
	job.WorkerID = ""
	job.ErrorMessage = ""
	job.CompletedAt = nil
	job.UpdatedAt = time.Now().UTC()
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	if err := q.rdb.LPush(ctx, pendingListKey, job.JobID.String()).Err(); err != nil {
		return nil, model.E(model.ErrDatabase, "retry push failed: %v", err)
	}
	q.logger.Info().
		Str(log.FieldJobID, id.String()).
		Int("retry_count", job.RetryCount).
		Msg("booking job re-queued for retry")
	return job, nil
}

// Cancel marks a non-terminal job cancelled and notifies subscribers.
// Workers skip cancelled jobs when they surface from the pending list.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) (*model.BookingJob, error) {
	job, err := q.UpdateStatus(ctx, id, model.StatusCancelled, "")
	if err != nil {
		return nil, err
	}
	if q.pub != nil {
		q.pub.Publish(model.UpdateFor(id, model.StatusCancelled))
	}
	return job, nil
}

// Stats summarises queue health: pending depth plus today's counters.
func (q *Queue) Stats(ctx context.Context, activeWorkers int) (*model.QueueStats, error) {
	pending, err := q.rdb.LLen(ctx, pendingListKey).Result()
	if err != nil {
		return nil, model.E(model.ErrDatabase, "queue length failed: %v", err)
	}
	metrics.SetQueueDepth(pending)

	now := time.Now().UTC()
	completed, _ := q.rdb.Get(ctx, statsKey(now, "completed")).Int64()
	failed, _ := q.rdb.Get(ctx, statsKey(now, "failed")).Int64()

	health := "healthy"
	switch {
	case pending > 100:
		health = "critical"
	case pending > 25:
		health = "degraded"
	}

	return &model.QueueStats{
		QueuedJobs:     pending,
		CompletedToday: completed,
		FailedToday:    failed,
		ActiveWorkers:  activeWorkers,
		QueueHealth:    health,
	}, nil
}

// CleanupExpired drops pending list entries whose job hash has expired.
// Returns the number of entries removed.
func (q *Queue) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := q.rdb.LRange(ctx, pendingListKey, 0, -1).Result()
	if err != nil {
		return 0, model.E(model.ErrDatabase, "pending scan failed: %v", err)
	}
	removed := 0
	for _, idStr := range ids {
		exists, err := q.rdb.Exists(ctx, jobKeyPrefix+idStr).Result()
		if err != nil {
			return removed, model.E(model.ErrDatabase, "pending probe failed: %v", err)
		}
		if exists == 0 {
			if err := q.rdb.LRem(ctx, pendingListKey, 1, idStr).Err(); err != nil {
				return removed, model.E(model.ErrDatabase, "pending trim failed: %v", err)
			}
			removed++
		}
	}
	if removed > 0 {
		q.logger.Info().Int("count", removed).Msg("removed expired jobs from pending list")
	}
	return removed, nil
}

// Ping verifies the Redis backend is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

func (q *Queue) save(ctx context.Context, job *model.BookingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return model.E(model.ErrDatabase, "job encode failed: %v", err)
	}
	key := jobKey(job.JobID)
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"data":       string(data),
		"status":     string(job.Status),
		"created_at": job.CreatedAt.Format(time.RFC3339),
		"patient_id": job.PatientID.String(),
	})
	pipe.Expire(ctx, key, jobTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.E(model.ErrDatabase, "job save failed: %v", err)
	}
	return nil
}

func (q *Queue) bumpStat(ctx context.Context, day time.Time, outcome string) {
	key := statsKey(day, outcome)
	if err := q.rdb.Incr(ctx, key).Err(); err != nil {
		q.logger.Warn().Err(err).Str(log.FieldKey, key).Msg("daily stat increment failed")
		return
	}
	// Counters expire with the jobs they describe.
	_ = q.rdb.Expire(ctx, key, jobTTL).Err()
}
