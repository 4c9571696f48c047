// Package worker runs the booking pipeline: a pool of loops draining the
// job queue, a health loop reporting queue stats, and graceful shutdown.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/amaeclinic/televisit/internal/config"
	"github.com/amaeclinic/televisit/internal/hub"
	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/model"
)

const (
	idlePause       = 100 * time.Millisecond
	dequeueErrPause = 5 * time.Second
)

// JobQueue is the queue contract the pool drains.
type JobQueue interface {
	Dequeue(ctx context.Context, workerID string) (*model.BookingJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.BookingStatus, errorMessage string) (*model.BookingJob, error)
	Retry(ctx context.Context, id uuid.UUID) (*model.BookingJob, error)
	Stats(ctx context.Context, activeWorkers int) (*model.QueueStats, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// Publisher pushes progress events to subscribers.
type Publisher interface {
	Publish(update model.BookingUpdate)
}

// Pool owns the worker goroutines.
type Pool struct {
	queue    JobQueue
	hub      Publisher
	pipeline *Pipeline
	cfg      config.Worker
	identity string
	active   atomic.Int32
	sleep    func(time.Duration) // test seam
	logger   zerolog.Logger
}

// NewPool creates the pool. The pipeline performs the per-job work.
func NewPool(queue JobQueue, h *hub.Hub, pipeline *Pipeline, cfg config.Worker) *Pool {
	host, _ := os.Hostname()
	identity := fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
	return &Pool{
		queue:    queue,
		hub:      h,
		pipeline: pipeline,
		cfg:      cfg,
		identity: identity,
		sleep:    time.Sleep,
		logger:   log.WithComponent("worker").With().Str(log.FieldWorkerID, identity).Logger(),
	}
}

// Identity returns the stable owner string used for dequeue stamping and
// slot locks.
func (p *Pool) Identity() string { return p.identity }

// Run starts the worker loops and the health loop, blocking until ctx is
// cancelled and every loop has drained.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().Int("pool_size", p.cfg.PoolSize).Msg("booking worker pool starting")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.PoolSize; i++ {
		n := i
		g.Go(func() error {
			p.workerLoop(gctx, n)
			return nil
		})
	}
	g.Go(func() error {
		p.healthLoop(gctx)
		return nil
	})

	err := g.Wait()
	p.logger.Info().Msg("booking worker pool stopped")
	return err
}

func (p *Pool) workerLoop(ctx context.Context, n int) {
	workerID := fmt.Sprintf("%s-w%d", p.identity, n)
	logger := p.logger.With().Str(log.FieldWorkerID, workerID).Logger()
	logger.Debug().Msg("worker loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("worker loop stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("dequeue failed")
			p.sleep(dequeueErrPause)
			continue
		}
		if job == nil {
			p.sleep(idlePause)
			continue
		}

		p.active.Add(1)
		p.handle(ctx, logger, job)
		p.active.Add(-1)
	}
}

// handle drives one job through the pipeline under the job timeout, then
// records the outcome and schedules a retry when the failure is transient.
func (p *Pool) handle(ctx context.Context, logger zerolog.Logger, job *model.BookingJob) {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()
	jobCtx = log.ContextWithJobID(jobCtx, job.JobID.String())

	logger.Info().
		Str(log.FieldJobID, job.JobID.String()).
		Str(log.FieldPatientID, job.PatientID.String()).
		Int(log.FieldAttempt, job.RetryCount+1).
		Msg("processing booking job")
	p.hub.Publish(model.UpdateFor(job.JobID, model.StatusProcessing))

	result, err := p.pipeline.Run(jobCtx, job, p.hub)
	if err == nil {
		p.complete(ctx, logger, job, result)
		return
	}
	p.fail(ctx, logger, job, err)
}

func (p *Pool) complete(ctx context.Context, logger zerolog.Logger, job *model.BookingJob, result *model.BookingResult) {
	if _, err := p.queue.UpdateStatus(ctx, job.JobID, model.StatusCompleted, ""); err != nil {
		logger.Error().Err(err).Str(log.FieldJobID, job.JobID.String()).Msg("completion status update failed")
	}
	update := model.UpdateFor(job.JobID, model.StatusCompleted)
	update.Result = result
	p.hub.Publish(update)
	logger.Info().
		Str(log.FieldJobID, job.JobID.String()).
		Str(log.FieldAppointmentID, result.AppointmentID.String()).
		Int64("processing_time_ms", result.ProcessingTimeMS).
		Msg("booking job completed")
}

func (p *Pool) fail(ctx context.Context, logger zerolog.Logger, job *model.BookingJob, jobErr error) {
	failed, err := p.queue.UpdateStatus(ctx, job.JobID, model.StatusFailed, jobErr.Error())
	if err != nil {
		logger.Error().Err(err).Str(log.FieldJobID, job.JobID.String()).Msg("failure status update failed")
		return
	}

	update := model.UpdateFor(job.JobID, model.StatusFailed)
	update.ErrorDetails = jobErr.Error()
	p.hub.Publish(update)
	logger.Warn().
		Err(jobErr).
		Str(log.FieldJobID, job.JobID.String()).
		Int("retry_count", failed.RetryCount).
		Msg("booking job failed")

	if !model.IsRetryable(jobErr) || !failed.CanRetry() {
		return
	}

	p.sleep(p.cfg.RetryDelay)
	if ctx.Err() != nil {
		return
	}
	if _, err := p.queue.Retry(ctx, job.JobID); err != nil {
		logger.Error().Err(err).Str(log.FieldJobID, job.JobID.String()).Msg("retry enqueue failed")
		return
	}
	p.hub.Publish(model.UpdateFor(job.JobID, model.StatusRetrying))
}

// healthLoop periodically reports queue depth and trims pending entries
// whose job hash already expired.
func (p *Pool) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := p.queue.Stats(ctx, int(p.active.Load()))
			if err != nil {
				p.logger.Warn().Err(err).Msg("queue stats failed")
				continue
			}
			p.logger.Info().
				Int64("queued", stats.QueuedJobs).
				Int64("completed_today", stats.CompletedToday).
				Int64("failed_today", stats.FailedToday).
				Int("active_workers", stats.ActiveWorkers).
				Str("health", stats.QueueHealth).
				Msg("queue health")

			if removed, err := p.queue.CleanupExpired(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("expired job cleanup failed")
			} else if removed > 0 {
				p.logger.Info().Int("removed", removed).Msg("expired jobs trimmed")
			}
		}
	}
}
