package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	"github.com/paperplanet/paperplanet-backend/internal/platform/envutil"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
	"github.com/paperplanet/paperplanet-backend/internal/repos"
)

// Handler runs one claimed job to completion. Returning an error records a
// failed attempt; the job is retried until attempts reach the cap, then it
// parks in the dead state.
type Handler func(ctx context.Context, job *domain.JobRun) error

// Options tune the polling worker pool. Zero values fall back to defaults.
type Options struct {
	Concurrency  int
	MaxAttempts  int
	RetryDelay   time.Duration
	StaleRunning time.Duration
	PollInterval time.Duration
	Heartbeat    time.Duration
}

func (o *Options) fill() {
	if o.Concurrency < 1 {
		o.Concurrency = 4
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 30 * time.Second
	}
	if o.StaleRunning <= 0 {
		o.StaleRunning = 30 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 1 * time.Second
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 30 * time.Second
	}
}

// OptionsFromEnv reads worker tuning from the environment.
func OptionsFromEnv(log *logger.Logger) Options {
	return Options{
		Concurrency:  envutil.GetEnvAsInt("WORKER_CONCURRENCY", 4, log),
		MaxAttempts:  envutil.GetEnvAsInt("JOB_MAX_ATTEMPTS", 5, log),
		RetryDelay:   envutil.GetEnvAsDuration("JOB_RETRY_DELAY", 30*time.Second, log),
		StaleRunning: envutil.GetEnvAsDuration("JOB_STALE_RUNNING", 30*time.Minute, log),
		PollInterval: envutil.GetEnvAsDuration("JOB_POLL_INTERVAL", 1*time.Second, log),
	}
}

// Worker polls the job_run table and dispatches claimed jobs to registered
// handlers. Delivery is at-least-once; handlers must tolerate re-runs.
type Worker struct {
	log      *logger.Logger
	repo     repos.JobRunRepo
	opts     Options
	handlers map[string]Handler
}

func NewWorker(baseLog *logger.Logger, repo repos.JobRunRepo, opts Options) *Worker {
	opts.fill()
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		opts:     opts,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (w *Worker) Register(jobType string, h Handler) {
	w.handlers[jobType] = h
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.opts.Concurrency)
	for i := 0; i < w.opts.Concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			for {
				job, err := w.repo.ClaimNextRunnable(dbctx.New(ctx), w.opts.MaxAttempts, w.opts.RetryDelay, w.opts.StaleRunning)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
					break
				}
				if job == nil {
					break
				}
				w.runJob(ctx, workerID, job)
			}
		}
	}
}

func (w *Worker) runJob(ctx context.Context, workerID int, job *domain.JobRun) {
	log := w.log.With("worker_id", workerID, "job_id", job.ID.String(), "job_type", job.JobType)

	h, ok := w.handlers[job.JobType]
	if !ok {
		log.Warn("No handler registered for job_type")
		w.fail(ctx, log, job, &missingHandlerError{JobType: job.JobType})
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeatLoop(hbCtx, job)

	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Job handler panic", "panic", r)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return h(ctx, job)
	}()
	stopHeartbeat()

	if runErr != nil {
		w.fail(ctx, log, job, runErr)
		return
	}
	if err := w.repo.MarkDone(dbctx.New(ctx), job.ID); err != nil {
		log.Error("MarkDone failed", "error", err)
		return
	}
	log.Info("Job completed", "attempt", job.Attempts)
}

func (w *Worker) fail(ctx context.Context, log *logger.Logger, job *domain.JobRun, jobErr error) {
	log.Warn("Job failed", "attempt", job.Attempts, "error", jobErr)
	if err := w.repo.MarkFailed(dbctx.New(ctx), job.ID, jobErr, w.opts.MaxAttempts); err != nil {
		log.Error("MarkFailed failed", "error", err)
	}
}

// heartbeatLoop keeps the claim fresh so other workers do not steal the job
// as stale while the handler is still making progress.
func (w *Worker) heartbeatLoop(ctx context.Context, job *domain.JobRun) {
	ticker := time.NewTicker(w.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(dbctx.New(ctx), job.ID); err != nil {
				w.log.Warn("Heartbeat failed", "job_id", job.ID.String(), "error", err)
			}
		}
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}
