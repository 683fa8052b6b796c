// Package worker runs analyses off the ingestion path. The MQTT subscriber
// holds a worker.Enqueuer and calls Enqueue from paho's callback goroutine,
// which must never block; the Runner's goroutines do the slow work (remote
// model call, optional synthesis, publish).
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned by Enqueue when every worker is busy and the
// buffer is full. The task is dropped.
var ErrQueueFull = errors.New("worker: queue is full")

// ─── ENQUEUER INTERFACE ───────────────────────────────────────────────────────

// Enqueuer is the narrow interface the ingestion adapter uses to hand off
// work. The concrete implementation is *Runner. In tests, any struct with an
// Enqueue method satisfies the interface.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) error
}

// ─── RUNNER ───────────────────────────────────────────────────────────────────

// RunnerConfig holds tuning parameters for the Runner. Zero fields take the
// values from DefaultRunnerConfig().
type RunnerConfig struct {
	// Workers is the number of concurrent job goroutines. Default: 3.
	Workers int

	// QueueSize is the channel buffer. Default: Workers*8.
	QueueSize int

	// JobTimeout is the per-job context deadline. Set this longer than the
	// model timeout plus synthesis time. Default: 2 minutes.
	JobTimeout time.Duration
}

// DefaultRunnerConfig returns safe production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:    3,
		QueueSize:  24,
		JobTimeout: 2 * time.Minute,
	}
}

// Processor runs one task. *Job is the production implementation.
type Processor interface {
	Run(ctx context.Context, t Task) error
}

// Runner manages a pool of worker goroutines fed by an in-process channel.
// Tasks are attempted once: a failed analysis already yields a fallback
// record, so a job error means publishing failed and the reading is stale by
// the time a retry would run.
type Runner struct {
	job    Processor
	cfg    RunnerConfig
	logger *slog.Logger

	queue chan Task
	wg    sync.WaitGroup
}

// NewRunner constructs a Runner. Call Start() to begin processing.
func NewRunner(job Processor, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultRunnerConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 8
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultRunnerConfig().JobTimeout
	}

	return &Runner{
		job:    job,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Task, cfg.QueueSize),
	}
}

// Enqueue pushes a task onto the in-process channel without blocking. It
// satisfies the Enqueuer interface.
func (r *Runner) Enqueue(_ context.Context, t Task) error {
	select {
	case r.queue <- t:
		r.logger.Debug("worker: enqueued task", "user_id", t.UserID)
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker pool. It blocks until ctx is cancelled and every
// in-flight job has returned. Cancelling ctx stops workers from taking new
// tasks; a running job keeps its own JobTimeout so its publish still happens. Call it in a goroutine from main:
//
//	go runner.Start(ctx)
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("worker: starting", "workers", r.cfg.Workers, "queue_size", r.cfg.QueueSize)

	for i := range r.cfg.Workers {
		r.wg.Add(1)
		go r.work(ctx, i)
	}

	r.wg.Wait()
	r.logger.Info("worker: stopped")
}

// work is the inner loop for each worker goroutine.
func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With("worker_id", id)
	log.Debug("worker: goroutine started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("worker: goroutine stopping")
			return
		case t := <-r.queue:
			r.run(ctx, t, log)
		}
	}
}

func (r *Runner) run(ctx context.Context, t Task, log *slog.Logger) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	if err := r.job.Run(jobCtx, t); err != nil {
		log.Error("worker: job failed",
			"user_id", t.UserID,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	log.Info("worker: job completed",
		"user_id", t.UserID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
