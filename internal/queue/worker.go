package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handler runs one job. A non-nil error counts as a failed attempt.
type Handler func(ctx context.Context, job *Job) error

// FinalFailureHook is called once a job has exhausted its attempts, so the
// pipeline can mark the batch failed with a structured reason. The worker
// itself never cancels a batch.
type FinalFailureHook func(ctx context.Context, job *Job, cause string)

// WorkerOptions tunes the polling loop.
type WorkerOptions struct {
	Concurrency  int           // default 5
	RatePerSec   float64       // claims per second, default 10
	PollInterval time.Duration // idle backoff, default 1s
	SweepEvery   time.Duration // retention sweep cadence, default 5m
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 10
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = 5 * time.Minute
	}
	return o
}

// Worker polls the queue and dispatches jobs to registered handlers.
type Worker struct {
	queue     *Queue
	opts      WorkerOptions
	handlers  map[string]Handler
	onFailure FinalFailureHook
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewWorker builds a worker. Handlers are registered per job name.
func NewWorker(q *Queue, opts WorkerOptions, onFailure FinalFailureHook, logger *zap.Logger) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		queue:     q,
		opts:      opts,
		handlers:  map[string]Handler{},
		onFailure: onFailure,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		logger:    logger,
	}
}

// Handle registers the handler for a job name.
func (w *Worker) Handle(name string, h Handler) { w.handlers[name] = h }

// Run polls until the context is cancelled. Up to Concurrency jobs run at
// once; claims are rate limited.
func (w *Worker) Run(ctx context.Context) {
	sem := make(chan struct{}, w.opts.Concurrency)
	var wg sync.WaitGroup

	sweep := time.NewTicker(w.opts.SweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-sweep.C:
			if err := w.queue.Sweep(ctx); err != nil {
				w.logger.Warn("retention sweep failed", zap.Error(err))
			}
			continue
		default:
		}

		// Hold a slot before claiming, so a claimed job starts renewing
		// its lock immediately instead of sitting unrenewed in a queue.
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		if err := w.limiter.Wait(ctx); err != nil {
			<-sem
			wg.Wait()
			return
		}

		job, err := w.queue.Claim(ctx)
		if err != nil {
			<-sem
			w.logger.Error("failed to claim job", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			<-sem
			w.sleep(ctx)
			continue
		}

		wg.Add(1)
		go func(job *Job) {
			defer func() {
				<-sem
				wg.Done()
			}()
			w.runJob(ctx, job)
		}(job)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.opts.PollInterval):
	}
}

// runJob executes one job under a renewing lock.
func (w *Worker) runJob(ctx context.Context, job *Job) {
	handler, ok := w.handlers[job.Name]
	if !ok {
		w.failJob(ctx, job, "no handler registered for job "+job.Name)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.renewLock(jobCtx, job.ID)

	w.logger.Info("job started",
		zap.String("job_id", job.ID), zap.String("name", job.Name),
		zap.String("batch_id", job.Payload.BatchID), zap.Int("attempt", job.Attempts))

	start := time.Now()
	if err := handler(jobCtx, job); err != nil {
		w.failJob(ctx, job, err.Error())
		return
	}

	if err := w.queue.Complete(ctx, job.ID); err != nil {
		w.logger.Error("failed to mark job complete", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.logger.Info("job completed",
		zap.String("job_id", job.ID), zap.String("name", job.Name),
		zap.Duration("took", time.Since(start)))
}

func (w *Worker) failJob(ctx context.Context, job *Job, cause string) {
	final, err := w.queue.Fail(ctx, job, cause)
	if err != nil {
		w.logger.Error("failed to record job failure", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if final && w.onFailure != nil {
		w.onFailure(ctx, job, cause)
	}
}

// renewLock extends the job lock at half the lock interval until the job
// context ends.
func (w *Worker) renewLock(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.queue.opts.LockDuration / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Renew(ctx, jobID); err != nil {
				w.logger.Warn("failed to renew job lock", zap.String("job_id", jobID), zap.Error(err))
			}
		}
	}
}
