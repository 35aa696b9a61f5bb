// Package queue is a durable, PostgreSQL-backed job queue. Jobs survive
// process restarts; workers claim them with FOR UPDATE SKIP LOCKED, renew
// their lock while running, and retry with exponential backoff up to a
// cap. Completed and failed jobs are retained briefly for inspection.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// Job names understood by the worker.
const (
	JobProcessNewUpload    = "process-new-upload"
	JobResumeAfterApproval = "resume-after-approval"
	JobProcessBankUpload   = "process-bank-upload"
)

// Payload is the work item: which batch, and where its file lives.
type Payload struct {
	BatchID  string `json:"batchId"`
	FilePath string `json:"filePath"`
}

// Job is one queued work item as stored.
type Job struct {
	ID          string
	Name        string
	Payload     Payload
	Attempts    int
	LockedUntil time.Time
}

// Options tunes the queue. Zero values fall back to the defaults.
type Options struct {
	LockDuration     time.Duration // default 5m
	MaxAttempts      int           // default 3
	BackoffBase      time.Duration // default 30s, doubled per attempt
	KeepCompleted    int           // default 100
	KeepCompletedFor time.Duration // default 24h
	KeepFailed       int           // default 500
	KeepFailedFor    time.Duration // default 7 days
}

func (o Options) withDefaults() Options {
	if o.LockDuration <= 0 {
		o.LockDuration = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 30 * time.Second
	}
	if o.KeepCompleted <= 0 {
		o.KeepCompleted = 100
	}
	if o.KeepCompletedFor <= 0 {
		o.KeepCompletedFor = 24 * time.Hour
	}
	if o.KeepFailed <= 0 {
		o.KeepFailed = 500
	}
	if o.KeepFailedFor <= 0 {
		o.KeepFailedFor = 7 * 24 * time.Hour
	}
	return o
}

// Queue persists and hands out jobs.
type Queue struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *zap.Logger
}

// New returns a queue over the shared pool.
func New(pool *pgxpool.Pool, opts Options, logger *zap.Logger) *Queue {
	return &Queue{pool: pool, opts: opts.withDefaults(), logger: logger}
}

// Enqueue adds a pending job, runnable immediately.
func (q *Queue) Enqueue(ctx context.Context, name string, p Payload) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}
	id := uuid.New().String()
	_, err = q.pool.Exec(ctx, `
		INSERT INTO jobs (id, name, payload, state, attempts, run_at, created_at)
		VALUES ($1, $2, $3, 'pending', 0, now(), now())`,
		id, name, payload)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s job: %w", name, err)
	}
	q.logger.Info("job enqueued",
		zap.String("job_id", id), zap.String("name", name), zap.String("batch_id", p.BatchID))
	return id, nil
}

// Claim leases the oldest runnable job, or returns nil when the queue is
// empty. SKIP LOCKED keeps concurrent workers from colliding.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	row := q.pool.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'running', attempts = attempts + 1,
			locked_until = now() + make_interval(secs => $1), started_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE (state = 'pending' AND run_at <= now())
			   OR (state = 'running' AND locked_until < now())
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, name, payload, attempts, locked_until`,
		q.opts.LockDuration.Seconds())

	var j Job
	var payload []byte
	err := row.Scan(&j.ID, &j.Name, &payload, &j.Attempts, &j.LockedUntil)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return &j, nil
}

// Renew extends a running job's lock. Called at half the lock interval.
func (q *Queue) Renew(ctx context.Context, jobID string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET locked_until = now() + make_interval(secs => $2)
		WHERE id = $1 AND state = 'running'`,
		jobID, q.opts.LockDuration.Seconds())
	if err != nil {
		return fmt.Errorf("failed to renew lock on job %s: %w", jobID, err)
	}
	return nil
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET state = 'completed', finished_at = now()
		WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return nil
}

// Fail records a failed attempt. Below the attempt cap the job is
// rescheduled with exponential backoff; at the cap it lands in the failed
// state permanently. Returns true when the failure was final.
func (q *Queue) Fail(ctx context.Context, j *Job, cause string) (bool, error) {
	if j.Attempts >= q.opts.MaxAttempts {
		_, err := q.pool.Exec(ctx, `
			UPDATE jobs SET state = 'failed', last_error = $2, finished_at = now()
			WHERE id = $1`, j.ID, cause)
		if err != nil {
			return false, fmt.Errorf("failed to mark job %s failed: %w", j.ID, err)
		}
		q.logger.Error("job failed permanently",
			zap.String("job_id", j.ID), zap.String("name", j.Name),
			zap.Int("attempts", j.Attempts), zap.String("cause", cause))
		return true, nil
	}

	delay := q.opts.BackoffBase << (j.Attempts - 1)
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET state = 'pending', last_error = $2,
			run_at = now() + make_interval(secs => $3), locked_until = NULL
		WHERE id = $1`, j.ID, cause, delay.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to reschedule job %s: %w", j.ID, err)
	}
	q.logger.Warn("job attempt failed, rescheduled",
		zap.String("job_id", j.ID), zap.String("name", j.Name),
		zap.Int("attempt", j.Attempts), zap.Duration("backoff", delay),
		zap.String("cause", cause))
	return false, nil
}

// Sweep applies the retention policy: completed jobs beyond the newest N
// or older than the window are removed, and likewise for failed jobs with
// their longer limits.
func (q *Queue) Sweep(ctx context.Context) error {
	if err := q.sweepState(ctx, "completed", q.opts.KeepCompleted, q.opts.KeepCompletedFor); err != nil {
		return err
	}
	return q.sweepState(ctx, "failed", q.opts.KeepFailed, q.opts.KeepFailedFor)
}

func (q *Queue) sweepState(ctx context.Context, state string, keep int, maxAge time.Duration) error {
	_, err := q.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE state = $1
		  AND (finished_at < now() - make_interval(secs => $2)
		       OR id NOT IN (
			SELECT id FROM jobs WHERE state = $1
			ORDER BY finished_at DESC LIMIT $3))`,
		state, maxAge.Seconds(), keep)
	if err != nil {
		return fmt.Errorf("failed to sweep %s jobs: %w", state, err)
	}
	return nil
}
