// Package queue is the durable job queue driving drift processing.
// Each job names one drift; the orchestrator is the sole consumer.
package queue

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Job is one queued processing request: advance this drift.
type Job struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	DriftID     string `json:"driftId"`
	Attempt     int    `json:"attempt"`
}

// Options bound retries and pace re-enqueues. The production delay is
// deliberately longer to ride out rolling deployments.
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultRetryDelay returns the base re-enqueue delay for an
// environment name.
func DefaultRetryDelay(environment string) time.Duration {
	if environment == "production" {
		return 30 * time.Second
	}
	return 2 * time.Second
}

// Store is the SQLite-backed queue.
type Store struct {
	db   *sql.DB
	opts Options
}

// NewStore creates a queue Store.
func NewStore(db *sql.DB, opts Options) *Store {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Store{db: db, opts: opts}
}

// Enqueue adds a job visible after the given delay.
func (s *Store) Enqueue(workspaceID, driftID string, attempt int, delay time.Duration) error {
	visibleAt := time.Now().UTC().Add(delay).Format(time.DateTime)
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, workspace_id, drift_id, attempt, visible_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), workspaceID, driftID, attempt, visibleAt)
	if err != nil {
		return fmt.Errorf("enqueueing job for drift %s: %w", driftID, err)
	}
	return nil
}

// Dequeue claims the oldest visible pending job, marking it running.
// Returns nil when nothing is ready.
func (s *Store) Dequeue() (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting dequeue transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.DateTime)
	var job Job
	err = tx.QueryRow(`
		SELECT id, workspace_id, drift_id, attempt FROM jobs
		WHERE status = 'pending' AND visible_at <= ?
		ORDER BY visible_at, created_at LIMIT 1`, now).
		Scan(&job.ID, &job.WorkspaceID, &job.DriftID, &job.Attempt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE jobs SET status = 'running', updated_at = datetime('now') WHERE id = ?`, job.ID); err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", job.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing dequeue: %w", err)
	}
	return &job, nil
}

// Complete marks a claimed job done.
func (s *Store) Complete(jobID string) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET status = 'done', updated_at = datetime('now') WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", jobID, err)
	}
	return nil
}

// Retry re-queues a failed job with an incremented attempt counter and
// an exponential delay, or marks it failed once attempts are exhausted.
// Returns true if the job will run again.
func (s *Store) Retry(job *Job, cause error) (bool, error) {
	nextAttempt := job.Attempt + 1
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if nextAttempt >= s.opts.MaxAttempts {
		_, err := s.db.Exec(`
			UPDATE jobs SET status = 'failed', last_error = ?, updated_at = datetime('now') WHERE id = ?`,
			msg, job.ID)
		if err != nil {
			return false, fmt.Errorf("failing job %s: %w", job.ID, err)
		}
		return false, nil
	}

	visibleAt := time.Now().UTC().Add(s.retryDelay(nextAttempt)).Format(time.DateTime)
	_, err := s.db.Exec(`
		UPDATE jobs SET status = 'pending', attempt = ?, visible_at = ?, last_error = ?, updated_at = datetime('now')
		WHERE id = ?`,
		nextAttempt, visibleAt, msg, job.ID)
	if err != nil {
		return false, fmt.Errorf("retrying job %s: %w", job.ID, err)
	}
	job.Attempt = nextAttempt
	return true, nil
}

// retryDelay walks the exponential schedule to the given attempt.
func (s *Store) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryDelay
	b.RandomizationFactor = 0.2
	b.MaxInterval = 10 * time.Minute
	b.MaxElapsedTime = 0

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// PendingCount reports how many jobs are waiting or scheduled.
func (s *Store) PendingCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending jobs: %w", err)
	}
	return n, nil
}
