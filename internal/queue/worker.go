package queue

import (
	"context"
	"log"
	"time"
)

// Handler processes one claimed job. A nil return completes the job; an
// error re-queues it under the retry policy.
type Handler func(ctx context.Context, job *Job) error

// Worker polls the queue and runs the handler for each claimed job.
type Worker struct {
	store    *Store
	handler  Handler
	interval time.Duration
}

// NewWorker creates a Worker polling at the given interval.
func NewWorker(store *Store, handler Handler, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{store: store, handler: handler, interval: interval}
}

// Run processes jobs until the context is cancelled. Between polls it
// drains everything currently visible.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.store.Dequeue()
		if err != nil {
			log.Printf("dequeue failed: %v", err)
			return
		}
		if job == nil {
			return
		}
		w.runOne(ctx, job)
	}
}

func (w *Worker) runOne(ctx context.Context, job *Job) {
	err := w.handler(ctx, job)
	if err == nil {
		if err := w.store.Complete(job.ID); err != nil {
			log.Printf("completing job %s: %v", job.ID, err)
		}
		return
	}

	log.Printf("job %s (drift %s, attempt %d) failed: %v", job.ID, job.DriftID, job.Attempt, err)
	retrying, rerr := w.store.Retry(job, err)
	if rerr != nil {
		log.Printf("retrying job %s: %v", job.ID, rerr)
		return
	}
	if !retrying {
		log.Printf("job %s for drift %s exhausted retries", job.ID, job.DriftID)
	}
}
