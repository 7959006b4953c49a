package worker

import (
	"context"
	"sync"

	"github.com/roach88/psbthsm/internal/model"
)

// job is one submitted request awaiting the worker.
type job struct {
	id    string
	ctx   context.Context
	req   model.SigRequest
	reply chan result // buffered, size 1
}

type result struct {
	data model.SignedData
	err  error
}

// jobQueue is a FIFO of jobs shared between submitters and the Run loop.
//
// A zero capacity means unbounded. The signal channel lets the Run loop
// wait with select alongside ctx.Done().
type jobQueue struct {
	mu       sync.Mutex
	jobs     []*job
	capacity int
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newJobQueue(capacity int) *jobQueue {
	return &jobQueue{
		jobs:     make([]*job, 0, 16),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends j. Returns ErrStopped after Close and ErrQueueFull when
// a bounded queue is at capacity.
func (q *jobQueue) Enqueue(j *job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrStopped
	}
	if q.capacity > 0 && len(q.jobs) >= q.capacity {
		return ErrQueueFull
	}

	q.jobs = append(q.jobs, j)

	// Non-blocking: one pending signal is enough to wake the loop.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// TryDequeue removes the front job without blocking.
func (q *jobQueue) TryDequeue() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}

	j := q.jobs[0]
	q.jobs[0] = nil // release for GC
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns a channel that fires when jobs may be available.
// It is closed by Close.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Closed reports whether Close has been called.
func (q *jobQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further jobs and wakes the Run loop. Queued jobs stay
// available to TryDequeue.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
