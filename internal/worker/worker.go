package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/psbthsm/internal/model"
)

var (
	// ErrStopped is returned by Submit once the worker has been stopped.
	ErrStopped = errors.New("worker: stopped")

	// ErrQueueFull is returned by Submit when a bounded queue is full.
	ErrQueueFull = errors.New("worker: queue full")
)

// outcomeCanceled labels requests whose submitter gave up before the
// worker reached them.
const outcomeCanceled = "CANCELED"

// Signer signs requests. *vault.Sealed implements it.
type Signer interface {
	Sign(req model.SigRequest) (model.SignedData, error)
}

// Worker processes signing requests on a single goroutine.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Stop(): safe from any goroutine, idempotent
type Worker struct {
	signer  Signer
	queue   *jobQueue
	ids     IDGenerator
	metrics *Metrics
	log     zerolog.Logger

	queueSize int
}

// Option configures a Worker.
type Option func(*Worker)

// WithQueueSize bounds the number of waiting requests.
//
// Default: 0 (unbounded).
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		w.queueSize = n
	}
}

// WithMetrics records request counts, latency and queue depth.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithRequestIDs replaces the UUIDv7 request id generator.
func WithRequestIDs(g IDGenerator) Option {
	return func(w *Worker) {
		w.ids = g
	}
}

// WithLogger sets the logger for per-request events.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Worker) {
		w.log = log
	}
}

// New creates a Worker for signer. Call Run to start processing.
func New(signer Signer, opts ...Option) *Worker {
	w := &Worker{
		signer: signer,
		ids:    UUIDv7Generator{},
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = newJobQueue(w.queueSize)
	return w
}

// Submit queues req and waits for its result.
//
// If ctx ends first Submit returns ctx.Err(); the request is then skipped
// by the worker if it has not started. Signing errors are returned as-is.
func (w *Worker) Submit(ctx context.Context, req model.SigRequest) (model.SignedData, error) {
	j := &job{
		id:    w.ids.Generate(),
		ctx:   ctx,
		req:   req,
		reply: make(chan result, 1),
	}
	if err := w.queue.Enqueue(j); err != nil {
		return nil, err
	}
	w.metrics.setDepth(w.queue.Len())

	select {
	case r := <-j.reply:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes requests until Stop is called and the queue drains, or
// until ctx is cancelled. On cancellation queued requests fail with
// ErrStopped.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if j, ok := w.queue.TryDequeue(); ok {
			w.metrics.setDepth(w.queue.Len())
			w.process(j)
			continue
		}

		if w.queue.Closed() {
			return nil
		}

		select {
		case <-ctx.Done():
			w.queue.Close()
			w.drain()
			return ctx.Err()
		case <-w.queue.Wait():
		}
	}
}

// Stop rejects new submissions. Run returns after finishing queued work.
func (w *Worker) Stop() {
	w.queue.Close()
}

func (w *Worker) process(j *job) {
	kind := "unknown"
	if j.req != nil {
		kind = j.req.SigType().String()
	}
	log := w.log.With().Str("request_id", j.id).Str("kind", kind).Logger()

	if err := j.ctx.Err(); err != nil {
		w.metrics.observe(kind, outcomeCanceled, 0)
		log.Debug().Msg("request abandoned before processing")
		j.reply <- result{err: err}
		return
	}

	start := time.Now()
	data, err := w.signer.Sign(j.req)
	elapsed := time.Since(start)

	outcome := "OK"
	if err != nil {
		outcome = string(model.CodeOf(err))
		log.Info().Str("code", outcome).Dur("elapsed", elapsed).Msg("request failed")
	} else {
		log.Info().Dur("elapsed", elapsed).Msg("request signed")
	}
	w.metrics.observe(kind, outcome, elapsed)

	j.reply <- result{data: data, err: err}
}

func (w *Worker) drain() {
	for {
		j, ok := w.queue.TryDequeue()
		if !ok {
			w.metrics.setDepth(0)
			return
		}
		j.reply <- result{err: ErrStopped}
	}
}
