package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/policy"
	"github.com/roach88/psbthsm/internal/testutil"
	"github.com/roach88/psbthsm/internal/vault"
)

// recordingSigner records the order of requests and can be paused.
type recordingSigner struct {
	mu      sync.Mutex
	seen    []string
	active  int
	maxSeen int
	gate    chan struct{}
}

func (s *recordingSigner) Sign(req model.SigRequest) (model.SignedData, error) {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	s.mu.Unlock()

	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--

	msg, ok := req.(model.MessageRequest)
	if !ok {
		return nil, model.ErrNotSupported
	}
	s.seen = append(s.seen, msg.Text)
	if msg.Text == "deny" {
		return nil, model.ErrAuthorizationDenied
	}
	return model.SignedMessage{Text: msg.Text}, nil
}

func startWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		w.Stop()
		cancel()
		<-done
	})
	return cancel
}

func TestSubmitReturnsSignerResult(t *testing.T) {
	w := New(&recordingSigner{})
	startWorker(t, w)

	data, err := w.Submit(context.Background(), model.MessageRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, model.SignedMessage{Text: "hello"}, data)

	_, err = w.Submit(context.Background(), model.MessageRequest{Text: "deny"})
	assert.ErrorIs(t, err, model.ErrAuthorizationDenied)
}

func TestRequestsAreSerialised(t *testing.T) {
	signer := &recordingSigner{}
	w := New(signer)
	startWorker(t, w)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Submit(context.Background(), model.MessageRequest{Text: "m"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	signer.mu.Lock()
	defer signer.mu.Unlock()
	assert.Len(t, signer.seen, 20)
	assert.Equal(t, 1, signer.maxSeen, "never more than one request in flight")
}

func TestFIFOOrder(t *testing.T) {
	signer := &recordingSigner{gate: make(chan struct{})}
	w := New(signer)

	// Queue before Run so order is fixed.
	results := make(chan error, 3)
	texts := []string{"a", "b", "c"}
	for _, text := range texts {
		text := text
		go func() {
			_, err := w.Submit(context.Background(), model.MessageRequest{Text: text})
			results <- err
		}()
		require.Eventually(t, func() bool { return w.queue.Len() > 0 && lastQueued(w) == text },
			time.Second, time.Millisecond)
	}

	startWorker(t, w)
	for range texts {
		signer.gate <- struct{}{}
	}
	for range texts {
		require.NoError(t, <-results)
	}

	signer.mu.Lock()
	defer signer.mu.Unlock()
	assert.Equal(t, texts, signer.seen)
}

func lastQueued(w *Worker) string {
	w.queue.mu.Lock()
	defer w.queue.mu.Unlock()
	if len(w.queue.jobs) == 0 {
		return ""
	}
	return w.queue.jobs[len(w.queue.jobs)-1].req.(model.MessageRequest).Text
}

func TestSubmitAfterStop(t *testing.T) {
	w := New(&recordingSigner{})
	w.Stop()

	_, err := w.Submit(context.Background(), model.MessageRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrStopped)
	assert.NoError(t, w.Run(context.Background()), "Run returns once stopped and empty")
}

func TestQueueFull(t *testing.T) {
	w := New(&recordingSigner{}, WithQueueSize(1))
	require.NoError(t, w.queue.Enqueue(&job{id: "held", ctx: context.Background(), reply: make(chan result, 1)}))

	_, err := w.Submit(context.Background(), model.MessageRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestSubmitContextCancelled(t *testing.T) {
	w := New(&recordingSigner{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Submit(ctx, model.MessageRequest{Text: "late"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAbandonedRequestIsSkipped(t *testing.T) {
	signer := &recordingSigner{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	w := New(signer, WithMetrics(metrics))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j := &job{id: "x", ctx: ctx, req: model.MessageRequest{Text: "skip"}, reply: make(chan result, 1)}
	require.NoError(t, w.queue.Enqueue(j))

	w.Stop()
	require.NoError(t, w.Run(context.Background()))

	r := <-j.reply
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Empty(t, signer.seen)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Requests.WithLabelValues("message", outcomeCanceled)))
}

func TestRunCancelledClosesQueue(t *testing.T) {
	w := New(&recordingSigner{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = w.Submit(context.Background(), model.MessageRequest{Text: "q"})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestDrainFailsQueued(t *testing.T) {
	w := New(&recordingSigner{})
	j := &job{id: "x", ctx: context.Background(), req: model.MessageRequest{Text: "q"}, reply: make(chan result, 1)}
	require.NoError(t, w.queue.Enqueue(j))

	w.queue.Close()
	w.drain()

	r := <-j.reply
	assert.ErrorIs(t, r.err, ErrStopped)
}

func TestMetricsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	w := New(&recordingSigner{}, WithMetrics(metrics), WithRequestIDs(NewSequentialGenerator("t")))
	startWorker(t, w)

	_, _ = w.Submit(context.Background(), model.MessageRequest{Text: "ok"})
	_, _ = w.Submit(context.Background(), model.MessageRequest{Text: "ok"})
	_, _ = w.Submit(context.Background(), model.MessageRequest{Text: "deny"})

	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.Requests.WithLabelValues("message", "OK")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Requests.WithLabelValues("message", "AUTHORIZATION_DENIED")))
	assert.Equal(t, 1, promtest.CollectAndCount(metrics.Duration))
}

func TestSequentialGenerator(t *testing.T) {
	g := NewSequentialGenerator("")
	assert.Equal(t, "req-1", g.Generate())
	assert.Equal(t, "req-2", g.Generate())
}

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()

	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Equal(t, byte('7'), a[14], "version nibble")
}

func TestWorkerWithSealedVault(t *testing.T) {
	u := vault.New()
	require.NoError(t, u.LoadSeed(testutil.Seed()))
	_, err := u.LoadPolicy(policy.Policy{Kind: model.SigTypeTransaction, Script: "request.tx.fee < 50000"})
	require.NoError(t, err)
	sealed, err := u.Seal(testutil.Entropy(9))
	require.NoError(t, err)
	t.Cleanup(sealed.Wipe)

	w := New(sealed)
	startWorker(t, w)

	km := testutil.MasterKey(t)
	packet := testutil.NewPsbt(t, km).Input(testutil.Path(t, "m/0'/0/0"), 20000).Build()

	data, err := w.Submit(context.Background(), model.PsbtRequest{Packet: packet})
	require.NoError(t, err)
	assert.Equal(t, 1, data.(model.SignedPsbt).Signatures)

	_, err = w.Submit(context.Background(), model.MessageRequest{Text: "no"})
	assert.ErrorIs(t, err, model.ErrAuthorizationDenied)
}
