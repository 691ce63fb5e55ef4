package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Processor handles one flushed batch. It must return one result per payload,
// in submission order.
type Processor[T, R any] func(ctx context.Context, payloads []T) ([]R, error)

// Batcher accumulates requests under caller-supplied keys and processes each
// group as a single batch, either when it reaches the configured size or when
// its timer fires. Batches under different keys are fully independent.
type Batcher[T, R any] struct {
	size    int
	timeout time.Duration
	pending map[string]*group[T, R]
	logger  zerolog.Logger
	mu      sync.Mutex
	flushed func() // test hook, called after each processed batch
}

type group[T, R any] struct {
	payloads []T
	waiters  []chan outcome[R]
	proc     Processor[T, R]
	timer    *time.Timer
}

type outcome[R any] struct {
	value R
	err   error
}

// New creates a batcher that flushes a key's batch at size requests or after
// timeout, whichever comes first.
func New[T, R any](size int, timeout time.Duration, logger zerolog.Logger) *Batcher[T, R] {
	return &Batcher[T, R]{
		size:    size,
		timeout: timeout,
		pending: make(map[string]*group[T, R]),
		logger:  logger.With().Str("component", "request_batcher").Logger(),
	}
}

// Add enqueues payload under key and blocks until the batch it joined has
// been processed, returning this request's own result. The processor supplied
// with the first request of a batch is the one invoked for the whole batch.
// If the processor fails, every waiter in the batch receives the same error.
func (b *Batcher[T, R]) Add(ctx context.Context, key string, payload T, proc Processor[T, R]) (R, error) {
	waiter := make(chan outcome[R], 1)

	b.mu.Lock()
	g, ok := b.pending[key]
	if !ok {
		g = &group[T, R]{proc: proc}
		b.pending[key] = g
	}
	g.payloads = append(g.payloads, payload)
	g.waiters = append(g.waiters, waiter)

	if len(g.payloads) >= b.size {
		// Size threshold reached: this caller processes the batch before its
		// own Add returns. Cancel the timer so the batch cannot flush twice.
		delete(b.pending, key)
		if g.timer != nil {
			g.timer.Stop()
		}
		b.mu.Unlock()
		b.process(ctx, key, g)
	} else {
		if g.timer == nil {
			g.timer = time.AfterFunc(b.timeout, func() { b.flushExpired(key, g) })
		}
		b.mu.Unlock()
	}

	select {
	case out := <-waiter:
		return out.value, out.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// flushExpired processes a batch whose timer fired, unless it was already
// flushed by reaching the size threshold.
func (b *Batcher[T, R]) flushExpired(key string, g *group[T, R]) {
	b.mu.Lock()
	current, ok := b.pending[key]
	if !ok || current != g {
		// Already flushed by size, or a new batch started under this key.
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	b.mu.Unlock()

	b.logger.Debug().Str("batch_key", key).Int("size", len(g.payloads)).Msg("Batch timeout reached, flushing partial batch")
	b.process(context.Background(), key, g)
}

// process invokes the batch processor and fans results back out to waiters in
// submission order. Failure is all-or-nothing per batch.
func (b *Batcher[T, R]) process(ctx context.Context, key string, g *group[T, R]) {
	results, err := g.proc(ctx, g.payloads)
	if err == nil && len(results) != len(g.payloads) {
		err = fmt.Errorf("batch processor returned %d results for %d requests", len(results), len(g.payloads))
	}

	if err != nil {
		b.logger.Error().Err(err).Str("batch_key", key).Int("size", len(g.payloads)).Msg("Batch processing failed")
		for _, w := range g.waiters {
			w <- outcome[R]{err: err}
		}
	} else {
		for i, w := range g.waiters {
			w <- outcome[R]{value: results[i]}
		}
	}

	if b.flushed != nil {
		b.flushed()
	}
}

// PendingKeys returns the number of keys with an open batch.
func (b *Batcher[T, R]) PendingKeys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// PendingRequests returns the total number of payloads waiting across all
// open batches.
func (b *Batcher[T, R]) PendingRequests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, g := range b.pending {
		n += len(g.payloads)
	}
	return n
}

// queuedFor reports how many payloads are waiting under key.
func (b *Batcher[T, R]) queuedFor(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.pending[key]; ok {
		return len(g.payloads)
	}
	return 0
}
