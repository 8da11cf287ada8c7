package batch

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrStopped = errors.New("batcher stopped")

// Batcher collects write operations and hands them to a Processor in
// batches, either when batchSize is reached or every batchInterval.
// Operations are processed in the order they were added.
type Batcher struct {
	batchSize     int
	batchInterval time.Duration
	flushTimeout  time.Duration
	processor     Processor
	onError       func(error)

	mu      sync.Mutex
	pending []Operation
	stopped bool

	// flushMu keeps batches from overlapping so ordering holds across flushes.
	flushMu   sync.Mutex
	flushChan chan struct{}
	stopChan  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

type Operation interface {
	Execute(ctx context.Context) error
}

type Processor interface {
	ProcessBatch(ctx context.Context, operations []Operation) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, operations []Operation) error

func (f ProcessorFunc) ProcessBatch(ctx context.Context, operations []Operation) error {
	return f(ctx, operations)
}

type Option func(*Batcher)

// WithFlushTimeout bounds every background flush.
func WithFlushTimeout(d time.Duration) Option {
	return func(b *Batcher) { b.flushTimeout = d }
}

// WithErrorHandler receives errors from background flushes.
func WithErrorHandler(fn func(error)) Option {
	return func(b *Batcher) { b.onError = fn }
}

func NewBatcher(batchSize int, batchInterval time.Duration, processor Processor, opts ...Option) *Batcher {
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchInterval <= 0 {
		batchInterval = time.Second
	}
	b := &Batcher{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		flushTimeout:  5 * time.Second,
		processor:     processor,
		onError:       func(error) {},
		pending:       make([]Operation, 0, batchSize),
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()

	return b
}

// Add queues op without blocking on I/O.
func (b *Batcher) Add(op Operation) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	b.pending = append(b.pending, op)
	shouldFlush := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}

	return nil
}

// Flush processes all pending operations now.
func (b *Batcher) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	ops := make([]Operation, len(b.pending))
	copy(ops, b.pending)
	b.pending = b.pending[:0]
	b.mu.Unlock()

	return b.processor.ProcessBatch(ctx, ops)
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.backgroundFlush()
		case <-b.flushChan:
			b.backgroundFlush()
		case <-b.stopChan:
			b.backgroundFlush()
			return
		}
	}
}

func (b *Batcher) backgroundFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
	defer cancel()

	if err := b.Flush(ctx); err != nil {
		b.onError(err)
	}
}

// Stop rejects further operations, flushes what is pending and waits for
// the background goroutine to exit.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		close(b.stopChan)
	})
	<-b.done
}

func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
