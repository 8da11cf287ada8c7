package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("event loop stopped")

const DefaultQueueSize = 1024

// Loop runs posted functions one at a time on a single goroutine, in the
// order they were posted. Everything that touches board state goes through it.
type Loop struct {
	queue  chan func()
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	stopped bool

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

func New(queueSize int, logger *zap.SugaredLogger) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		queue:  make(chan func(), queueSize),
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the loop on its own goroutine.
func (l *Loop) Start(ctx context.Context) {
	go l.Run(ctx)
}

// Run processes the queue until ctx is done or Stop is called. Functions
// still queued at that point are drained before Run returns.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.doneCh)

	for {
		select {
		case fn := <-l.queue:
			l.exec(fn)
		case <-ctx.Done():
			l.once.Do(func() { close(l.stopCh) })
			l.shutdown()
			return
		case <-l.stopCh:
			l.shutdown()
			return
		}
	}
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	for {
		select {
		case fn := <-l.queue:
			l.exec(fn)
		default:
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("event handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Post queues fn without waiting for it. It reports false when the loop
// has stopped; a full queue blocks the caller until there is room.
func (l *Loop) Post(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return false
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.stopCh:
		return false
	}
}

// Do queues fn and waits for it to finish. Calling Do from a function
// already running on the loop deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.doneCh:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop ends the loop and waits for Run to return. It is safe to call more
// than once, but Run must have been started.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stopCh) })
	<-l.doneCh
}
