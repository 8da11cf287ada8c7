package services

import (
	"context"
	"fmt"
	"time"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"
	"peerboard/pkg/batch"
	"peerboard/pkg/circuitbreaker"
	"peerboard/pkg/retry"
	"peerboard/pkg/tracing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Persister receives fire-and-forget store writes from the engine.
type Persister interface {
	SaveObjects(coll domain.Collection, objs ...*domain.Object)
	DeleteObjects(coll domain.Collection, ids ...domain.ObjectID)
	ClearRoom()
}

// WriteBehind queues board writes on a batcher and applies them to the
// repository in order. Each write is retried with backoff; once the store has
// failed often enough the breaker opens and writes are dropped until a probe
// succeeds.
type WriteBehind struct {
	repo    ports.BoardRepository
	roomID  domain.RoomID
	batcher *batch.Batcher
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker // nil when disabled
	logger  *zap.SugaredLogger
}

type WriteBehindConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration

	// Retry with MaxAttempts <= 1 writes once.
	Retry retry.Config
	// Breaker with FailureThreshold <= 0 disables the breaker.
	Breaker circuitbreaker.Config
}

func NewWriteBehind(repo ports.BoardRepository, roomID domain.RoomID, cfg WriteBehindConfig, logger *zap.SugaredLogger) *WriteBehind {
	w := &WriteBehind{
		repo:   repo,
		roomID: roomID,
		retry:  cfg.Retry,
		logger: logger,
	}
	w.retry.NonRetryable = append(w.retry.NonRetryable,
		domain.ErrInvalidObject, domain.ErrInvalidCollection, context.Canceled)
	if cfg.Breaker.FailureThreshold > 0 {
		w.breaker = circuitbreaker.New(cfg.Breaker)
		w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
			logger.Warnw("board store breaker changed state", "room_id", roomID, "from", from, "to", to)
		})
	}
	w.batcher = batch.NewBatcher(cfg.BatchSize, cfg.FlushInterval, w,
		batch.WithFlushTimeout(cfg.WriteTimeout),
		batch.WithErrorHandler(func(err error) {
			logger.Warnw("board write failed", "room_id", roomID, "error", err)
		}),
	)
	return w
}

func (w *WriteBehind) SaveObjects(coll domain.Collection, objs ...*domain.Object) {
	if len(objs) == 0 {
		return
	}
	copies := make([]*domain.Object, 0, len(objs))
	for _, obj := range objs {
		copies = append(copies, obj.Clone())
	}
	w.enqueue(&saveObjectsOp{w: w, coll: coll, objs: copies})
}

func (w *WriteBehind) DeleteObjects(coll domain.Collection, ids ...domain.ObjectID) {
	if len(ids) == 0 {
		return
	}
	w.enqueue(&deleteObjectsOp{w: w, coll: coll, ids: append([]domain.ObjectID(nil), ids...)})
}

func (w *WriteBehind) ClearRoom() {
	w.enqueue(&clearRoomOp{w: w})
}

func (w *WriteBehind) enqueue(op batch.Operation) {
	if err := w.batcher.Add(op); err != nil {
		w.logger.Debugw("dropping board write", "room_id", w.roomID, "error", err)
	}
}

// ProcessBatch executes queued writes one by one. A failed write is logged
// and does not stop the rest of the batch.
func (w *WriteBehind) ProcessBatch(ctx context.Context, ops []batch.Operation) error {
	var failed int
	var last error
	for _, op := range ops {
		if err := w.execute(ctx, op); err != nil {
			failed++
			last = err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d board writes failed, last: %w", failed, len(ops), last)
	}
	return nil
}

func (w *WriteBehind) execute(ctx context.Context, op batch.Operation) error {
	if s, ok := op.(storeOp); ok {
		name, coll := s.describe()
		var span trace.Span
		ctx, span = tracing.TraceStoreOperation(ctx, name, string(w.roomID), string(coll))
		defer span.End()
	}

	write := func() error {
		return retry.Do(ctx, w.retry, op.Execute)
	}
	var err error
	if w.breaker == nil {
		err = write()
	} else {
		err = w.breaker.Execute(write)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

// HealthCheck fails while the store breaker is open.
func (w *WriteBehind) HealthCheck(ctx context.Context) error {
	if w.breaker != nil && w.breaker.State() == circuitbreaker.StateOpen {
		return fmt.Errorf("board writes suspended: %w", circuitbreaker.ErrOpen)
	}
	return nil
}

func (w *WriteBehind) Flush(ctx context.Context) error {
	return w.batcher.Flush(ctx)
}

// Stop flushes pending writes and stops the background worker.
func (w *WriteBehind) Stop() {
	w.batcher.Stop()
}

type storeOp interface {
	describe() (operation string, coll domain.Collection)
}

type saveObjectsOp struct {
	w    *WriteBehind
	coll domain.Collection
	objs []*domain.Object
}

func (op *saveObjectsOp) describe() (string, domain.Collection) { return "save_objects", op.coll }

func (op *saveObjectsOp) Execute(ctx context.Context) error {
	return op.w.repo.SaveObjects(ctx, op.w.roomID, op.coll, op.objs)
}

type deleteObjectsOp struct {
	w    *WriteBehind
	coll domain.Collection
	ids  []domain.ObjectID
}

func (op *deleteObjectsOp) describe() (string, domain.Collection) { return "delete_objects", op.coll }

func (op *deleteObjectsOp) Execute(ctx context.Context) error {
	return op.w.repo.DeleteObjects(ctx, op.w.roomID, op.coll, op.ids)
}

type clearRoomOp struct {
	w *WriteBehind
}

func (op *clearRoomOp) describe() (string, domain.Collection) { return "clear_room", "" }

func (op *clearRoomOp) Execute(ctx context.Context) error {
	return op.w.repo.ClearRoom(ctx, op.w.roomID)
}
