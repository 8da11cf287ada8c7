package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"peerboard/internal/core/domain"
	"peerboard/pkg/circuitbreaker"
	"peerboard/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriteBehind_AppliesWritesInOrder(t *testing.T) {
	repo := new(MockBoardRepository)
	var calls []string
	repo.On("SaveObjects", mock.Anything, domain.RoomID("r"), domain.CollectionObjects, mock.Anything).
		Run(func(args mock.Arguments) { calls = append(calls, "save") }).Return(nil)
	repo.On("DeleteObjects", mock.Anything, domain.RoomID("r"), domain.CollectionObjects, []domain.ObjectID{"o1"}).
		Run(func(args mock.Arguments) { calls = append(calls, "delete") }).Return(nil)
	repo.On("ClearRoom", mock.Anything, domain.RoomID("r")).
		Run(func(args mock.Arguments) { calls = append(calls, "clear") }).Return(nil)

	w := NewWriteBehind(repo, "r", WriteBehindConfig{BatchSize: 100, FlushInterval: time.Hour, WriteTimeout: time.Second}, zap.NewNop().Sugar())

	w.SaveObjects(domain.CollectionObjects, shape("o1"))
	w.SaveObjects(domain.CollectionObjects)
	w.DeleteObjects(domain.CollectionObjects, "o1")
	w.ClearRoom()

	require.NoError(t, w.Flush(context.Background()))
	w.Stop()

	assert.Equal(t, []string{"save", "delete", "clear"}, calls)
	repo.AssertExpectations(t)
}

func TestWriteBehind_ContinuesAfterFailure(t *testing.T) {
	repo := new(MockBoardRepository)
	repo.On("SaveObjects", mock.Anything, domain.RoomID("r"), domain.CollectionStickies, mock.Anything).
		Return(errors.New("store down"))
	repo.On("ClearRoom", mock.Anything, domain.RoomID("r")).Return(nil)

	w := NewWriteBehind(repo, "r", WriteBehindConfig{BatchSize: 100, FlushInterval: time.Hour, WriteTimeout: time.Second}, zap.NewNop().Sugar())
	defer w.Stop()

	w.SaveObjects(domain.CollectionStickies, shape("n1"))
	w.ClearRoom()

	err := w.Flush(context.Background())
	assert.Error(t, err)
	repo.AssertCalled(t, "ClearRoom", mock.Anything, domain.RoomID("r"))
}

func TestWriteBehind_SavesCopies(t *testing.T) {
	repo := new(MockBoardRepository)
	var saved []*domain.Object
	repo.On("SaveObjects", mock.Anything, domain.RoomID("r"), domain.CollectionObjects, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(3).([]*domain.Object) }).Return(nil)

	w := NewWriteBehind(repo, "r", WriteBehindConfig{BatchSize: 100, FlushInterval: time.Hour, WriteTimeout: time.Second}, zap.NewNop().Sugar())
	defer w.Stop()

	obj := shape("o1")
	w.SaveObjects(domain.CollectionObjects, obj)
	obj.Type = "mutated"

	require.NoError(t, w.Flush(context.Background()))
	require.Len(t, saved, 1)
	assert.Equal(t, "rectangle", saved[0].Type)
}

func TestWriteBehind_RetriesTransientFailures(t *testing.T) {
	repo := new(MockBoardRepository)
	repo.On("ClearRoom", mock.Anything, domain.RoomID("r")).Return(errors.New("timeout")).Twice()
	repo.On("ClearRoom", mock.Anything, domain.RoomID("r")).Return(nil).Once()

	w := NewWriteBehind(repo, "r", WriteBehindConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		WriteTimeout:  time.Second,
		Retry:         retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond},
	}, zap.NewNop().Sugar())
	defer w.Stop()

	w.ClearRoom()

	require.NoError(t, w.Flush(context.Background()))
	repo.AssertNumberOfCalls(t, "ClearRoom", 3)
}

func TestWriteBehind_DoesNotRetryInvalidObject(t *testing.T) {
	repo := new(MockBoardRepository)
	repo.On("SaveObjects", mock.Anything, domain.RoomID("r"), domain.CollectionObjects, mock.Anything).
		Return(domain.ErrInvalidObject)

	w := NewWriteBehind(repo, "r", WriteBehindConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		WriteTimeout:  time.Second,
		Retry:         retry.Config{MaxAttempts: 5, InitialDelay: time.Millisecond},
	}, zap.NewNop().Sugar())
	defer w.Stop()

	w.SaveObjects(domain.CollectionObjects, shape("o1"))

	err := w.Flush(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidObject)
	repo.AssertNumberOfCalls(t, "SaveObjects", 1)
}

func TestWriteBehind_BreakerSuspendsWrites(t *testing.T) {
	repo := new(MockBoardRepository)
	repo.On("ClearRoom", mock.Anything, domain.RoomID("r")).Return(errors.New("store down"))

	w := NewWriteBehind(repo, "r", WriteBehindConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		WriteTimeout:  time.Second,
		Breaker:       circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour},
	}, zap.NewNop().Sugar())
	defer w.Stop()

	require.NoError(t, w.HealthCheck(context.Background()))

	for i := 0; i < 4; i++ {
		w.ClearRoom()
	}
	err := w.Flush(context.Background())
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)

	repo.AssertNumberOfCalls(t, "ClearRoom", 2)
	assert.ErrorIs(t, w.HealthCheck(context.Background()), circuitbreaker.ErrOpen)
}
