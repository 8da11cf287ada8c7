package repositories

import (
	"context"
	"testing"

	"peerboard/internal/infrastructure/repositories/memory"
	"peerboard/pkg/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRepositoryFactory_MemoryByDefault(t *testing.T) {
	f := NewRepositoryFactory(config.DefaultConfig(), zap.NewNop().Sugar())

	assert.Equal(t, "memory", f.Backend())
	assert.IsType(t, &memory.MemoryBoardRepository{}, f.CreateBoardRepository())
	assert.NoError(t, f.HealthCheck(context.Background()))
	assert.NoError(t, f.Close())
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(cfg, zap.NewNop().Sugar())

	assert.Equal(t, "memory", f.Backend())
	assert.IsType(t, &memory.MemoryBoardRepository{}, f.CreateBoardRepository())
}
