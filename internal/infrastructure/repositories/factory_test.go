package repositories

import (
	"context"
	"testing"

	"meshcall/internal/infrastructure/repositories/memory"
	"meshcall/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepositoryFactory_MemoryByDefault(t *testing.T) {
	f := NewRepositoryFactory(context.Background(), config.DefaultConfig(), zap.NewNop().Sugar())
	assert.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.MemoryHistoryRepository{}, f.CreateHistoryRepository())
	assert.NoError(t, f.Close())
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())
	require.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.MemoryHistoryRepository{}, f.CreateHistoryRepository())
}
