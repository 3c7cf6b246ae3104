package repositories

import (
	"context"

	"meshcall/internal/core/ports"
	"meshcall/internal/infrastructure/reliability"
	"meshcall/internal/infrastructure/repositories/memory"
	redisrepo "meshcall/internal/infrastructure/repositories/redis"
	"meshcall/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory picks Redis when it is enabled and reachable and falls
// back to memory otherwise.
type RepositoryFactory struct {
	redisClient *redis.Client
	reliability reliability.Options
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		logger: logger,
		reliability: reliability.Options{
			RetryAttempts:    cfg.Redis.RetryAttempts,
			FailureThreshold: cfg.Redis.FailureThreshold,
			BreakerTimeout:   cfg.Redis.BreakerTimeout,
		},
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories", "error", err)
		} else {
			factory.redisClient = client
		}
	}

	if factory.redisClient == nil {
		logger.Info("using memory repositories")
	} else {
		logger.Info("using Redis repositories")
	}
	return factory
}

func (f *RepositoryFactory) CreateHistoryRepository() ports.HistoryRepository {
	if f.redisClient != nil {
		return reliability.NewHistoryRepository(
			redisrepo.NewRedisHistoryRepository(f.redisClient), f.reliability, f.logger)
	}
	return memory.NewMemoryHistoryRepository()
}

// RedisClient is nil when the factory fell back to memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
