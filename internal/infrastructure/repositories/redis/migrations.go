package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey = keyPrefix + "schema:version"
	migrationLockKey = keyPrefix + "lock:migrations"
)

type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

var migrations = []Migration{
	{Version: 1, Up: func(context.Context, *redis.Client) error { return nil }},
	{Version: 2, Up: indexHistoryUsers},
}

// Migrate applies every migration newer than the stored schema version.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	current, err := schemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	target := migrations[len(migrations)-1].Version
	if current >= target {
		logger.Debugw("schema is up to date", "version", current)
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Infow("running migration", "version", m.Version)
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	logger.Infow("migrations completed", "from_version", current, "to_version", target)
	return nil
}

func schemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	v, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// indexHistoryUsers backfills the set of users that have history, which
// version 1 did not maintain.
func indexHistoryUsers(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, historyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		user := strings.TrimPrefix(iter.Val(), historyPrefix)
		if err := client.SAdd(ctx, historyUsersKey, user).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
