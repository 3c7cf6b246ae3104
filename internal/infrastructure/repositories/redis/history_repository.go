package redis

import (
	"context"
	"fmt"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "meshcall:"
	historyPrefix   = keyPrefix + "history:user:"
	historyUsersKey = keyPrefix + "history:users"
)

// RedisHistoryRepository keeps one sorted set per user: members are meeting
// codes, scores are join times in milliseconds.
type RedisHistoryRepository struct {
	client *redis.Client
}

func NewRedisHistoryRepository(client *redis.Client) ports.HistoryRepository {
	return &RedisHistoryRepository{client: client}
}

func historyKey(userID domain.UserID) string {
	return historyPrefix + string(userID)
}

func (r *RedisHistoryRepository) Add(ctx context.Context, record *domain.MeetingRecord) error {
	added, err := r.client.ZAddNX(ctx, historyKey(record.UserID), redis.Z{
		Score:  float64(record.CreatedAt.UnixMilli()),
		Member: record.MeetingCode,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add history record to Redis: %w", err)
	}
	if added == 0 {
		return domain.ErrMeetingExists
	}

	if err := r.client.SAdd(ctx, historyUsersKey, string(record.UserID)).Err(); err != nil {
		return fmt.Errorf("failed to index history user: %w", err)
	}
	return nil
}

func (r *RedisHistoryRepository) Exists(ctx context.Context, userID domain.UserID, meetingCode string) (bool, error) {
	err := r.client.ZScore(ctx, historyKey(userID), meetingCode).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check history in Redis: %w", err)
	}
	return true, nil
}

func (r *RedisHistoryRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.MeetingRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	entries, err := r.client.ZRevRangeWithScores(ctx, historyKey(userID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list history from Redis: %w", err)
	}

	records := make([]*domain.MeetingRecord, 0, len(entries))
	for _, entry := range entries {
		code, ok := entry.Member.(string)
		if !ok {
			continue
		}
		records = append(records, &domain.MeetingRecord{
			UserID:      userID,
			MeetingCode: code,
			CreatedAt:   time.UnixMilli(int64(entry.Score)).UTC(),
		})
	}
	return records, nil
}
