package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "tubegrab:ratelimit:"

// RedisStore shares counters between replicas. Windows are aligned to the
// epoch so every replica agrees on bucket boundaries.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    Clock
}

func NewRedisStore(client *redis.Client, now Clock) *RedisStore {
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: defaultKeyPrefix, now: now}
}

func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), nil), nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()
	size := window.Milliseconds()
	if size <= 0 {
		size = 1
	}
	bucket := now.UnixMilli() / size
	resetAt := time.UnixMilli((bucket + 1) * size)
	redisKey := fmt.Sprintf("%s%s:%d", s.prefix, key, bucket)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, resetAt.Sub(now)+time.Second)
		return nil
	})
	if err != nil {
		return 0, resetAt, fmt.Errorf("redis increment: %w", err)
	}

	return incr.Val(), resetAt, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
