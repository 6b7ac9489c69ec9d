// Package ratelimit implements fixed-window admission counters shared by
// every request of the process.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/denisAlshanov/tubegrab/internal/config"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// Store counts hits per key in fixed windows. Implementations must be safe
// for concurrent use.
type Store interface {
	// Increment records one hit for key and returns the hit count of the
	// current window and the moment that window ends.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)

	// Close releases background resources.
	Close() error
}

// NewStore builds the store named by cfg.RateLimitStore. An unreachable
// Redis falls back to the in-memory store.
func NewStore(ctx context.Context, cfg *config.APIConfig) (Store, error) {
	switch cfg.RateLimitStore {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil
	case config.StoreRedis:
		store, err := NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			utils.LogWarn(ctx, "Redis not available, using in-memory rate limit store", utils.Fields{
				"error": err.Error(),
			})
			store.Close()
			return NewMemoryStore(), nil
		}
		utils.LogInfo(ctx, "Using Redis rate limit store")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.RateLimitStore)
	}
}
