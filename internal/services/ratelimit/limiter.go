package ratelimit

import (
	"context"
	"time"

	"github.com/denisAlshanov/tubegrab/internal/utils"
)

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, rounded up to whole
// seconds and never below one.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return (wait + time.Second - 1).Truncate(time.Second)
}

// Limiter admits at most limit requests per window per key. It never
// queues: over the limit is an immediate rejection.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow counts one request for key. When the store fails the request is
// admitted and the error is returned for the caller to report.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, resetAt, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		utils.LogError(ctx, "Rate limit store failed, admitting request", err, utils.Fields{
			"key": key,
		})
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: resetAt}, err
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func (l *Limiter) Close() error {
	return l.store.Close()
}
