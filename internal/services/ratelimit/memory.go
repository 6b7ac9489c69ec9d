package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultCleanupInterval = time.Minute

type counter struct {
	count   int64
	resetAt time.Time
}

// MemoryStore keeps one window per key, opened by the key's first hit.
// A janitor goroutine drops expired windows until Close.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      Clock
	interval time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type MemoryOption func(*MemoryStore)

func WithClock(now Clock) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.interval = d
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		counters: make(map[string]*counter),
		now:      time.Now,
		interval: defaultCleanupInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanup()

	return s
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++

	return c.count, c.resetAt, nil
}

func (s *MemoryStore) cleanup() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, c := range s.counters {
		if !now.Before(c.resetAt) {
			delete(s.counters, key)
		}
	}
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}
