package extractor

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/denisAlshanov/tubegrab/internal/services/media"
)

// Limited caps how many extractor operations run at once. A stream holds
// its slot until it is closed.
type Limited struct {
	media.Extractor
	sem *semaphore.Weighted
}

func WithLimit(extractor media.Extractor, n int64) *Limited {
	if n <= 0 {
		n = 1
	}
	return &Limited{Extractor: extractor, sem: semaphore.NewWeighted(n)}
}

func (l *Limited) ExtractMetadata(ctx context.Context, url string) ([]byte, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for extractor slot: %w", err)
	}
	defer l.sem.Release(1)

	return l.Extractor.ExtractMetadata(ctx, url)
}

func (l *Limited) OpenStream(ctx context.Context, url string, selector media.FormatSelector) (io.ReadCloser, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for extractor slot: %w", err)
	}

	stream, err := l.Extractor.OpenStream(ctx, url, selector)
	if err != nil {
		l.sem.Release(1)
		return nil, err
	}
	return &slotStream{ReadCloser: stream, release: func() { l.sem.Release(1) }}, nil
}

type slotStream struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (s *slotStream) Close() error {
	err := s.ReadCloser.Close()
	s.once.Do(s.release)
	return err
}
