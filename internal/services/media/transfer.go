package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/denisAlshanov/tubegrab/internal/metrics"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

const (
	DefaultChunkSize      = 64 * 1024
	DefaultBufferedChunks = 4
)

var (
	// ErrFileTooLarge is wrapped into the transfer error when the stream
	// exceeds TransferOptions.MaxBytes.
	ErrFileTooLarge = errors.New("payload exceeds maximum file size")

	errStartTimeout = errors.New("no data from extractor before start timeout")
	errIdleTimeout  = errors.New("extractor stalled past idle timeout")
)

// ResponseSink is the client side of a transfer. Abort must tear down the
// connection so the client never mistakes a truncated body for a complete
// one; it may not return.
type ResponseSink interface {
	Header() http.Header
	Write(p []byte) (int, error)
	Flush()
	Abort()
}

type httpSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewHTTPSink adapts w. Abort panics with http.ErrAbortHandler, which
// net/http answers by closing the connection.
func NewHTTPSink(w http.ResponseWriter) ResponseSink {
	return &httpSink{w: w, rc: http.NewResponseController(w)}
}

func (s *httpSink) Header() http.Header         { return s.w.Header() }
func (s *httpSink) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *httpSink) Flush()                      { _ = s.rc.Flush() }
func (s *httpSink) Abort()                      { panic(http.ErrAbortHandler) }

type TransferOptions struct {
	ChunkSize      int
	BufferedChunks int
	// MaxBytes caps the payload. Zero means unlimited.
	MaxBytes int64
	// StartTimeout bounds the wait for the first chunk, IdleTimeout the gap
	// between later chunks. Zero disables either.
	StartTimeout time.Duration
	IdleTimeout  time.Duration
}

func (o TransferOptions) withDefaults() TransferOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.BufferedChunks <= 0 {
		o.BufferedChunks = DefaultBufferedChunks
	}
	return o
}

// TransferSession is the state of one in-flight download. It lives no
// longer than the request that created it.
type TransferSession struct {
	ID        string
	Reference VideoReference
	Kind      MediaKind
	Filename  string
	StartedAt time.Time

	written   atomic.Int64
	committed bool
}

func (s *TransferSession) Written() int64 {
	return s.written.Load()
}

// Committed reports whether any byte reached the sink.
func (s *TransferSession) Committed() bool {
	return s.committed
}

type TransferManager struct {
	extractor Extractor
	opts      TransferOptions
	metrics   *metrics.Metrics
}

func NewTransferManager(extractor Extractor, opts TransferOptions, m *metrics.Metrics) *TransferManager {
	return &TransferManager{
		extractor: extractor,
		opts:      opts.withDefaults(),
		metrics:   m,
	}
}

// Options returns the effective options after defaults.
func (m *TransferManager) Options() TransferOptions {
	return m.opts
}

// Transfer streams ref to sink.
//
// Failures before the first byte strip the download headers and return an
// error wrapping ErrUpstreamUnavailable; the caller still owns the
// response. Failures after the first byte call sink.Abort and return an
// error wrapping ErrMidStreamFault.
func (m *TransferManager) Transfer(ctx context.Context, ref VideoReference, selector FormatSelector, kind MediaKind, titleHint string, sink ResponseSink) error {
	if ref.IsZero() {
		return ErrInvalidURL
	}
	if selector.IsZero() {
		selector = Select(kind, QualityHighest)
	}

	session := &TransferSession{
		ID:        utils.GenerateSessionID(),
		Reference: ref,
		Kind:      kind,
		Filename:  Filename(titleHint, kind),
		StartedAt: time.Now(),
	}
	ctx = utils.WithSessionID(ctx, session.ID)

	header := sink.Header()
	header.Set("Content-Disposition", ContentDisposition(session.Filename))
	header.Set("Content-Type", kind.ContentType())

	m.metrics.TransferStarted()
	utils.LogInfo(ctx, "Starting transfer", utils.Fields{
		"url":       ref.URL(),
		"kind":      string(kind),
		"selector":  selector.String(),
		"filename":  session.Filename,
		"extractor": m.extractor.Name(),
	})

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One start budget covers the wait for an extractor slot, the open and
	// the first chunk.
	var deadline time.Time
	var openTimer *time.Timer
	if m.opts.StartTimeout > 0 {
		deadline = time.Now().Add(m.opts.StartTimeout)
		openTimer = time.AfterFunc(m.opts.StartTimeout, cancel)
	}
	upstream, err := m.extractor.OpenStream(streamCtx, ref.URL(), selector)
	if openTimer != nil && !openTimer.Stop() {
		if err == nil {
			upstream.Close()
		}
		err = errStartTimeout
	}
	if err != nil {
		return m.fail(ctx, session, sink, fmt.Errorf("open stream: %w", err))
	}

	if err := m.pump(streamCtx, cancel, deadline, session, upstream, sink); err != nil {
		return m.fail(ctx, session, sink, err)
	}

	m.finish(ctx, session, metrics.OutcomeCompleted, nil)
	return nil
}

// pump runs the producer/consumer loop. The producer reads into buffers
// taken from a fixed free list, so at most BufferedChunks chunks are held
// at any time regardless of payload size.
//
// ctx must be the context upstream was opened with and cancel must cancel
// it. firstByte is the deadline for the first chunk; zero means none.
func (m *TransferManager) pump(ctx context.Context, cancel context.CancelFunc, firstByte time.Time, session *TransferSession, upstream io.ReadCloser, sink ResponseSink) error {
	opts := m.opts

	free := make(chan []byte, opts.BufferedChunks)
	for i := 0; i < opts.BufferedChunks; i++ {
		free <- make([]byte, opts.ChunkSize)
	}
	chunks := make(chan []byte, opts.BufferedChunks)
	readErr := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(chunks)
		for {
			var buf []byte
			select {
			case buf = <-free:
			case <-ctx.Done():
				return
			}

			n, err := upstream.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-ctx.Done():
					return
				}
			} else {
				free <- buf
			}

			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	// The producer may be blocked in Read. Cancelling the stream context
	// and closing upstream unblock it and kill the extractor behind it.
	defer func() {
		cancel()
		if err := upstream.Close(); err != nil {
			utils.LogDebug(ctx, "Upstream close reported an error", utils.Fields{"error": err.Error()})
		}
		<-done
	}()

	var startWait time.Duration
	if !firstByte.IsZero() {
		// An expired budget still needs a timer that fires.
		startWait = max(time.Until(firstByte), time.Nanosecond)
	}
	timer, timeout := newStreamTimer(startWait)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	timeoutErr := errStartTimeout

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timeout:
			return timeoutErr

		case buf, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}

			if opts.MaxBytes > 0 && session.Written()+int64(len(buf)) > opts.MaxBytes {
				return ErrFileTooLarge
			}

			session.committed = true
			n, err := sink.Write(buf)
			session.written.Add(int64(n))
			free <- buf[:cap(buf)]
			if err != nil {
				return fmt.Errorf("write to client: %w", err)
			}
			sink.Flush()

			timeoutErr = errIdleTimeout
			timer, timeout = resetStreamTimer(timer, opts.IdleTimeout)
		}
	}
}

func newStreamTimer(d time.Duration) (*time.Timer, <-chan time.Time) {
	if d <= 0 {
		return nil, nil
	}
	t := time.NewTimer(d)
	return t, t.C
}

func resetStreamTimer(t *time.Timer, d time.Duration) (*time.Timer, <-chan time.Time) {
	if t == nil {
		return newStreamTimer(d)
	}
	t.Stop()
	if d <= 0 {
		return nil, nil
	}
	t.Reset(d)
	return t, t.C
}

func (m *TransferManager) fail(ctx context.Context, session *TransferSession, sink ResponseSink, cause error) error {
	if !session.committed {
		header := sink.Header()
		header.Del("Content-Disposition")
		header.Del("Content-Type")

		outcome := metrics.OutcomeUpstream
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCancelled
		}
		m.finish(ctx, session, outcome, cause)
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, cause)
	}

	outcome := metrics.OutcomeMidStream
	if ctx.Err() != nil {
		outcome = metrics.OutcomeCancelled
	}
	m.finish(ctx, session, outcome, cause)
	sink.Abort()
	return fmt.Errorf("%w: %w", ErrMidStreamFault, cause)
}

func (m *TransferManager) finish(ctx context.Context, session *TransferSession, outcome string, cause error) {
	written := session.Written()
	m.metrics.TransferFinished(string(session.Kind), outcome, written)

	fields := utils.Fields{
		"kind":          string(session.Kind),
		"outcome":       outcome,
		"bytes_written": written,
		"elapsed":       time.Since(session.StartedAt).String(),
	}
	if cause == nil {
		utils.LogInfo(ctx, "Transfer completed", fields)
		return
	}
	if outcome == metrics.OutcomeCancelled {
		fields["error"] = cause.Error()
		utils.LogWarn(ctx, "Transfer cancelled by client", fields)
		return
	}
	utils.LogError(ctx, "Transfer failed", cause, fields)
}
