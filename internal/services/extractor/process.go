package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/denisAlshanov/tubegrab/internal/services/media"
)

const (
	stderrTail = 4 * 1024
	waitDelay  = 5 * time.Second
)

type stage struct {
	name string
	cmd  *exec.Cmd
}

type process struct {
	name   string
	cmd    *exec.Cmd
	stderr *tailBuffer
}

// processStream is the stdout of the last process in a pipeline. Reading
// to io.EOF waits for every process, and a failed process surfaces as the
// read error. Close kills the pipeline and reaps it.
type processStream struct {
	stdout  io.ReadCloser
	procs   []*process
	cancel  context.CancelFunc
	closers []io.Closer

	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
}

// startPipeline connects stages stdout to stdin in order and starts them.
// input, when non-nil, feeds the first stage. cancel must cancel the
// context the stage commands were built with.
func startPipeline(cancel context.CancelFunc, input io.Reader, stages ...stage) (*processStream, error) {
	if len(stages) == 0 {
		cancel()
		return nil, errors.New("empty pipeline")
	}

	procs := make([]*process, len(stages))
	for i, s := range stages {
		p := &process{name: s.name, cmd: s.cmd, stderr: newTailBuffer(stderrTail)}
		p.cmd.Stderr = p.stderr
		p.cmd.WaitDelay = waitDelay
		procs[i] = p
	}
	if input != nil {
		procs[0].cmd.Stdin = input
	}

	var pipes []io.Closer
	closePipes := func() {
		for _, c := range pipes {
			c.Close()
		}
	}

	for i := 0; i < len(procs)-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			closePipes()
			cancel()
			return nil, fmt.Errorf("create pipe: %w", err)
		}
		procs[i].cmd.Stdout = pw
		procs[i+1].cmd.Stdin = pr
		pipes = append(pipes, pr, pw)
	}

	last := procs[len(procs)-1]
	stdout, err := last.cmd.StdoutPipe()
	if err != nil {
		closePipes()
		cancel()
		return nil, fmt.Errorf("%s stdout: %w", last.name, err)
	}

	for i, p := range procs {
		if err := p.cmd.Start(); err != nil {
			cancel()
			closePipes()
			for _, started := range procs[:i] {
				started.cmd.Wait()
			}
			return nil, fmt.Errorf("start %s: %w", p.name, err)
		}
	}

	// The children hold their own copies of the pipe ends.
	closePipes()

	return &processStream{
		stdout: stdout,
		procs:  procs,
		cancel: cancel,
	}, nil
}

func (s *processStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Close may run while another goroutine is blocked in Read. Closing stdout
// first makes that Read fail before cmd.Wait touches the pipe.
func (s *processStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.stdout.Close()
		for _, c := range s.closers {
			c.Close()
		}
		s.wait()
	})
	return nil
}

func (s *processStream) wait() error {
	s.waitOnce.Do(func() {
		for _, p := range s.procs {
			if err := p.cmd.Wait(); err != nil && s.waitErr == nil {
				s.waitErr = processError(p, err)
			}
		}
	})
	return s.waitErr
}

func processError(p *process, err error) error {
	if detail := strings.TrimSpace(p.stderr.String()); detail != "" {
		return fmt.Errorf("%s: %w: %s", p.name, err, detail)
	}
	return fmt.Errorf("%s: %w", p.name, err)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// transcodeArgs makes ffmpeg read any container on stdin and write mp3 to
// stdout at the selector's VBR quality.
func transcodeArgs(selector media.FormatSelector) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-codec:a", "libmp3lame",
		"-q:a", strconv.Itoa(selector.AudioQuality()),
		"-f", selector.AudioFormat(),
		"pipe:1",
	}
}

func transcodeStage(ctx context.Context, ffmpegPath string, selector media.FormatSelector) stage {
	return stage{
		name: "ffmpeg",
		cmd:  exec.CommandContext(ctx, ffmpegPath, transcodeArgs(selector)...),
	}
}
