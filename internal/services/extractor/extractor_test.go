package extractor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/denisAlshanov/tubegrab/internal/config"
	"github.com/denisAlshanov/tubegrab/internal/services/media"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

func TestMain(m *testing.M) {
	utils.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shell(ctx context.Context, name, script string) stage {
	return stage{name: name, cmd: exec.CommandContext(ctx, "sh", "-c", script)}
}

func TestPipelineStreamsThroughStages(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := startPipeline(cancel,
		nil,
		shell(ctx, "source", "printf 'hello pipeline'"),
		shell(ctx, "upper", "tr a-z A-Z"),
	)
	if err != nil {
		t.Fatalf("startPipeline() error = %v", err)
	}
	defer stream.Close()

	out, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(out) != "HELLO PIPELINE" {
		t.Errorf("output = %q, want HELLO PIPELINE", out)
	}
}

func TestPipelineFeedsInput(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := startPipeline(cancel, strings.NewReader("from input"), shell(ctx, "cat", "cat"))
	if err != nil {
		t.Fatalf("startPipeline() error = %v", err)
	}
	defer stream.Close()

	out, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(out) != "from input" {
		t.Errorf("output = %q", out)
	}
}

func TestPipelineExitStatusSurfacesAsReadError(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := startPipeline(cancel, nil, shell(ctx, "yt-dlp", "printf partial; echo 'ERROR: Video unavailable' >&2; exit 3"))
	if err != nil {
		t.Fatalf("startPipeline() error = %v", err)
	}
	defer stream.Close()

	out, err := io.ReadAll(stream)
	if err == nil {
		t.Fatal("ReadAll() expected error from non-zero exit")
	}
	if string(out) != "partial" {
		t.Errorf("output = %q, want partial", out)
	}
	if !strings.Contains(err.Error(), "Video unavailable") || !strings.Contains(err.Error(), "yt-dlp") {
		t.Errorf("error = %v, want stage name and stderr detail", err)
	}
}

func TestPipelineEarlyStageFailureWins(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := startPipeline(cancel, nil,
		shell(ctx, "yt-dlp", "printf abc; exit 1"),
		shell(ctx, "ffmpeg", "cat"),
	)
	if err != nil {
		t.Fatalf("startPipeline() error = %v", err)
	}
	defer stream.Close()

	if _, err := io.ReadAll(stream); err == nil || !strings.HasPrefix(err.Error(), "yt-dlp") {
		t.Errorf("ReadAll() error = %v, want yt-dlp failure", err)
	}
}

func TestPipelineCloseKillsProcess(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := startPipeline(cancel, nil, shell(ctx, "sleeper", "exec sleep 30"))
	if err != nil {
		t.Fatalf("startPipeline() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		stream.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close() did not reap the process")
	}
	if stream.procs[0].cmd.ProcessState == nil {
		t.Error("process was not waited for")
	}
}

func TestPipelineCloseDuringRead(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := startPipeline(cancel, nil, shell(ctx, "sleeper", "exec sleep 30"))
	if err != nil {
		t.Fatalf("startPipeline() error = %v", err)
	}

	readDone := make(chan error, 1)
	go func() {
		_, err := stream.Read(make([]byte, 16))
		readDone <- err
	}()

	// Give the reader time to block in Read.
	time.Sleep(50 * time.Millisecond)
	stream.Close()

	select {
	case err := <-readDone:
		if err == nil {
			t.Error("Read() after Close returned no error")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Read() stayed blocked after Close")
	}
}

func TestPipelineStartFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := startPipeline(cancel, nil, stage{
		name: "missing",
		cmd:  exec.CommandContext(ctx, "/nonexistent/tubegrab-extractor"),
	})
	if err == nil || !strings.Contains(err.Error(), "start missing") {
		t.Errorf("startPipeline() error = %v, want start failure", err)
	}
	if ctx.Err() == nil {
		t.Error("context should be cancelled after a failed start")
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	buf := newTailBuffer(8)
	buf.Write([]byte("0123456789"))
	buf.Write([]byte("ab"))

	if got := buf.String(); got != "456789ab" {
		t.Errorf("tail = %q, want 456789ab", got)
	}
}

func TestTranscodeArgs(t *testing.T) {
	args := strings.Join(transcodeArgs(media.Select(media.KindAudio, media.QualityLowest)), " ")

	for _, want := range []string{"-i pipe:0", "-q:a 0", "-f mp3", "pipe:1", "-vn"} {
		if !strings.Contains(args, want) {
			t.Errorf("transcode args %q missing %q", args, want)
		}
	}
}

func testFormats() youtube.FormatList {
	return youtube.FormatList{
		{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Height: 360, Bitrate: 500000, AudioChannels: 2},
		{ItagNo: 22, MimeType: `video/mp4; codecs="avc1.64001F, mp4a.40.2"`, Height: 720, Bitrate: 1500000, AudioChannels: 2},
		{ItagNo: 43, MimeType: `video/webm; codecs="vp8.0, vorbis"`, Height: 360, Bitrate: 400000, AudioChannels: 2},
		{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Height: 1080, Bitrate: 4000000},
		{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 130000, AudioChannels: 2},
		{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000, AudioChannels: 2},
		{ItagNo: 249, MimeType: `audio/webm; codecs="opus"`, Bitrate: 50000, AudioChannels: 2},
	}
}

func TestPickFormat(t *testing.T) {
	testCases := []struct {
		name     string
		formats  youtube.FormatList
		selector media.FormatSelector
		wantItag int
	}{
		{name: "Video highest takes best combined mp4", formats: testFormats(), selector: media.Select(media.KindVideo, media.QualityHighest), wantItag: 22},
		{name: "Video lowest takes worst combined mp4", formats: testFormats(), selector: media.Select(media.KindVideo, media.QualityLowest), wantItag: 18},
		{name: "Audio takes best audio stream", formats: testFormats(), selector: media.Select(media.KindAudio, media.QualityHighest), wantItag: 251},
		{
			name:     "Falls back to any combined stream",
			formats:  youtube.FormatList{testFormats()[2], testFormats()[3]},
			selector: media.Select(media.KindVideo, media.QualityHighest),
			wantItag: 43,
		},
		{
			name:     "Audio falls back to combined stream",
			formats:  youtube.FormatList{testFormats()[0], testFormats()[3]},
			selector: media.Select(media.KindAudio, media.QualityHighest),
			wantItag: 18,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			format, err := pickFormat(tc.formats, tc.selector)
			if err != nil {
				t.Fatalf("pickFormat() error = %v", err)
			}
			if format.ItagNo != tc.wantItag {
				t.Errorf("pickFormat() itag = %d, want %d", format.ItagNo, tc.wantItag)
			}
		})
	}
}

func TestPickFormatNoMatch(t *testing.T) {
	formats := youtube.FormatList{testFormats()[3]} // video-only

	_, err := pickFormat(formats, media.Select(media.KindVideo, media.QualityHighest))
	if !errors.Is(err, errNoMatchingFormat) {
		t.Errorf("pickFormat() error = %v, want errNoMatchingFormat", err)
	}
}

func TestNativeMetadataShape(t *testing.T) {
	video := &youtube.Video{
		ID:       "abc",
		Title:    "Native title",
		Author:   "Channel",
		Duration: 125 * time.Second,
		Formats:  testFormats(),
		Thumbnails: youtube.Thumbnails{
			{URL: "https://i.ytimg.com/small.jpg", Width: 120, Height: 90},
			{URL: "https://i.ytimg.com/large.jpg", Width: 1280, Height: 720},
		},
	}

	meta := nativeMetadata(video)
	if meta.Title != "Native title" || meta.Duration != 125 {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Thumbnail != "https://i.ytimg.com/large.jpg" {
		t.Errorf("Thumbnail = %q, want the largest", meta.Thumbnail)
	}
	if len(meta.Formats) != len(video.Formats) {
		t.Fatalf("Formats = %d, want %d", len(meta.Formats), len(video.Formats))
	}

	combined := meta.Formats[0]
	if combined.Ext != "mp4" || combined.VCodec != "avc1.42001E" || combined.ACodec != "mp4a.40.2" {
		t.Errorf("combined format = %+v", combined)
	}
	audio := meta.Formats[4]
	if audio.Ext != "m4a" || audio.VCodec != "none" || audio.ACodec != "mp4a.40.2" {
		t.Errorf("audio format = %+v", audio)
	}
}

// stubExtractor blocks in ExtractMetadata until release is closed.
type stubExtractor struct {
	release chan struct{}
	closed  chan struct{}
}

func (s *stubExtractor) Name() string { return "stub" }

func (s *stubExtractor) ExtractMetadata(ctx context.Context, url string) ([]byte, error) {
	select {
	case <-s.release:
		return []byte(`{}`), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stubExtractor) OpenStream(ctx context.Context, url string, selector media.FormatSelector) (io.ReadCloser, error) {
	return &notifyCloser{Reader: strings.NewReader("data"), closed: s.closed}, nil
}

func (s *stubExtractor) Check(ctx context.Context) error { return nil }

type notifyCloser struct {
	io.Reader
	closed chan struct{}
}

func (n *notifyCloser) Close() error {
	n.closed <- struct{}{}
	return nil
}

func TestLimitedBoundsConcurrency(t *testing.T) {
	stub := &stubExtractor{release: make(chan struct{}), closed: make(chan struct{}, 4)}
	limited := WithLimit(stub, 1)

	first := make(chan error, 1)
	go func() {
		_, err := limited.ExtractMetadata(context.Background(), "https://youtu.be/a")
		first <- err
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := limited.ExtractMetadata(ctx, "https://youtu.be/b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second ExtractMetadata() error = %v, want deadline while slot is held", err)
	}

	close(stub.release)
	if err := <-first; err != nil {
		t.Fatalf("first ExtractMetadata() error = %v", err)
	}

	stream, err := limited.OpenStream(context.Background(), "https://youtu.be/a", media.Select(media.KindVideo, media.QualityHighest))
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := limited.ExtractMetadata(ctx2, "https://youtu.be/c"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ExtractMetadata() during open stream error = %v, want deadline", err)
	}

	stream.Close()
	stream.Close()
	if _, err := limited.ExtractMetadata(context.Background(), "https://youtu.be/d"); err != nil {
		t.Errorf("ExtractMetadata() after close error = %v", err)
	}
	if limited.Name() != "stub" {
		t.Errorf("Name() = %q, want the wrapped backend's name", limited.Name())
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := &config.ExtractorConfig{Backend: config.BackendNative, FFmpegPath: "ffmpeg", MaxConcurrent: 2}
	extractor, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if extractor.Name() != config.BackendNative {
		t.Errorf("Name() = %q, want native", extractor.Name())
	}

	cfg.Backend = config.BackendYtDlp
	if extractor, err = New(cfg); err != nil || extractor.Name() != config.BackendYtDlp {
		t.Errorf("New(ytdlp) = %v, %v", extractor, err)
	}

	cfg.Backend = "vlc"
	if _, err := New(cfg); err == nil {
		t.Error("New() expected error for unknown backend")
	}
}
