package extractor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/lrstanley/go-ytdlp"

	"github.com/denisAlshanov/tubegrab/internal/config"
	"github.com/denisAlshanov/tubegrab/internal/services/media"
)

// YtDlp drives the yt-dlp executable. Audio is transcoded by piping the
// best audio stream through ffmpeg, since yt-dlp's own audio extraction
// cannot write to stdout.
type YtDlp struct {
	path        string
	ffmpegPath  string
	cookiesFile string
	maxFileSize int64
}

func NewYtDlp(cfg *config.ExtractorConfig) *YtDlp {
	return &YtDlp{
		path:        cfg.YtDlpPath,
		ffmpegPath:  cfg.FFmpegPath,
		cookiesFile: cfg.CookiesFile,
		maxFileSize: cfg.MaxFileSize,
	}
}

func (y *YtDlp) Name() string {
	return config.BackendYtDlp
}

func (y *YtDlp) command() *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(y.path).
		NoPlaylist().
		NoCheckCertificates().
		NoWarnings()

	if y.cookiesFile != "" {
		cmd = cmd.Cookies(y.cookiesFile)
	}
	return cmd
}

func (y *YtDlp) ExtractMetadata(ctx context.Context, url string) ([]byte, error) {
	result, err := y.command().DumpSingleJSON().Run(ctx, url)
	if err != nil {
		if result != nil && result.Stderr != "" {
			return nil, fmt.Errorf("yt-dlp metadata: %w: %s", err, result.Stderr)
		}
		return nil, fmt.Errorf("yt-dlp metadata: %w", err)
	}
	return []byte(result.Stdout), nil
}

func (y *YtDlp) OpenStream(ctx context.Context, url string, selector media.FormatSelector) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	stages := []stage{{name: "yt-dlp", cmd: y.streamCommand(ctx, url, selector)}}
	if selector.ExtractAudio() {
		stages = append(stages, transcodeStage(ctx, y.ffmpegPath, selector))
	}

	stream, err := startPipeline(cancel, nil, stages...)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (y *YtDlp) streamCommand(ctx context.Context, url string, selector media.FormatSelector) *exec.Cmd {
	cmd := y.command().
		Format(selector.Expression()).
		Output("-").
		Quiet().
		NoProgress()

	if y.maxFileSize > 0 {
		cmd = cmd.MaxFileSize(strconv.FormatInt(y.maxFileSize, 10))
	}
	return cmd.BuildCommand(ctx, url)
}

// Check verifies both executables are on the path. It does not run them.
func (y *YtDlp) Check(ctx context.Context) error {
	if _, err := exec.LookPath(y.path); err != nil {
		return fmt.Errorf("yt-dlp not found: %w", err)
	}
	if _, err := exec.LookPath(y.ffmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}
