package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/denisAlshanov/tubegrab/internal/config"
	"github.com/denisAlshanov/tubegrab/internal/services/media"
)

var errNoMatchingFormat = errors.New("no format matches the selector")

// Native talks to YouTube directly through kkdai/youtube. It cannot mux
// separate video and audio streams, so merged selector tiers are skipped.
type Native struct {
	client     *youtube.Client
	ffmpegPath string
}

func NewNative(cfg *config.ExtractorConfig) *Native {
	// No overall client timeout: streams run for as long as the download.
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          50,
		},
	}

	return &Native{
		client:     &youtube.Client{HTTPClient: httpClient},
		ffmpegPath: cfg.FFmpegPath,
	}
}

func (n *Native) Name() string {
	return config.BackendNative
}

// ExtractMetadata renders the video in the same JSON shape yt-dlp uses, so
// the resolver is backend agnostic.
func (n *Native) ExtractMetadata(ctx context.Context, url string) ([]byte, error) {
	video, err := n.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to get video info: %w", err)
	}
	return json.Marshal(nativeMetadata(video))
}

func (n *Native) OpenStream(ctx context.Context, url string, selector media.FormatSelector) (io.ReadCloser, error) {
	video, err := n.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	format, err := pickFormat(video.Formats, selector)
	if err != nil {
		return nil, err
	}

	body, _, err := n.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	if !selector.ExtractAudio() {
		return body, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := startPipeline(cancel, body, transcodeStage(ctx, n.ffmpegPath, selector))
	if err != nil {
		body.Close()
		return nil, err
	}
	stream.closers = append(stream.closers, body)
	return stream, nil
}

// Check only needs ffmpeg; the YouTube client is pure Go.
func (n *Native) Check(ctx context.Context) error {
	if _, err := exec.LookPath(n.ffmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

// pickFormat walks the selector tiers in order and returns the first
// single-stream match, ranked best or worst by resolution then bitrate.
func pickFormat(formats youtube.FormatList, selector media.FormatSelector) (*youtube.Format, error) {
	for _, tier := range selector.Tiers() {
		if tier.Merged() {
			continue
		}
		spec := tier[0]

		var candidates []*youtube.Format
		for i := range formats {
			if matchesSpec(&formats[i], spec) {
				candidates = append(candidates, &formats[i])
			}
		}
		if len(candidates) == 0 {
			continue
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return betterFormat(candidates[i], candidates[j])
		})
		if spec.Rank == media.RankWorst {
			return candidates[len(candidates)-1], nil
		}
		return candidates[0], nil
	}

	return nil, fmt.Errorf("%w: %s", errNoMatchingFormat, selector.Expression())
}

func matchesSpec(f *youtube.Format, spec media.StreamSpec) bool {
	mimeType := strings.ToLower(f.MimeType)
	isVideo := strings.HasPrefix(mimeType, "video/")
	isAudio := strings.HasPrefix(mimeType, "audio/")

	switch spec.Type {
	case media.StreamVideo:
		if !isVideo || f.AudioChannels > 0 {
			return false
		}
	case media.StreamAudio:
		if !isAudio {
			return false
		}
	default:
		if !isVideo || f.AudioChannels == 0 {
			return false
		}
	}

	if spec.Ext == "" {
		return true
	}
	return formatExt(f) == spec.Ext
}

// betterFormat orders by height, then bitrate, descending.
func betterFormat(a, b *youtube.Format) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	return a.Bitrate > b.Bitrate
}

func formatExt(f *youtube.Format) string {
	mimeType := strings.ToLower(f.MimeType)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}

	switch mimeType {
	case "video/mp4":
		return "mp4"
	case "audio/mp4":
		return "m4a"
	case "video/webm", "audio/webm":
		return "webm"
	case "video/3gpp":
		return "3gp"
	default:
		if _, sub, ok := strings.Cut(mimeType, "/"); ok {
			return sub
		}
		return ""
	}
}

type nativeFormat struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	MimeType   string `json:"mime_type"`
	FormatNote string `json:"format_note,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	FPS        int    `json:"fps,omitempty"`
	Bitrate    int    `json:"tbr,omitempty"`
	Filesize   int64  `json:"filesize,omitempty"`
	ACodec     string `json:"acodec"`
	VCodec     string `json:"vcodec"`
}

type nativeThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type nativeTrack struct {
	Ext string `json:"ext"`
	URL string `json:"url"`
}

type nativeVideo struct {
	ID                string                   `json:"id"`
	Title             string                   `json:"title"`
	Uploader          string                   `json:"uploader,omitempty"`
	Duration          float64                  `json:"duration"`
	Thumbnail         string                   `json:"thumbnail,omitempty"`
	Thumbnails        []nativeThumbnail        `json:"thumbnails"`
	Formats           []nativeFormat           `json:"formats"`
	Subtitles         map[string][]nativeTrack `json:"subtitles"`
	AutomaticCaptions map[string][]nativeTrack `json:"automatic_captions"`
}

func nativeMetadata(video *youtube.Video) nativeVideo {
	out := nativeVideo{
		ID:                video.ID,
		Title:             video.Title,
		Uploader:          video.Author,
		Duration:          video.Duration.Seconds(),
		Thumbnails:        make([]nativeThumbnail, 0, len(video.Thumbnails)),
		Formats:           make([]nativeFormat, 0, len(video.Formats)),
		Subtitles:         map[string][]nativeTrack{},
		AutomaticCaptions: map[string][]nativeTrack{},
	}

	var widest int
	for _, t := range video.Thumbnails {
		out.Thumbnails = append(out.Thumbnails, nativeThumbnail{URL: t.URL, Width: int(t.Width), Height: int(t.Height)})
		if area := int(t.Width) * int(t.Height); out.Thumbnail == "" || area > widest {
			out.Thumbnail = t.URL
			widest = area
		}
	}

	for i := range video.Formats {
		f := &video.Formats[i]
		nf := nativeFormat{
			FormatID:   strconv.Itoa(f.ItagNo),
			Ext:        formatExt(f),
			MimeType:   f.MimeType,
			FormatNote: f.QualityLabel,
			Width:      f.Width,
			Height:     f.Height,
			FPS:        f.FPS,
			Bitrate:    f.Bitrate / 1000,
			Filesize:   f.ContentLength,
			ACodec:     "none",
			VCodec:     "none",
		}
		codecs := mimeCodecs(f.MimeType)
		if strings.HasPrefix(f.MimeType, "audio/") {
			nf.ACodec = codecs
		} else if f.AudioChannels > 0 {
			nf.VCodec, nf.ACodec, _ = strings.Cut(codecs, ", ")
			if nf.ACodec == "" {
				nf.ACodec = "unknown"
			}
		} else {
			nf.VCodec = codecs
		}
		out.Formats = append(out.Formats, nf)
	}

	for _, track := range video.CaptionTracks {
		entry := nativeTrack{Ext: "vtt", URL: track.BaseURL + "&fmt=vtt"}
		if track.Kind == "asr" {
			out.AutomaticCaptions[track.LanguageCode] = append(out.AutomaticCaptions[track.LanguageCode], entry)
		} else {
			out.Subtitles[track.LanguageCode] = append(out.Subtitles[track.LanguageCode], entry)
		}
	}

	return out
}

// mimeCodecs extracts the codecs parameter, e.g. `video/mp4; codecs="avc1.42001E, mp4a.40.2"`.
func mimeCodecs(mimeType string) string {
	_, params, ok := strings.Cut(mimeType, "codecs=")
	if !ok {
		return "unknown"
	}
	return strings.Trim(strings.TrimSpace(params), `"`)
}
