package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/denisAlshanov/tubegrab/internal/metrics"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

// VideoMetadata is the normalized view of one video. Formats, Subtitles and
// AutomaticCaptions are passed through from the extractor uninterpreted.
type VideoMetadata struct {
	Title     string          `json:"title"`
	Duration  string          `json:"duration"`
	Thumbnail string          `json:"thumbnail"`
	Formats   json.RawMessage `json:"formats"`

	Thumbnails        []Thumbnail     `json:"-"`
	Subtitles         json.RawMessage `json:"-"`
	AutomaticCaptions json.RawMessage `json:"-"`
}

type Thumbnail struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// rawMetadata is the subset of the extractor JSON the resolver reads.
type rawMetadata struct {
	Title             string          `json:"title"`
	Duration          float64         `json:"duration"`
	Thumbnail         string          `json:"thumbnail"`
	Thumbnails        []rawThumbnail  `json:"thumbnails"`
	Formats           json.RawMessage `json:"formats"`
	Subtitles         json.RawMessage `json:"subtitles"`
	AutomaticCaptions json.RawMessage `json:"automatic_captions"`
}

type rawThumbnail struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type Resolver struct {
	extractor Extractor
	timeout   time.Duration
	metrics   *metrics.Metrics
	group     singleflight.Group
}

// DefaultResolveTimeout bounds metadata calls when no timeout is given.
// Shared calls outlive their callers, so they are never unbounded.
const DefaultResolveTimeout = 30 * time.Second

// NewResolver returns a Resolver that bounds every extractor call by
// timeout, or DefaultResolveTimeout when timeout is not positive.
func NewResolver(extractor Extractor, timeout time.Duration, m *metrics.Metrics) *Resolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &Resolver{
		extractor: extractor,
		timeout:   timeout,
		metrics:   m,
	}
}

// Resolve fetches and normalizes metadata for ref. Concurrent calls for the
// same URL share one extractor invocation. Every failure wraps
// ErrUpstreamUnavailable.
func (r *Resolver) Resolve(ctx context.Context, ref VideoReference) (*VideoMetadata, error) {
	if ref.IsZero() {
		return nil, ErrInvalidURL
	}

	ch := r.group.DoChan(ref.URL(), func() (interface{}, error) {
		return r.resolve(context.WithoutCancel(ctx), ref)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Shared callers each get their own copy.
		meta := *res.Val.(*VideoMetadata)
		meta.Thumbnails = append([]Thumbnail(nil), meta.Thumbnails...)
		return &meta, nil
	}
}

func (r *Resolver) resolve(ctx context.Context, ref VideoReference) (*VideoMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	raw, err := r.extractor.ExtractMetadata(ctx, ref.URL())
	if err == nil {
		var meta *VideoMetadata
		meta, err = parseMetadata(raw)
		if err == nil {
			r.metrics.ObserveResolve(time.Since(start), nil)
			utils.LogDebug(ctx, "Resolved video metadata", utils.Fields{
				"extractor": r.extractor.Name(),
				"url":       ref.URL(),
				"duration":  time.Since(start).String(),
			})
			return meta, nil
		}
	}

	r.metrics.ObserveResolve(time.Since(start), err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("extractor timed out after %s: %w", r.timeout, err)
	}
	utils.LogError(ctx, "Failed to resolve video metadata", err, utils.Fields{
		"extractor": r.extractor.Name(),
		"url":       ref.URL(),
	})
	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

func parseMetadata(data []byte) (*VideoMetadata, error) {
	var raw rawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed extractor output: %w", err)
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return nil, errors.New("extractor returned no title")
	}

	formats := raw.Formats
	if len(formats) == 0 || string(formats) == "null" {
		formats = json.RawMessage("[]")
	}

	return &VideoMetadata{
		Title:             title,
		Duration:          FormatDuration(int(math.Round(raw.Duration))),
		Thumbnail:         raw.Thumbnail,
		Formats:           formats,
		Thumbnails:        normalizeThumbnails(raw.Thumbnail, raw.Thumbnails),
		Subtitles:         emptyObjectIfNull(raw.Subtitles),
		AutomaticCaptions: emptyObjectIfNull(raw.AutomaticCaptions),
	}, nil
}

// normalizeThumbnails orders thumbnails widest first and drops duplicate
// URLs. The single thumbnail field is used when no list was reported.
func normalizeThumbnails(fallback string, raw []rawThumbnail) []Thumbnail {
	sorted := make([]rawThumbnail, 0, len(raw))
	for _, t := range raw {
		if t.URL != "" {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Width*sorted[i].Height > sorted[j].Width*sorted[j].Height
	})

	seen := make(map[string]struct{}, len(sorted))
	thumbnails := make([]Thumbnail, 0, len(sorted)+1)
	for _, t := range sorted {
		if _, ok := seen[t.URL]; ok {
			continue
		}
		seen[t.URL] = struct{}{}
		thumbnails = append(thumbnails, Thumbnail{
			URL:     t.URL,
			Quality: thumbnailQuality(t),
			Width:   t.Width,
			Height:  t.Height,
		})
	}

	if len(thumbnails) == 0 && fallback != "" {
		thumbnails = append(thumbnails, Thumbnail{URL: fallback, Quality: "default"})
	}
	return thumbnails
}

func thumbnailQuality(t rawThumbnail) string {
	switch {
	case t.Width > 0 && t.Height > 0:
		return strconv.Itoa(t.Width) + "x" + strconv.Itoa(t.Height)
	case t.ID != "":
		return t.ID
	default:
		return "default"
	}
}

func emptyObjectIfNull(data json.RawMessage) json.RawMessage {
	if len(data) == 0 || string(data) == "null" {
		return json.RawMessage("{}")
	}
	return data
}
