package media

import (
	"fmt"
	"strings"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// ParseMediaKind maps the request "format" field. Empty means video.
func ParseMediaKind(value string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(KindVideo):
		return KindVideo, nil
	case string(KindAudio):
		return KindAudio, nil
	default:
		return "", fmt.Errorf("unsupported format %q", value)
	}
}

func (k MediaKind) ContentType() string {
	if k == KindAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}

func (k MediaKind) Extension() string {
	if k == KindAudio {
		return "mp3"
	}
	return "mp4"
}

type QualityPreference string

const (
	QualityHighest QualityPreference = "highest"
	QualityLowest  QualityPreference = "lowest"
)

// ParseQuality maps the request "quality" field. Empty means highest.
func ParseQuality(value string) (QualityPreference, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(QualityHighest):
		return QualityHighest, nil
	case string(QualityLowest):
		return QualityLowest, nil
	default:
		return "", fmt.Errorf("unsupported quality %q", value)
	}
}

type Rank string

const (
	RankBest  Rank = "best"
	RankWorst Rank = "worst"
)

type StreamType string

const (
	StreamVideo    StreamType = "video"
	StreamAudio    StreamType = "audio"
	StreamCombined StreamType = ""
)

// StreamSpec is one term of a format expression, e.g. bestvideo[ext=mp4].
type StreamSpec struct {
	Rank Rank
	Type StreamType
	Ext  string
}

func (s StreamSpec) String() string {
	expr := string(s.Rank) + string(s.Type)
	if s.Ext != "" {
		expr += "[ext=" + s.Ext + "]"
	}
	return expr
}

// Tier is one alternative of the fallback chain. More than one spec means
// the streams are merged.
type Tier []StreamSpec

func (t Tier) String() string {
	parts := make([]string, len(t))
	for i, spec := range t {
		parts[i] = spec.String()
	}
	return strings.Join(parts, "+")
}

// Merged reports whether the tier needs separate streams muxed together.
func (t Tier) Merged() bool {
	return len(t) > 1
}

// BestAudioQuality is the top of the extractor's audio quality scale,
// which runs from 0 (best) to 10 (worst).
const BestAudioQuality = 0

// FormatSelector is the immutable directive handed to the extractor for a
// single download.
type FormatSelector struct {
	kind         MediaKind
	quality      QualityPreference
	extractAudio bool
	audioFormat  string
	audioQuality int
	tiers        []Tier
}

// Select is total over every (kind, quality) pair.
func Select(kind MediaKind, quality QualityPreference) FormatSelector {
	if kind == KindAudio {
		return FormatSelector{
			kind:         KindAudio,
			quality:      quality,
			extractAudio: true,
			audioFormat:  "mp3",
			audioQuality: BestAudioQuality,
			tiers: []Tier{
				{{Rank: RankBest, Type: StreamAudio}},
				{{Rank: RankBest, Type: StreamCombined}},
			},
		}
	}

	rank := RankBest
	if quality == QualityLowest {
		rank = RankWorst
	} else {
		quality = QualityHighest
	}

	return FormatSelector{
		kind:    KindVideo,
		quality: quality,
		tiers: []Tier{
			{{Rank: rank, Type: StreamVideo, Ext: "mp4"}, {Rank: rank, Type: StreamAudio, Ext: "m4a"}},
			{{Rank: rank, Type: StreamCombined, Ext: "mp4"}},
			{{Rank: rank, Type: StreamCombined}},
		},
	}
}

func (f FormatSelector) Kind() MediaKind {
	return f.kind
}

func (f FormatSelector) Quality() QualityPreference {
	return f.quality
}

func (f FormatSelector) ExtractAudio() bool {
	return f.extractAudio
}

func (f FormatSelector) AudioFormat() string {
	return f.audioFormat
}

func (f FormatSelector) AudioQuality() int {
	return f.audioQuality
}

// Tiers returns a copy of the fallback chain, most preferred first.
func (f FormatSelector) Tiers() []Tier {
	tiers := make([]Tier, len(f.tiers))
	for i, tier := range f.tiers {
		tiers[i] = append(Tier(nil), tier...)
	}
	return tiers
}

// Expression renders the fallback chain in extractor syntax, e.g.
// bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best.
func (f FormatSelector) Expression() string {
	parts := make([]string, len(f.tiers))
	for i, tier := range f.tiers {
		parts[i] = tier.String()
	}
	return strings.Join(parts, "/")
}

func (f FormatSelector) IsZero() bool {
	return len(f.tiers) == 0
}

func (f FormatSelector) String() string {
	if f.extractAudio {
		return fmt.Sprintf("extract-audio(%s, quality=%d) from %s", f.audioFormat, f.audioQuality, f.Expression())
	}
	return f.Expression()
}
