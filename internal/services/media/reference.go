package media

import (
	"net/url"
	"strings"
)

// supportedHosts lists the exact hostnames a VideoReference may point at.
var supportedHosts = map[string]struct{}{
	"youtube.com":     {},
	"www.youtube.com": {},
	"m.youtube.com":   {},
	"youtu.be":        {},
}

// VideoReference is a URL that passed Validate. The zero value is not a
// valid reference.
type VideoReference struct {
	raw string
}

// Validate accepts absolute http(s) URLs on a supported host. It performs
// no network I/O.
func Validate(raw string) (VideoReference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return VideoReference{}, ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return VideoReference{}, ErrInvalidURL
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return VideoReference{}, ErrInvalidURL
	}

	if _, ok := supportedHosts[strings.ToLower(u.Hostname())]; !ok {
		return VideoReference{}, ErrInvalidURL
	}

	return VideoReference{raw: raw}, nil
}

// IsValid reports whether raw would pass Validate.
func IsValid(raw string) bool {
	_, err := Validate(raw)
	return err == nil
}

func (r VideoReference) URL() string {
	return r.raw
}

func (r VideoReference) String() string {
	return r.raw
}

func (r VideoReference) IsZero() bool {
	return r.raw == ""
}
