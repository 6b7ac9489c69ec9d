package media

import "errors"

var (
	// ErrInvalidURL is the single validation failure for malformed URLs and
	// URLs on unsupported hosts.
	ErrInvalidURL = errors.New("invalid video URL")

	// ErrUpstreamUnavailable covers every extractor failure that happens
	// before the client has received any bytes.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMidStreamFault means the stream broke after the response was
	// committed; the connection has been aborted.
	ErrMidStreamFault = errors.New("mid-stream fault")
)
