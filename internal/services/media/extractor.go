package media

import (
	"context"
	"io"
)

// Extractor is the contract of the external extraction engine.
type Extractor interface {
	// Name identifies the backend in logs and health output.
	Name() string

	// ExtractMetadata returns the engine's raw JSON description of url.
	ExtractMetadata(ctx context.Context, url string) ([]byte, error)

	// OpenStream starts a byte stream for url using selector. Reading to
	// io.EOF means the engine finished cleanly; any engine failure surfaces
	// as a read error. Close must release every resource the stream holds.
	OpenStream(ctx context.Context, url string, selector FormatSelector) (io.ReadCloser, error)

	// Check reports whether the engine is usable.
	Check(ctx context.Context) error
}
