package extractor

import (
	"context"
	"fmt"

	"github.com/denisAlshanov/tubegrab/internal/config"
	"github.com/denisAlshanov/tubegrab/internal/services/media"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

// New creates the configured extractor backend behind a concurrency limit.
func New(cfg *config.ExtractorConfig) (media.Extractor, error) {
	var backend media.Extractor
	switch cfg.Backend {
	case config.BackendYtDlp:
		backend = NewYtDlp(cfg)
	case config.BackendNative:
		backend = NewNative(cfg)
	default:
		return nil, fmt.Errorf("unknown extractor backend %q", cfg.Backend)
	}

	utils.LogInfo(context.Background(), "Extractor configured", utils.Fields{
		"backend":        backend.Name(),
		"max_concurrent": cfg.MaxConcurrent,
	})

	return WithLimit(backend, int64(cfg.MaxConcurrent)), nil
}
