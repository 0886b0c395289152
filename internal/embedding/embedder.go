// Package embedding provides text embedding via ONNX, a deterministic mock, and caching.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/wayfarer/internal/config"
	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New builds the embedder named by cfg.Provider and wraps it in an LRU cache.
// When the ONNX runtime or model is unavailable New fails, unless
// cfg.AllowMockFallback is set; then it logs a warning and uses the mock embedder.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var base Embedder
	switch cfg.Provider {
	case "mock":
		base = NewMockEmbedder(cfg.Dimensions)
	case "onnx", "":
		onnx, err := NewONNXEmbedder(cfg)
		if err != nil && !cfg.AllowMockFallback {
			return nil, fmt.Errorf("onnx embedder (set embedding.allow_mock_fallback for development): %w", err)
		}
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using mock embedder",
				zap.String("model_path", cfg.ModelPath),
				zap.Error(err),
			)
			base = NewMockEmbedder(cfg.Dimensions)
		} else {
			base = onnx
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, mock)", cfg.Provider)
	}
	if cfg.CacheSize <= 0 {
		return base, nil
	}
	return NewCachedEmbedder(base, cfg.CacheSize), nil
}
