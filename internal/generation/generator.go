package generation

import (
	"fmt"
	"strings"

	"github.com/hyperjump/wayfarer/internal/answer"
	"github.com/hyperjump/wayfarer/internal/config"
	"go.uber.org/zap"
)

// Provider names accepted in generation.provider.
const (
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
	ProviderExtractive = "extractive"
)

// New returns the generator selected by cfg.Provider.
func New(cfg config.GenerationConfig, logger *zap.Logger) (answer.Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama:
		return NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout, logger), nil
	case ProviderOpenAI:
		g, err := NewOpenAIGenerator(cfg.BaseURL, cfg.ResolveAPIKey(), cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderExtractive:
		return NewExtractiveGenerator(cfg.FallbackMessage), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}
