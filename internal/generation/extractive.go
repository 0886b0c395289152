package generation

import (
	"context"
	"strings"
)

// ExtractiveGenerator answers offline with the nearest passage. It never calls a model,
// so its answers always ground fully in the first context passage.
type ExtractiveGenerator struct {
	fallback string
}

// NewExtractiveGenerator returns a generator that answers with fallback when there is no
// context.
func NewExtractiveGenerator(fallback string) *ExtractiveGenerator {
	return &ExtractiveGenerator{fallback: fallback}
}

// Generate implements answer.Generator.
func (g *ExtractiveGenerator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, c := range contexts {
		if text := strings.TrimSpace(c); text != "" {
			return text, nil
		}
	}
	return g.fallback, nil
}
