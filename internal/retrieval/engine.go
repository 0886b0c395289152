// Package retrieval embeds questions and searches the layered indexes.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/wayfarer/internal/embedding"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/registry"
	"github.com/hyperjump/wayfarer/pkg/utils"
	"go.uber.org/zap"
)

// LayerSource resolves a layer selector to the current layer indexes. *registry.Registry
// implements it.
type LayerSource interface {
	Get(selector models.Layer) ([]*registry.LayerIndex, error)
}

// Engine runs layer-scoped nearest-neighbour retrieval.
type Engine struct {
	layers       LayerSource
	embedder     embedding.Embedder
	embedTimeout time.Duration
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmbedTimeout bounds the query embedding call. Zero means no bound beyond ctx.
func WithEmbedTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.embedTimeout = d
	}
}

// NewEngine creates a retrieval engine over layers using embedder for queries.
func NewEngine(layers LayerSource, embedder embedding.Embedder, opts ...Option) *Engine {
	e := &Engine{
		layers:   layers,
		embedder: embedder,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns the k nearest chunks to query from the selected layer. For ALL, each
// layer is searched independently with the same vector and k, and the results are
// concatenated grouped by layer in the order CORE, CONTEXT_INTELLIGENCE,
// EXPERIENCE_STRATEGY; distances are never compared across layers. An empty layer
// contributes no results.
func (e *Engine) Retrieve(ctx context.Context, query string, selector models.Layer, k int) ([]models.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", models.ErrInvalidArgument)
	}
	indexes, err := e.layers.Get(selector)
	if err != nil {
		return nil, err
	}

	queryVec, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(indexes) == 1 {
		return searchLayer(ctx, indexes[0], queryVec, k)
	}

	perLayer := make([][]models.RetrievalResult, len(indexes))
	errChan := make(chan error, len(indexes))
	var wg sync.WaitGroup
	for i, li := range indexes {
		wg.Add(1)
		go func(i int, li *registry.LayerIndex) {
			defer wg.Done()
			results, err := searchLayer(ctx, li, queryVec, k)
			if err != nil {
				errChan <- err
				return
			}
			perLayer[i] = results
		}(i, li)
	}
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	var merged []models.RetrievalResult
	for _, results := range perLayer {
		merged = append(merged, results...)
	}
	if merged == nil {
		merged = []models.RetrievalResult{}
	}
	e.logger.Debug("retrieved",
		zap.String("layer", selector.String()),
		zap.Int("k", k),
		zap.Int("results", len(merged)),
	)
	return merged, nil
}

func (e *Engine) embed(ctx context.Context, query string) ([]float32, error) {
	vec, err := utils.CallWithTimeout(ctx, e.embedTimeout, func(ctx context.Context) ([]float32, error) {
		return e.embedder.Embed(ctx, query)
	})
	if errors.Is(err, utils.ErrDeadline) {
		msg := utils.DescribeDeadline(ctx, "embedding", e.embedTimeout)
		e.logger.Warn("query embedding timed out", zap.String("reason", msg))
		return nil, fmt.Errorf("%w: %s", models.ErrTimeout, msg)
	}
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

func searchLayer(ctx context.Context, li *registry.LayerIndex, queryVec []float32, k int) ([]models.RetrievalResult, error) {
	results, err := li.Search(ctx, queryVec, k)
	if errors.Is(err, models.ErrEmptyIndex) {
		return []models.RetrievalResult{}, nil
	}
	if err != nil {
		return nil, models.WrapError("search", li.Layer(), err)
	}
	return results, nil
}
