package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/wayfarer/internal/answer"
	"github.com/hyperjump/wayfarer/internal/config"
	"github.com/hyperjump/wayfarer/internal/embedding"
	"github.com/hyperjump/wayfarer/internal/generation"
	"github.com/hyperjump/wayfarer/internal/grounding"
	"github.com/hyperjump/wayfarer/internal/ingest"
	"github.com/hyperjump/wayfarer/internal/keyword"
	"github.com/hyperjump/wayfarer/internal/registry"
	"github.com/hyperjump/wayfarer/internal/retrieval"
	"github.com/hyperjump/wayfarer/internal/storage"
	"github.com/hyperjump/wayfarer/internal/vector"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Storage   *storage.SQLiteStorage
	Embedder  embedding.Embedder
	Registry  *registry.Registry
	Catalog   *keyword.Catalog
	Engine    *retrieval.Engine
	Validator *grounding.Validator
	Answerer  *answer.Orchestrator
	Ingester  *ingest.Ingester
}

// Close releases every component that holds resources.
func (c *Components) Close() {
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

type componentOptions struct {
	// catalog builds the Bleve chunk catalog and keeps it in step with the registry.
	catalog bool
	// generator builds the answer generator and orchestrator.
	generator bool
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, opts componentOptions) (*Components, error) {
	c := &Components{Validator: grounding.NewValidator()}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	indexType := cfg.Vector.IndexType
	if indexType == string(vector.IndexTypeFAISS) && !vector.IsFAISSAvailable() {
		logger.Warn("FAISS not available in this build, falling back to memory index")
		indexType = string(vector.IndexTypeMemory)
	}
	reg, err := registry.New(cfg.Layers.Layout(), cfg.Embedding.Dimensions,
		registry.WithLogger(logger),
		registry.WithIndexType(indexType),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize layer registry: %w", err)
	}
	c.Registry = reg
	logger.Debug("layer registry initialized",
		zap.String("index_type", indexType),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	if opts.catalog {
		catalog, err := keyword.NewCatalog(cfg.Storage.CatalogPath, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize chunk catalog: %w", err)
		}
		catalog.Follow(reg)
		c.Catalog = catalog
	}

	c.Engine = retrieval.NewEngine(reg, embedder,
		retrieval.WithLogger(logger),
		retrieval.WithEmbedTimeout(cfg.Embedding.Timeout),
	)

	if opts.generator {
		gen, err := generation.New(cfg.Generation, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize generator: %w", err)
		}
		c.Answerer = answer.New(c.Engine, gen, c.Validator,
			answer.WithLogger(logger),
			answer.WithRecorder(store),
			answer.WithGenerationTimeout(cfg.Generation.Timeout),
		)
	}

	c.Ingester = ingest.NewIngester(reg, embedder, cfg.Ingest,
		ingest.WithLogger(logger),
		ingest.WithRecorder(store),
	)
	return c, nil
}

// loadLayers loads every layer or fails; a partially loaded registry must not serve.
func (c *Components) loadLayers(ctx context.Context) error {
	if err := c.Registry.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load layers (run `wayfarer ingest` first): %w", err)
	}
	return nil
}
