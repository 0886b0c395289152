// Package registry owns one LayerIndex per knowledge layer and replaces them atomically.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/wayfarer/internal/config"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/vector"
	"go.uber.org/zap"
)

// Registry holds the current LayerIndex of each concrete layer behind an atomic pointer.
// Readers take a snapshot with Get and never observe a partially replaced layer. The
// registry is created once per process and passed to every component that needs it.
type Registry struct {
	layout     map[models.Layer]config.LayerFiles
	dimensions int
	indexType  string
	layers     map[models.Layer]*atomic.Pointer[LayerIndex]
	logger     *zap.Logger

	loadOnce sync.Once
	loadErr  error

	hooksMu sync.RWMutex
	hooks   []func(*LayerIndex)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIndexType selects the vector index implementation ("memory" or "faiss").
func WithIndexType(indexType string) Option {
	return func(r *Registry) {
		r.indexType = indexType
	}
}

// New creates an empty registry. layout maps each concrete layer to its persisted files;
// dimensions is the embedding width every layer must match.
func New(layout map[models.Layer]config.LayerFiles, dimensions int, opts ...Option) (*Registry, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", models.ErrInvalidArgument)
	}
	r := &Registry{
		layout:     make(map[models.Layer]config.LayerFiles, len(layout)),
		dimensions: dimensions,
		indexType:  string(vector.IndexTypeMemory),
		layers:     make(map[models.Layer]*atomic.Pointer[LayerIndex]),
		logger:     zap.NewNop(),
	}
	for _, l := range models.Layers() {
		r.layers[l] = &atomic.Pointer[LayerIndex]{}
	}
	for l, files := range layout {
		if !l.Concrete() {
			return nil, fmt.Errorf("%w: layout entry for %v", models.ErrUnknownLayer, l)
		}
		r.layout[l] = files
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Dimensions returns the configured embedding width.
func (r *Registry) Dimensions() int {
	return r.dimensions
}

// IndexType returns the configured vector index type.
func (r *Registry) IndexType() string {
	return r.indexType
}

// Files returns the persisted file pair configured for layer.
func (r *Registry) Files(layer models.Layer) (config.LayerFiles, bool) {
	files, ok := r.layout[layer]
	return files, ok
}

// LoadOrBuild reads the persisted vectors and metadata of layer and validates them: the
// vector file must be the one the metadata was written with, the dimension and counts
// must match, and every record must name this layer.
// It never builds an index from nothing; any problem is models.ErrIndexLoad.
func (r *Registry) LoadOrBuild(ctx context.Context, layer models.Layer) (*LayerIndex, error) {
	if !layer.Concrete() {
		return nil, models.WrapError("load", layer, models.ErrUnknownLayer)
	}
	files, ok := r.layout[layer]
	if !ok || files.Vectors == "" || files.Metadata == "" {
		return nil, models.WrapError("load", layer, fmt.Errorf("%w: no files configured", models.ErrIndexLoad))
	}

	md, err := ReadMetadata(files.Metadata)
	if err != nil {
		return nil, models.WrapError("load", layer, fmt.Errorf("%w: %s: %w", models.ErrIndexLoad, files.Metadata, err))
	}
	index, err := vector.NewVectorIndex(r.indexType, r.dimensions)
	if err != nil {
		return nil, models.WrapError("load", layer, fmt.Errorf("%w: %w", models.ErrIndexLoad, err))
	}
	if err := index.Load(files.Vectors); err != nil {
		_ = index.Close()
		return nil, models.WrapError("load", layer, fmt.Errorf("%w: %s: %w", models.ErrIndexLoad, files.Vectors, err))
	}
	// Hashed after Load: a vector file swapped in during Load cannot pass.
	digest, err := FileSHA256(files.Vectors)
	if err != nil {
		_ = index.Close()
		return nil, models.WrapError("load", layer, fmt.Errorf("%w: %s: %w", models.ErrIndexLoad, files.Vectors, err))
	}
	if digest != md.VectorsSHA256 {
		_ = index.Close()
		return nil, models.WrapError("load", layer, fmt.Errorf("%w: %s was not written with %s (sha256 %.12s, metadata expects %.12s)",
			models.ErrIndexLoad, files.Vectors, files.Metadata, digest, md.VectorsSHA256))
	}
	li, err := NewLayerIndex(layer, index, md.Chunks)
	if err != nil {
		_ = index.Close()
		return nil, models.WrapError("load", layer, fmt.Errorf("%w: %w", models.ErrIndexLoad, err))
	}
	r.logger.Debug("layer loaded",
		zap.String("layer", layer.String()),
		zap.Int("chunks", li.Size()),
		zap.String("vectors", files.Vectors),
	)
	return li, nil
}

// LoadAll loads every concrete layer exactly once per registry. Layers are published only
// when all of them load; otherwise nothing is published and every failure is returned.
// Later calls return the result of the first.
func (r *Registry) LoadAll(ctx context.Context) error {
	r.loadOnce.Do(func() {
		start := time.Now()
		loaded := make([]*LayerIndex, 0, len(r.layers))
		var errs []error
		for _, l := range models.Layers() {
			li, err := r.LoadOrBuild(ctx, l)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			loaded = append(loaded, li)
		}
		if len(errs) > 0 {
			for _, li := range loaded {
				_ = li.close()
			}
			r.loadErr = errors.Join(errs...)
			return
		}
		for _, li := range loaded {
			r.Swap(li)
		}
		r.logger.Info("layers loaded",
			zap.Int("layers", len(loaded)),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
	return r.loadErr
}

// Get returns the current index of a concrete layer, or all three in the fixed order
// CORE, CONTEXT_INTELLIGENCE, EXPERIENCE_STRATEGY for ALL.
func (r *Registry) Get(selector models.Layer) ([]*LayerIndex, error) {
	if !selector.Valid() {
		return nil, models.WrapError("get", selector, models.ErrUnknownLayer)
	}
	layers := []models.Layer{selector}
	if selector == models.LayerAll {
		layers = models.Layers()
	}
	out := make([]*LayerIndex, 0, len(layers))
	for _, l := range layers {
		li := r.layers[l].Load()
		if li == nil {
			return nil, models.WrapError("get", l, fmt.Errorf("%w: layer not loaded", models.ErrIndexLoad))
		}
		out = append(out, li)
	}
	return out, nil
}

// Swap publishes li as its layer's current index and returns the previous one (nil if
// none). The previous index is not closed: in-flight searches may still be using it.
func (r *Registry) Swap(li *LayerIndex) *LayerIndex {
	old := r.layers[li.Layer()].Swap(li)
	r.logger.Info("layer swapped",
		zap.String("layer", li.Layer().String()),
		zap.Int("chunks", li.Size()),
	)
	r.hooksMu.RLock()
	hooks := append([]func(*LayerIndex){}, r.hooks...)
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(li)
	}
	return old
}

// Reload re-reads layer from disk and swaps it in. On failure the current index stays.
func (r *Registry) Reload(ctx context.Context, layer models.Layer) error {
	li, err := r.LoadOrBuild(ctx, layer)
	if err != nil {
		r.logger.Warn("layer reload failed, keeping current index",
			zap.String("layer", layer.String()),
			zap.Error(err),
		)
		return err
	}
	r.Swap(li)
	return nil
}

// Build creates a LayerIndex for layer from chunks and their vectors, in memory. It does
// not publish it; use Swap or WriteLayer.
func (r *Registry) Build(ctx context.Context, layer models.Layer, chunks []models.Chunk, vectors [][]float32) (*LayerIndex, error) {
	if len(chunks) != len(vectors) {
		return nil, models.WrapError("build", layer,
			fmt.Errorf("%w: %d chunks, %d vectors", models.ErrInvalidArgument, len(chunks), len(vectors)))
	}
	index, err := vector.NewVectorIndex(r.indexType, r.dimensions)
	if err != nil {
		return nil, models.WrapError("build", layer, err)
	}
	if err := index.Build(ctx, vectors); err != nil {
		_ = index.Close()
		return nil, models.WrapError("build", layer, err)
	}
	li, err := NewLayerIndex(layer, index, chunks)
	if err != nil {
		_ = index.Close()
		return nil, models.WrapError("build", layer, err)
	}
	return li, nil
}

// OnSwap registers fn to run after every layer is published. fn runs synchronously on the
// publishing goroutine.
func (r *Registry) OnSwap(fn func(*LayerIndex)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Ready reports whether every concrete layer has been published.
func (r *Registry) Ready() bool {
	for _, l := range models.Layers() {
		if r.layers[l].Load() == nil {
			return false
		}
	}
	return true
}

// Stats returns one entry per concrete layer, in fixed order.
func (r *Registry) Stats() []models.LayerStatus {
	stats := make([]models.LayerStatus, 0, len(r.layers))
	for _, l := range models.Layers() {
		s := models.LayerStatus{Layer: l, Dimensions: r.dimensions}
		if li := r.layers[l].Load(); li != nil {
			loadedAt := li.LoadedAt()
			s.Loaded = true
			s.Chunks = li.Size()
			s.IndexType = li.IndexType()
			s.LoadedAt = &loadedAt
		}
		stats = append(stats, s)
	}
	return stats
}

// Close releases the current index of every layer.
func (r *Registry) Close() error {
	var errs []error
	for _, l := range models.Layers() {
		if li := r.layers[l].Swap(nil); li != nil {
			if err := li.close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
