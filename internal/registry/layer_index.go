package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/vector"
)

// LayerIndex pairs one layer's vector index with its chunk metadata, aligned by position.
// A LayerIndex is immutable once constructed; rebuilding a layer produces a new one.
type LayerIndex struct {
	layer    models.Layer
	index    vector.VectorIndex
	chunks   []models.Chunk
	loadedAt time.Time
}

// NewLayerIndex validates that index and chunks are aligned and that every chunk belongs
// to layer. The chunks slice is copied.
func NewLayerIndex(layer models.Layer, index vector.VectorIndex, chunks []models.Chunk) (*LayerIndex, error) {
	if !layer.Concrete() {
		return nil, fmt.Errorf("%w: %v is not a concrete layer", models.ErrUnknownLayer, layer)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: nil vector index", models.ErrInvalidArgument)
	}
	if index.Size() != len(chunks) {
		return nil, fmt.Errorf("length mismatch: %d vectors, %d chunks", index.Size(), len(chunks))
	}
	for i, c := range chunks {
		if c.Layer != layer {
			return nil, fmt.Errorf("chunk %d (%s) belongs to %v, not %v", i, c.ID, c.Layer, layer)
		}
	}
	owned := make([]models.Chunk, len(chunks))
	copy(owned, chunks)
	return &LayerIndex{
		layer:    layer,
		index:    index,
		chunks:   owned,
		loadedAt: time.Now(),
	}, nil
}

// Layer returns the layer this index serves.
func (li *LayerIndex) Layer() models.Layer { return li.layer }

// Size returns the number of chunks (and vectors).
func (li *LayerIndex) Size() int { return len(li.chunks) }

// Dimensions returns the vector width.
func (li *LayerIndex) Dimensions() int { return li.index.Dimensions() }

// IndexType returns the underlying vector index type.
func (li *LayerIndex) IndexType() string { return li.index.Type() }

// LoadedAt returns when this index was constructed.
func (li *LayerIndex) LoadedAt() time.Time { return li.loadedAt }

// Chunks returns a copy of the chunk metadata in position order.
func (li *LayerIndex) Chunks() []models.Chunk {
	out := make([]models.Chunk, len(li.chunks))
	copy(out, li.chunks)
	return out
}

// Search returns the k nearest chunks to query, ascending by distance. An index with no
// vectors returns models.ErrEmptyIndex.
func (li *LayerIndex) Search(ctx context.Context, query []float32, k int) ([]models.RetrievalResult, error) {
	hits, err := li.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	results := make([]models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(li.chunks) {
			return nil, fmt.Errorf("vector position %d outside metadata (%d chunks)", h.Position, len(li.chunks))
		}
		results = append(results, models.RetrievalResult{
			Chunk:    li.chunks[h.Position],
			Distance: h.Distance,
		})
	}
	return results, nil
}

func (li *LayerIndex) close() error {
	return li.index.Close()
}
