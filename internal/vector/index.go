// Package vector provides exhaustive nearest-neighbour search over fixed-width embeddings.
package vector

import "context"

// VectorIndex stores one layer's vectors by position and answers exact L2 queries.
// An index is read-only after Build; replacing contents means building a new index.
type VectorIndex interface {
	Build(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Save(path string) error
	Load(path string) error
	Dimensions() int
	Size() int
	Type() string
	Close() error
}

// Hit is a single search result: the vector's insertion position and its squared L2 distance.
type Hit struct {
	Position int
	Distance float64
}
