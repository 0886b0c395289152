package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/wayfarer/internal/models"
)

// fileHeaderSize is dimension (4 bytes) plus count (4 bytes).
const fileHeaderSize = 8

// MemoryIndex is an in-memory exhaustive L2 index. Vectors are stored contiguously in
// insertion order, so a Hit's Position is the vector's index in the slice passed to Build.
type MemoryIndex struct {
	dimensions int
	data       []float32
	count      int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty in-memory index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", models.ErrInvalidArgument)
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Build replaces the index contents with vectors.
func (m *MemoryIndex) Build(ctx context.Context, vectors [][]float32) error {
	data := make([]float32, 0, len(vectors)*m.dimensions)
	for i, vec := range vectors {
		if len(vec) != m.dimensions {
			return fmt.Errorf("%w: vector %d has dimension %d, expected %d",
				models.ErrInvalidArgument, i, len(vec), m.dimensions)
		}
		data = append(data, vec...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.count = len(vectors)
	return nil
}

// Search compares query against every stored vector and returns the k nearest by squared
// L2 distance, ascending. Equal distances keep insertion order. k is clamped to Size().
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, k)
	}
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query dimension %d, expected %d",
			models.ErrInvalidArgument, len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.count == 0 {
		return nil, models.ErrEmptyIndex
	}
	hits := make([]Hit, m.count)
	for i := 0; i < m.count; i++ {
		vec := m.data[i*m.dimensions : (i+1)*m.dimensions]
		hits[i] = Hit{Position: i, Distance: SquaredL2(query, vec)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Vector returns a copy of the vector at position i.
func (m *MemoryIndex) Vector(i int) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= m.count {
		return nil, false
	}
	out := make([]float32, m.dimensions)
	copy(out, m.data[i*m.dimensions:(i+1)*m.dimensions])
	return out, true
}

// Save writes the index to path. Format (little endian): dimension uint32, count uint32,
// then count*dimension float32 values in insertion order. The parent directory is created
// if needed.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty index path", models.ErrInvalidArgument)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeTo(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	return f.Close()
}

func (m *MemoryIndex) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.count)); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	if _, err := w.Write(float32SliceToBytes(m.data)); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	return nil
}

// Load replaces the index contents with the vectors stored at path. The file's dimension
// must match the index and its size must match the header exactly.
func (m *MemoryIndex) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read index file: %w", err)
	}
	if len(raw) < fileHeaderSize {
		return fmt.Errorf("index file %s: truncated header (%d bytes)", path, len(raw))
	}
	dim := int(binary.LittleEndian.Uint32(raw[0:4]))
	n := int(binary.LittleEndian.Uint32(raw[4:8]))
	if dim != m.dimensions {
		return fmt.Errorf("index file %s: dimension mismatch: file has %d, index expects %d", path, dim, m.dimensions)
	}
	want := fileHeaderSize + n*dim*4
	if len(raw) != want {
		return fmt.Errorf("index file %s: size %d bytes, header declares %d vectors (%d bytes)", path, len(raw), n, want)
	}
	data := bytesToFloat32Slice(raw[fileHeaderSize:])
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.count = n
	return nil
}

// Dimensions returns the vector width.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
