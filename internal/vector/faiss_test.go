//go:build faiss && cgo
// +build faiss,cgo

package vector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/wayfarer/internal/models"
)

func TestFAISSIndex_BuildSearch(t *testing.T) {
	idx, err := NewFAISSIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{0, 1, 0},
		{1, 0, 0},
		{0.9, 0.1, 0},
	}
	if err := idx.Build(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d, want 3", idx.Size())
	}

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Position != 1 {
		t.Errorf("top hit should be position 1, got %d", hits[0].Position)
	}
}

func TestFAISSIndex_MatchesMemoryIndex(t *testing.T) {
	ctx := context.Background()
	vecs := [][]float32{{1, 0}, {5, 5}, {0, 1}, {-1, 0}, {0.2, 0.3}}
	query := []float32{0, 0}

	mem, _ := NewMemoryIndex(2)
	_ = mem.Build(ctx, vecs)
	fi, err := NewFAISSIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	defer fi.Close()
	_ = fi.Build(ctx, vecs)

	want, _ := mem.Search(ctx, query, 4)
	got, err := fi.Search(ctx, query, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i].Position != want[i].Position {
			t.Errorf("hit %d: faiss position %d, memory position %d", i, got[i].Position, want[i].Position)
		}
	}
}

func TestFAISSIndex_SearchEmpty(t *testing.T) {
	idx, err := NewFAISSIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	_, err = idx.Search(context.Background(), []float32{1, 0, 0}, 10)
	if !errors.Is(err, models.ErrEmptyIndex) {
		t.Errorf("expected ErrEmptyIndex, got %v", err)
	}
}

func TestFAISSIndex_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "core.faiss")

	idx, err := NewFAISSIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if err := idx.Build(ctx, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	idx2, err := NewFAISSIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx2.Close()
	if err := idx2.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if idx2.Size() != 3 {
		t.Errorf("after Load size=%d, want 3", idx2.Size())
	}
	hits, err := idx2.Search(ctx, []float32{0, 0, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Position != 2 {
		t.Errorf("Search after Load: got %v", hits)
	}

	wrong, _ := NewFAISSIndex(4)
	defer wrong.Close()
	if err := wrong.Load(path); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestFAISSIndex_LoadMissingFile(t *testing.T) {
	idx, err := NewFAISSIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if err := idx.Load("/nonexistent/path/index.faiss"); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestFAISSIndex_DimensionMismatch(t *testing.T) {
	idx, err := NewFAISSIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	if err := idx.Build(ctx, [][]float32{{1, 0}}); err == nil {
		t.Error("expected error for dimension mismatch on Build")
	}
	_ = idx.Build(ctx, [][]float32{{1, 0, 0}})
	if _, err := idx.Search(ctx, []float32{1, 0}, 1); err == nil {
		t.Error("expected error for dimension mismatch on Search")
	}
}

func TestFAISSIndex_InvalidDimension(t *testing.T) {
	if _, err := NewFAISSIndex(0); err == nil {
		t.Error("expected error for zero dimension")
	}
	if _, err := NewFAISSIndex(-1); err == nil {
		t.Error("expected error for negative dimension")
	}
}
