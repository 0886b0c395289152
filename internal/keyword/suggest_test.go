package keyword

import (
	"context"
	"testing"

	"github.com/hyperjump/wayfarer/internal/models"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "epcot", 5},
		{"epcot", "", 5},
		{"kingdom", "kingdom", 0},
		{"kingdon", "kingdom", 1},
		{"crowd", "crowds", 1},
		{"kitten", "sitting", 3},
		{"café", "cafe", 1},
		{"ab", "ba", 2},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := levenshtein(tt.b, tt.a); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d (symmetry)", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestCatalog_Suggest(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if err := c.ReplaceLayer(ctx, models.LayerCore, coreChunks); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		query   string
		want    string
		changed bool
	}{
		{"Magic Kingdon", "magic kingdom", true},
		{"epcott opens", "epcot opens", true},
		{"magic kingdom", "magic kingdom", false},
		{"zzzzzzzz", "zzzzzzzz", false},
		{"am pm", "am pm", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, changed, err := c.Suggest(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want || changed != tt.changed {
				t.Errorf("Suggest(%q) = %q, %v; want %q, %v", tt.query, got, changed, tt.want, tt.changed)
			}
		})
	}
}

func TestCatalog_SuggestSeesReplacedLayer(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if err := c.ReplaceLayer(ctx, models.LayerCore, coreChunks); err != nil {
		t.Fatal(err)
	}
	if _, changed, _ := c.Suggest("christmass"); changed {
		t.Fatal("no christmas chunk indexed yet")
	}
	if err := c.ReplaceLayer(ctx, models.LayerContext, contextChunks); err != nil {
		t.Fatal(err)
	}
	got, changed, err := c.Suggest("christmass")
	if err != nil {
		t.Fatal(err)
	}
	if !changed || got != "christmas" {
		t.Errorf("Suggest after replace = %q, %v", got, changed)
	}
}
