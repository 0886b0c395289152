package ingest

import (
	"strings"
	"unicode"

	"github.com/hyperjump/wayfarer/internal/fileid"
	"github.com/hyperjump/wayfarer/internal/models"
)

// Chunker splits text into overlapping word-based chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into chunks of layer labelled with sourceLabel. Chunk IDs derive from
// sourceID and the chunk position, so the same text always yields the same chunks.
func (c *Chunker) Chunk(layer models.Layer, sourceID, sourceLabel, text string) []models.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	var chunks []models.Chunk
	for i := 0; i < len(words); i += step {
		end := i + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, models.Chunk{
			ID:          fileid.ChunkID(sourceID, len(chunks)),
			Text:        strings.Join(words[i:end], " "),
			Layer:       layer,
			SourceLabel: sourceLabel,
		})
		if end >= len(words) {
			break
		}
	}
	return chunks
}

// Preprocess normalizes extracted text for chunking (trim, collapse whitespace).
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// KeywordFilter keeps travel-relevant chunks. A chunk containing any exclude keyword is
// dropped; otherwise it is kept when it contains any include keyword, or always when
// there are no include keywords. Matching is case-insensitive substring matching.
type KeywordFilter struct {
	include []string
	exclude []string
}

// NewKeywordFilter creates a filter from include and exclude keyword lists.
func NewKeywordFilter(include, exclude []string) *KeywordFilter {
	return &KeywordFilter{include: lowerAll(include), exclude: lowerAll(exclude)}
}

// Relevant reports whether text passes the filter.
func (f *KeywordFilter) Relevant(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range f.exclude {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, kw := range f.include {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}
