package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/wayfarer/internal/fileid"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/xeipuuv/gojsonschema"
)

// maxFactWords bounds the length of an atomic fact sentence.
const maxFactWords = 40

var factSchema = gojsonschema.NewGoLoader(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":              map[string]any{"type": "string"},
		"entity":          nonEmptyString,
		"attribute":       nonEmptyString,
		"value":           nonEmptyString,
		"source_document": map[string]any{"type": "string"},
		"year_or_season":  map[string]any{"type": "string"},
		"text":            nonEmptyString,
	},
	"required": []string{"entity", "attribute", "value", "source_document", "year_or_season", "text"},
})

var nonEmptyString = map[string]any{"type": "string", "pattern": `\S`}

// FactError lists every problem found in a facts file.
type FactError struct {
	Path     string
	Problems []string
}

func (e *FactError) Error() string {
	return fmt.Sprintf("%s: %d invalid fact(s): %s", e.Path, len(e.Problems), strings.Join(e.Problems, "; "))
}

// Unwrap marks fact problems as invalid input.
func (e *FactError) Unwrap() error {
	return models.ErrInvalidArgument
}

// ValidateFact checks one JSON fact record: the schema's required non-empty fields, then
// that text is a single factual sentence (at most one '.', no newline, at most 40 words).
// It returns one message per problem.
func ValidateFact(raw []byte) []string {
	result, err := gojsonschema.Validate(factSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return []string{fmt.Sprintf("not a JSON object: %v", err)}
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	if len(problems) > 0 {
		return problems
	}

	var fact models.Fact
	if err := json.Unmarshal(raw, &fact); err != nil {
		return []string{err.Error()}
	}
	text := strings.TrimSpace(fact.Text)
	if strings.Count(text, ".") > 1 || strings.Contains(text, "\n") || len(strings.Fields(text)) > maxFactWords {
		problems = append(problems, "text should be a single factual sentence (not a paragraph or list)")
	}
	return problems
}

// ValidateFacts reads one JSON fact per line from r, skipping blank lines. Every line is
// validated; if any fails, nothing is returned and the error is a *FactError listing all
// problems with their line numbers. Facts without an id get one derived from their
// content.
func ValidateFacts(r io.Reader, name string) ([]models.Fact, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var facts []models.Fact
	var problems []string
	line := 0
	for scanner.Scan() {
		line++
		raw := []byte(strings.TrimSpace(scanner.Text()))
		if len(raw) == 0 {
			continue
		}
		if errs := ValidateFact(raw); len(errs) > 0 {
			for _, e := range errs {
				problems = append(problems, fmt.Sprintf("line %d: %s", line, e))
			}
			continue
		}
		var f models.Fact
		if err := json.Unmarshal(raw, &f); err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if f.ID == "" {
			f.ID = fileid.ContentID("fact", f.Entity, f.Attribute, f.Value, f.YearOrSeason)
		}
		facts = append(facts, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(problems) > 0 {
		return nil, &FactError{Path: name, Problems: problems}
	}
	return facts, nil
}

// LoadFacts reads and validates the facts file at path.
func LoadFacts(path string) ([]models.Fact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ValidateFacts(f, path)
}

// FactChunks turns facts into CORE chunks: one chunk per fact, labelled with its source
// document.
func FactChunks(facts []models.Fact) []models.Chunk {
	chunks := make([]models.Chunk, len(facts))
	for i, f := range facts {
		chunks[i] = models.Chunk{
			ID:          f.ID,
			Text:        strings.TrimSpace(f.Text),
			Layer:       models.LayerCore,
			SourceLabel: f.SourceDocument,
		}
	}
	return chunks
}
