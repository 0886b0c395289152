// Package keyword keeps a full-text catalog of every layer's chunks in Bleve, for lookup
// and audit of what each layer contains. It plays no part in retrieval ranking.
package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/registry"
	"go.uber.org/zap"
)

// deleteBatchSize bounds the documents fetched per round when clearing a layer.
const deleteBatchSize = 1000

// SearchOptions optional parameters for catalog search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled matches terms within Fuzziness edits, for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance (1 or 2). Default 1.
	Fuzziness int
}

// Hit is one catalog match.
type Hit struct {
	models.Chunk
	Score float64 `json:"score"`
}

type catalogDoc struct {
	ChunkID     string `json:"chunk_id"`
	Text        string `json:"text"`
	Layer       string `json:"layer"`
	SourceLabel string `json:"source_label"`
}

// Catalog is a Bleve index over the chunks of all layers.
type Catalog struct {
	index  bleve.Index
	logger *zap.Logger
	// mu serializes layer replacement; Bleve handles concurrent searches itself.
	mu sync.Mutex

	dictMu sync.Mutex
	dict   *termDict
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) keeps park names and times intact.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keywordanalyzer.Name
	docMapping.AddFieldMappingsAt("layer", exact)
	docMapping.AddFieldMappingsAt("chunk_id", exact)
	docMapping.AddFieldMappingsAt("source_label", exact)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewCatalog opens the catalog at path, creating it if needed. An empty path keeps the
// catalog in memory. The catalog is rebuilt from the registry on every swap, so a stale
// on-disk catalog is corrected at the next load.
func NewCatalog(path string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory catalog: %w", err)
		}
		return &Catalog{index: index, logger: logger}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open catalog: %w", openErr)
		}
		return &Catalog{index: index, logger: logger}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog: %w", err)
	}
	return &Catalog{index: index, logger: logger}, nil
}

func docID(layer models.Layer, chunkID string) string {
	return layer.Slug() + "/" + chunkID
}

// ReplaceLayer drops every catalog entry of layer and indexes chunks in its place.
func (c *Catalog) ReplaceLayer(ctx context.Context, layer models.Layer, chunks []models.Chunk) error {
	if !layer.Concrete() {
		return models.WrapError("catalog", layer, models.ErrUnknownLayer)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed, err := c.deleteLayer(ctx, layer)
	if err != nil {
		return models.WrapError("catalog", layer, err)
	}

	batch := c.index.NewBatch()
	for _, ch := range chunks {
		doc := catalogDoc{
			ChunkID:     ch.ID,
			Text:        ch.Text,
			Layer:       layer.Slug(),
			SourceLabel: ch.SourceLabel,
		}
		if err := batch.Index(docID(layer, ch.ID), doc); err != nil {
			return models.WrapError("catalog", layer, err)
		}
	}
	if err := c.index.Batch(batch); err != nil {
		return models.WrapError("catalog", layer, fmt.Errorf("index batch: %w", err))
	}
	c.invalidateDictionary()
	c.logger.Debug("catalog layer replaced",
		zap.String("layer", layer.String()),
		zap.Int("removed", removed),
		zap.Int("indexed", len(chunks)),
	)
	return nil
}

func (c *Catalog) deleteLayer(ctx context.Context, layer models.Layer) (int, error) {
	removed := 0
	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		req := bleve.NewSearchRequest(layerQuery(layer))
		req.Size = deleteBatchSize
		res, err := c.index.Search(req)
		if err != nil {
			return removed, fmt.Errorf("list layer: %w", err)
		}
		if len(res.Hits) == 0 {
			return removed, nil
		}
		batch := c.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := c.index.Batch(batch); err != nil {
			return removed, fmt.Errorf("delete batch: %w", err)
		}
		removed += len(res.Hits)
	}
}

func layerQuery(layer models.Layer) blevequery.Query {
	q := bleve.NewTermQuery(layer.Slug())
	q.SetField("layer")
	return q
}

// Search runs a match query over chunk text, restricted to layer unless it is ALL, and
// returns up to limit hits by descending relevance.
func (c *Catalog) Search(ctx context.Context, layer models.Layer, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	if !layer.Valid() {
		return nil, models.WrapError("catalog", layer, models.ErrUnknownLayer)
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, fmt.Errorf("%w: catalog search needs a query and a positive limit", models.ErrInvalidArgument)
	}

	var textQuery blevequery.Query
	if opts != nil && opts.FuzzyEnabled {
		fuzziness := 1
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
		textQuery = buildFuzzyQuery(query, fuzziness, "text")
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		textQuery = mq
	}
	q := textQuery
	if layer != models.LayerAll {
		q = bleve.NewConjunctionQuery(textQuery, layerQuery(layer))
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"*"}
	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		l, _ := models.ParseLayer(fieldString(h.Fields, "layer"))
		hits = append(hits, Hit{
			Chunk: models.Chunk{
				ID:          fieldString(h.Fields, "chunk_id"),
				Text:        fieldString(h.Fields, "text"),
				Layer:       l,
				SourceLabel: fieldString(h.Fields, "source_label"),
			},
			Score: h.Score,
		})
	}
	return hits, nil
}

// Count returns the number of catalog entries for layer, or for all layers with ALL.
func (c *Catalog) Count(layer models.Layer) (uint64, error) {
	if layer == models.LayerAll {
		return c.index.DocCount()
	}
	if !layer.Concrete() {
		return 0, models.WrapError("catalog", layer, models.ErrUnknownLayer)
	}
	req := bleve.NewSearchRequest(layerQuery(layer))
	req.Size = 0
	res, err := c.index.Search(req)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// Close closes the Bleve index.
func (c *Catalog) Close() error {
	return c.index.Close()
}

func fieldString(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}

// tokenizeQuery lowercases query and splits it on anything that is not a letter or digit.
func tokenizeQuery(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the query.
// If field is empty, searches all fields; otherwise restricts to the specified field.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}

	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	// Any term may match.
	return bleve.NewDisjunctionQuery(queries...)
}

// Follow keeps the catalog in step with reg: every layer published by reg replaces that
// layer's catalog entries. Catalog failures are logged; they never block a swap.
func (c *Catalog) Follow(reg *registry.Registry) {
	reg.OnSwap(func(li *registry.LayerIndex) {
		if err := c.ReplaceLayer(context.Background(), li.Layer(), li.Chunks()); err != nil {
			c.logger.Warn("catalog update failed",
				zap.String("layer", li.Layer().String()),
				zap.Error(err),
			)
		}
	})
}
