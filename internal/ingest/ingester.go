// Package ingest builds the persisted layer indexes from source documents and fact files.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/wayfarer/internal/config"
	"github.com/hyperjump/wayfarer/internal/embedding"
	"github.com/hyperjump/wayfarer/internal/extract"
	"github.com/hyperjump/wayfarer/internal/fileid"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/registry"
	"go.uber.org/zap"
)

const defaultBatchSize = 32

// Recorder keeps the history of ingestion runs. storage.Storage implements it.
type Recorder interface {
	RecordIngest(ctx context.Context, run models.IngestRun) error
}

// Ingester turns inputs into a layer's vectors and metadata files.
type Ingester struct {
	registry  *registry.Registry
	embedder  embedding.Embedder
	extractor *extract.Extractor
	chunker   *Chunker
	filter    *KeywordFilter
	batchSize int
	exts      []string
	recorder  Recorder
	logger    *zap.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingester) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithRecorder records every run, successful or not.
func WithRecorder(r Recorder) Option {
	return func(in *Ingester) { in.recorder = r }
}

// NewIngester creates an ingester writing to the files reg has configured per layer.
func NewIngester(reg *registry.Registry, embedder embedding.Embedder, cfg config.IngestConfig, opts ...Option) *Ingester {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	in := &Ingester{
		registry:  reg,
		embedder:  embedder,
		extractor: extract.NewExtractor(),
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		filter:    NewKeywordFilter(cfg.IncludeKeywords, cfg.ExcludeKeywords),
		batchSize: batch,
		exts:      cfg.Extensions,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// BuildLayer rebuilds layer from inputs (files or directories) and writes it in place of
// the current files. CORE inputs are fact JSONL files; other layers take documents.
// Nothing is written when any input fails.
func (in *Ingester) BuildLayer(ctx context.Context, layer models.Layer, inputs []string) (*models.IngestRun, error) {
	run := &models.IngestRun{
		ID:        uuid.New().String(),
		Layer:     layer,
		StartedAt: time.Now().UTC(),
	}
	err := in.build(ctx, run, inputs)
	run.DurationMs = float64(time.Since(run.StartedAt).Microseconds()) / 1000
	if err != nil {
		run.Error = err.Error()
	}
	if in.recorder != nil {
		if recErr := in.recorder.RecordIngest(context.WithoutCancel(ctx), *run); recErr != nil {
			in.logger.Warn("failed to record ingest run", zap.String("run_id", run.ID), zap.Error(recErr))
		}
	}
	if err != nil {
		return run, models.WrapError("ingest", layer, err)
	}
	in.logger.Info("layer built",
		zap.String("layer", layer.String()),
		zap.Int("sources", run.Sources),
		zap.Int("chunks", run.Chunks),
		zap.Int("skipped", run.Skipped),
		zap.Float64("duration_ms", run.DurationMs),
	)
	return run, nil
}

func (in *Ingester) build(ctx context.Context, run *models.IngestRun, inputs []string) error {
	if !run.Layer.Concrete() {
		return models.ErrUnknownLayer
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w: no inputs", models.ErrInvalidArgument)
	}
	files, ok := in.registry.Files(run.Layer)
	if !ok || files.Vectors == "" || files.Metadata == "" {
		return fmt.Errorf("%w: no files configured", models.ErrInvalidArgument)
	}

	var (
		chunks []models.Chunk
		err    error
	)
	if run.Layer == models.LayerCore {
		chunks, err = in.factChunks(run, inputs)
	} else {
		chunks, err = in.documentChunks(ctx, run, inputs)
	}
	if err != nil {
		return err
	}
	run.Chunks = len(chunks)

	vectors, err := in.embed(ctx, chunks)
	if err != nil {
		return err
	}
	li, err := in.registry.Build(ctx, run.Layer, chunks, vectors)
	if err != nil {
		return err
	}
	for _, p := range []string{files.Vectors, files.Metadata} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create layer directory: %w", err)
		}
	}
	return registry.WriteLayer(files, li)
}

func (in *Ingester) factChunks(run *models.IngestRun, inputs []string) ([]models.Chunk, error) {
	var facts []models.Fact
	seen := make(map[string]bool)
	for _, path := range inputs {
		loaded, err := LoadFacts(path)
		if err != nil {
			return nil, err
		}
		for _, f := range loaded {
			if seen[f.ID] {
				return nil, fmt.Errorf("%w: duplicate fact id %q in %s", models.ErrInvalidArgument, f.ID, path)
			}
			seen[f.ID] = true
		}
		facts = append(facts, loaded...)
		run.Sources++
	}
	return FactChunks(facts), nil
}

func (in *Ingester) documentChunks(ctx context.Context, run *models.IngestRun, inputs []string) ([]models.Chunk, error) {
	paths, err := in.collect(inputs)
	if err != nil {
		return nil, err
	}
	var chunks []models.Chunk
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := in.extractor.Extract(path)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", path, err)
		}
		run.Sources++
		label := filepath.Base(path)
		for _, c := range in.chunker.Chunk(run.Layer, fileid.SourceID(path), label, Preprocess(text)) {
			if !in.filter.Relevant(c.Text) {
				run.Skipped++
				continue
			}
			chunks = append(chunks, c)
		}
		in.logger.Debug("source chunked", zap.String("path", path), zap.Int("chunks", len(chunks)))
	}
	return chunks, nil
}

// collect expands inputs into a sorted, de-duplicated list of extractable files.
// Explicitly named files must be extractable; directories are walked recursively and
// filtered by the configured extensions.
func (in *Ingester) collect(inputs []string) ([]string, error) {
	set := make(map[string]struct{})
	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			return nil, fmt.Errorf("absolute path: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if !extract.Supported(filepath.Ext(abs)) {
				return nil, fmt.Errorf("%s: %w", abs, extract.ErrUnsupportedFormat)
			}
			set[abs] = struct{}{}
			continue
		}
		err = filepath.WalkDir(abs, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			ext := filepath.Ext(path)
			if !extract.Supported(ext) {
				return nil
			}
			if len(in.exts) > 0 && !extensionAllowed(ext, in.exts) {
				return nil
			}
			// Resolve symlinks so only regular files are read
			finfo, statErr := os.Stat(path)
			if statErr != nil || !finfo.Mode().IsRegular() {
				return nil
			}
			set[path] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (in *Ingester) embed(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += in.batchSize {
		end := start + in.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		batch, err := in.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
