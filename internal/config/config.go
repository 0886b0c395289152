// Package config provides configuration loading and structs for the wayfarer service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/wayfarer/internal/models"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Layers     LayersConfig     `yaml:"layers"`
	Vector     VectorConfig     `yaml:"vector"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Storage    StorageConfig    `yaml:"storage"`
	Watch      WatchConfig      `yaml:"watch"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LayerFiles names the persisted vector file and metadata file of one layer.
type LayerFiles struct {
	Vectors  string `yaml:"vectors"`
	Metadata string `yaml:"metadata"`
}

// LayersConfig locates the persisted files of the three layers. Files left empty
// default to <directory>/<slug>.vec and <directory>/<slug>_metadata.jsonl.
type LayersConfig struct {
	Directory string     `yaml:"directory"`
	Core      LayerFiles `yaml:"core"`
	Context   LayerFiles `yaml:"context"`
	Strategy  LayerFiles `yaml:"strategy"`
}

// Files returns the file pair for a concrete layer.
func (l *LayersConfig) Files(layer models.Layer) (LayerFiles, error) {
	switch layer {
	case models.LayerCore:
		return l.Core, nil
	case models.LayerContext:
		return l.Context, nil
	case models.LayerStrategy:
		return l.Strategy, nil
	default:
		return LayerFiles{}, fmt.Errorf("%w: %v has no files", models.ErrUnknownLayer, layer)
	}
}

// Layout returns the file pairs of all concrete layers.
func (l *LayersConfig) Layout() map[models.Layer]LayerFiles {
	return map[models.Layer]LayerFiles{
		models.LayerCore:     l.Core,
		models.LayerContext:  l.Context,
		models.LayerStrategy: l.Strategy,
	}
}

// VectorConfig selects the vector index implementation.
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	ModelPath  string        `yaml:"model_path"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
	// AllowMockFallback substitutes the mock embedder when the ONNX model cannot be
	// loaded. Layers built with the real model return meaningless neighbours under the
	// mock, so this is for development only.
	AllowMockFallback bool `yaml:"allow_mock_fallback"`
}

// RetrievalConfig holds top-k limits.
type RetrievalConfig struct {
	DefaultK int `yaml:"default_k"`
	MaxK     int `yaml:"max_k"`
}

// GenerationConfig holds answer generator settings.
type GenerationConfig struct {
	Provider        string        `yaml:"provider"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	Temperature     float64       `yaml:"temperature"`
	MaxTokens       int           `yaml:"max_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
	FallbackMessage string        `yaml:"fallback_message"`
}

// StorageConfig holds paths for the query log and the chunk catalog.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	CatalogPath  string `yaml:"catalog_path"`
}

// WatchConfig holds layer file watch settings.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// IngestConfig holds document chunking and filtering settings.
type IngestConfig struct {
	ChunkSize       int      `yaml:"chunk_size"`
	ChunkOverlap    int      `yaml:"chunk_overlap"`
	BatchSize       int      `yaml:"batch_size"`
	Extensions      []string `yaml:"extensions"`
	IncludeKeywords []string `yaml:"include_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	cfg.Layers.Directory = expandPath(cfg.Layers.Directory, configDir)
	for _, files := range []*LayerFiles{&cfg.Layers.Core, &cfg.Layers.Context, &cfg.Layers.Strategy} {
		files.Vectors = expandPath(files.Vectors, configDir)
		files.Metadata = expandPath(files.Metadata, configDir)
	}
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	// Defaults run after expansion so layer files derive from the expanded directory.
	ApplyDefaults(&cfg)

	return &cfg, nil
}

// ResolveAPIKey returns the configured key, falling back to WAYFARER_OPENAI_API_KEY and then OPENAI_API_KEY.
func (g *GenerationConfig) ResolveAPIKey() string {
	if g.APIKey != "" {
		return g.APIKey
	}
	if key := os.Getenv("WAYFARER_OPENAI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("OPENAI_API_KEY")
}

// expandPath converts a path to absolute. An empty path stays empty. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
