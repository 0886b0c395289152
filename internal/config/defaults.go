package config

import (
	"path/filepath"
	"time"
)

// DefaultFallbackMessage is returned to the user when the generator is unavailable.
const DefaultFallbackMessage = "I'm sorry, I couldn't put together an answer right now. Please try again in a moment."

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Layers.Directory == "" {
		cfg.Layers.Directory = "/usr/local/var/wayfarer/data/layers"
	}
	applyLayerFileDefaults(&cfg.Layers.Core, cfg.Layers.Directory, "core")
	applyLayerFileDefaults(&cfg.Layers.Context, cfg.Layers.Directory, "context")
	applyLayerFileDefaults(&cfg.Layers.Strategy, cfg.Layers.Directory, "strategy")
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/wayfarer/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 5 * time.Second
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 3
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 20
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "ollama"
	}
	if cfg.Generation.BaseURL == "" {
		switch cfg.Generation.Provider {
		case "openai":
			cfg.Generation.BaseURL = "https://api.openai.com/v1"
		default:
			cfg.Generation.BaseURL = "http://localhost:11434"
		}
	}
	if cfg.Generation.Model == "" {
		switch cfg.Generation.Provider {
		case "openai":
			cfg.Generation.Model = "gpt-4o-mini"
		default:
			cfg.Generation.Model = "llama3.1"
		}
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.3
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 200
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 30 * time.Second
	}
	if cfg.Generation.FallbackMessage == "" {
		cfg.Generation.FallbackMessage = DefaultFallbackMessage
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/wayfarer/data/db/queries.db"
	}
	// An empty catalog path keeps the chunk catalog in memory.
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 512
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 50
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 32
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".odt", ".rtf"}
	}
}

func applyLayerFileDefaults(files *LayerFiles, dir, slug string) {
	if files.Vectors == "" {
		files.Vectors = filepath.Join(dir, slug+".vec")
	}
	if files.Metadata == "" {
		files.Metadata = filepath.Join(dir, slug+"_metadata.jsonl")
	}
}
