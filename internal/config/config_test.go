package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/wayfarer/internal/models"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
retrieval:
  default_k: 5
generation:
  provider: openai
  timeout: 10s
embedding:
  allow_mock_fallback: true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Retrieval.DefaultK != 5 || cfg.Retrieval.MaxK != 20 {
		t.Errorf("retrieval config: %+v", cfg.Retrieval)
	}
	if cfg.Generation.Timeout != 10*time.Second {
		t.Errorf("generation timeout = %v", cfg.Generation.Timeout)
	}
	if cfg.Generation.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("openai base url default: got %s", cfg.Generation.BaseURL)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if !cfg.Embedding.AllowMockFallback {
		t.Error("allow_mock_fallback should be read from embedding section")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
layers:
  directory: "./data/layers"
  core:
    vectors: "./facts/core.vec"
storage:
  database_path: "./data/db/queries.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "queries.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if want := filepath.Join(dir, "facts", "core.vec"); cfg.Layers.Core.Vectors != want {
		t.Errorf("core vectors = %s, want %s", cfg.Layers.Core.Vectors, want)
	}
	if want := filepath.Join(dir, "data", "layers", "core_metadata.jsonl"); cfg.Layers.Core.Metadata != want {
		t.Errorf("core metadata = %s, want %s", cfg.Layers.Core.Metadata, want)
	}
	if want := filepath.Join(dir, "data", "layers", "strategy.vec"); cfg.Layers.Strategy.Vectors != want {
		t.Errorf("strategy vectors = %s, want %s", cfg.Layers.Strategy.Vectors, want)
	}
	if cfg.Storage.CatalogPath != "" {
		t.Errorf("catalog path should stay empty (in-memory), got %s", cfg.Storage.CatalogPath)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("default dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Retrieval.DefaultK != 3 {
		t.Errorf("default k: got %d", cfg.Retrieval.DefaultK)
	}
	if cfg.Ingest.ChunkSize != 512 || cfg.Ingest.ChunkOverlap != 50 {
		t.Errorf("chunking defaults: got %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Generation.Provider != "ollama" || cfg.Generation.BaseURL != "http://localhost:11434" {
		t.Errorf("generation defaults: %+v", cfg.Generation)
	}
	if cfg.Generation.FallbackMessage != DefaultFallbackMessage {
		t.Errorf("fallback message: got %q", cfg.Generation.FallbackMessage)
	}
	if cfg.Layers.Context.Vectors != "/usr/local/var/wayfarer/data/layers/context.vec" {
		t.Errorf("context vectors: got %s", cfg.Layers.Context.Vectors)
	}
}

func TestLayersConfig_Files(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	files, err := cfg.Layers.Files(models.LayerStrategy)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(files.Metadata) != "strategy_metadata.jsonl" {
		t.Errorf("metadata = %s", files.Metadata)
	}
	if _, err := cfg.Layers.Files(models.LayerAll); err == nil {
		t.Error("ALL has no files of its own")
	}
	if len(cfg.Layers.Layout()) != 3 {
		t.Error("layout should cover the three concrete layers")
	}
}

func TestGenerationConfig_ResolveAPIKey(t *testing.T) {
	t.Setenv("WAYFARER_OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	g := &GenerationConfig{}
	if got := g.ResolveAPIKey(); got != "sk-env" {
		t.Errorf("env fallback: got %q", got)
	}
	t.Setenv("WAYFARER_OPENAI_API_KEY", "sk-wayfarer")
	if got := g.ResolveAPIKey(); got != "sk-wayfarer" {
		t.Errorf("prefixed env: got %q", got)
	}
	g.APIKey = "sk-config"
	if got := g.ResolveAPIKey(); got != "sk-config" {
		t.Errorf("config key: got %q", got)
	}
}
