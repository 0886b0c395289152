package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/wayfarer/internal/answer"
	"github.com/hyperjump/wayfarer/internal/config"
	"github.com/hyperjump/wayfarer/internal/embedding"
	"github.com/hyperjump/wayfarer/internal/generation"
	"github.com/hyperjump/wayfarer/internal/grounding"
	"github.com/hyperjump/wayfarer/internal/keyword"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/registry"
	"github.com/hyperjump/wayfarer/internal/retrieval"
	"github.com/hyperjump/wayfarer/internal/storage"
	"go.uber.org/zap"
)

const testDims = 32

var corpus = map[models.Layer][]models.Chunk{
	models.LayerCore: {
		{ID: "mk-hours-dec25", Text: "Magic Kingdom opens at 9:00 AM on December 25, 2025.", SourceLabel: "Orlando_Park_Hours_Dez2025.pdf"},
		{ID: "epcot-hours-dec25", Text: "EPCOT opens at 10:00 AM on December 25, 2025.", SourceLabel: "Orlando_Park_Hours_Dez2025.pdf"},
	},
	models.LayerContext: {
		{ID: "crowds-xmas", Text: "Magic Kingdom crowds peak between Christmas and New Year.", SourceLabel: "Crowd_Calendar.pdf"},
	},
	models.LayerStrategy: {
		{ID: "rope-drop", Text: "Arrive at Magic Kingdom 45 minutes before opening to rope drop.", SourceLabel: "Strategy_Guide.pdf"},
	},
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string, []string) (string, error) {
	return "", errors.New("connection refused")
}

type blockingEmbedder struct {
	*embedding.MockEmbedder
	release chan struct{}
}

func (b *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	<-b.release
	return b.MockEmbedder.Embed(ctx, text)
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	reg     *registry.Registry
	emb     *embedding.MockEmbedder
	store   *storage.SQLiteStorage
	cfg     *config.Config
}

func testConfig(dir string) *config.Config {
	cfg := &config.Config{}
	cfg.Layers.Directory = filepath.Join(dir, "layers")
	cfg.Storage.DatabasePath = filepath.Join(dir, "db", "queries.db")
	cfg.Retrieval.MaxK = 5
	config.ApplyDefaults(cfg)
	return cfg
}

func writeLayer(t *testing.T, reg *registry.Registry, emb embedding.Embedder, layer models.Layer, chunks []models.Chunk) {
	t.Helper()
	ctx := context.Background()
	texts := make([]string, len(chunks))
	for i := range chunks {
		chunks[i].Layer = layer
		texts[i] = chunks[i].Text
	}
	vectors, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatal(err)
	}
	li, err := reg.Build(ctx, layer, chunks, vectors)
	if err != nil {
		t.Fatal(err)
	}
	files, _ := reg.Files(layer)
	if err := registry.WriteLayer(files, li); err != nil {
		t.Fatal(err)
	}
}

func newTestEnv(t *testing.T, gen answer.Generator, load bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir)
	logger := zap.NewNop()
	emb := embedding.NewMockEmbedder(testDims)

	reg, err := registry.New(cfg.Layers.Layout(), testDims, registry.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	catalog, err := keyword.NewCatalog("", logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = catalog.Close() })
	catalog.Follow(reg)

	if load {
		if err := os.MkdirAll(cfg.Layers.Directory, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, l := range models.Layers() {
			writeLayer(t, reg, emb, l, append([]models.Chunk(nil), corpus[l]...))
		}
		if err := reg.LoadAll(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if gen == nil {
		gen = generation.NewExtractiveGenerator(cfg.Generation.FallbackMessage)
	}
	engine := retrieval.NewEngine(reg, emb, retrieval.WithLogger(logger))
	validator := grounding.NewValidator()
	orch := answer.New(engine, gen, validator, answer.WithLogger(logger), answer.WithRecorder(store))
	srv := NewServer(Deps{
		Registry:  reg,
		Retriever: engine,
		Answerer:  orch,
		Validator: validator,
		Catalog:   catalog,
		Storage:   store,
	}, cfg, logger)
	return &testEnv{srv: srv, handler: srv.Routes(), reg: reg, emb: emb, store: store, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func intPtr(n int) *int { return &n }

func TestHandleHealth(t *testing.T) {
	ready := newTestEnv(t, nil, true)
	w := ready.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out HealthResponse
	decode(t, w, &out)
	if out.Status != "ok" || !out.EngineReady {
		t.Errorf("health = %+v", out)
	}

	notReady := newTestEnv(t, nil, false)
	w = notReady.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready status: got %d", w.Code)
	}
}

func TestHandleQuery(t *testing.T) {
	env := newTestEnv(t, nil, true)
	w := env.do(t, http.MethodPost, "/api/v1/query", QueryRequest{
		Question: "What time does Magic Kingdom open on Christmas Day 2025?",
		Layer:    "core",
		K:        intPtr(1),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var out models.Envelope
	decode(t, w, &out)
	if out.Layer != models.LayerCore || out.RequestID == "" || out.Fallback {
		t.Errorf("envelope = %+v", out)
	}
	if out.GroundingScore != 1 {
		t.Errorf("an extractive answer should be fully grounded, got %v", out.GroundingScore)
	}
	if len(out.Sources) != 1 || out.Sources[0] != "Orlando_Park_Hours_Dez2025.pdf" {
		t.Errorf("sources = %v", out.Sources)
	}

	n, err := env.store.CountQueries(context.Background())
	if err != nil || n != 1 {
		t.Errorf("query log count = %d, %v; want 1", n, err)
	}
}

func TestHandleQuery_BadRequests(t *testing.T) {
	env := newTestEnv(t, nil, true)
	tests := []struct {
		name string
		body interface{}
	}{
		{"invalid json", "{"},
		{"unknown layer", QueryRequest{Question: "hours", Layer: "shopping"}},
		{"zero k", QueryRequest{Question: "hours", Layer: "core", K: intPtr(0)}},
		{"negative k", QueryRequest{Question: "hours", K: intPtr(-1)}},
		{"blank question", QueryRequest{Question: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/query", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestHandleQuery_GenerationFallback(t *testing.T) {
	env := newTestEnv(t, failingGenerator{}, true)
	w := env.do(t, http.MethodPost, "/api/v1/query", QueryRequest{Question: "When does EPCOT open?", Layer: "core", K: intPtr(2)})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var out models.Envelope
	decode(t, w, &out)
	if !out.Fallback || out.Answer != env.cfg.Generation.FallbackMessage {
		t.Errorf("expected fallback envelope, got %+v", out)
	}
	if len(out.Sources) != 2 {
		t.Errorf("fallback should keep retrieved sources, got %v", out.Sources)
	}
}

func TestHandleRetrieve(t *testing.T) {
	env := newTestEnv(t, nil, true)
	w := env.do(t, http.MethodPost, "/api/v1/retrieve", QueryRequest{Question: "Magic Kingdom", Layer: "context", K: intPtr(3)})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var out RetrieveResponse
	decode(t, w, &out)
	if out.Layer != models.LayerContext || len(out.Results) != 1 {
		t.Fatalf("response = %+v", out)
	}
	if out.Results[0].Layer != models.LayerContext {
		t.Errorf("result from %v", out.Results[0].Layer)
	}

	w = env.do(t, http.MethodPost, "/api/v1/retrieve", QueryRequest{Question: "Magic Kingdom", K: intPtr(50)})
	decode(t, w, &out)
	if out.K != env.cfg.Retrieval.MaxK || out.Layer != models.LayerAll {
		t.Errorf("k should be clamped to %d and layer default to ALL, got k=%d layer=%v", env.cfg.Retrieval.MaxK, out.K, out.Layer)
	}
	if len(out.Results) != 4 {
		t.Errorf("ALL should return every chunk, got %d", len(out.Results))
	}
}

func TestHandleRetrieve_NotLoaded(t *testing.T) {
	env := newTestEnv(t, nil, false)
	w := env.do(t, http.MethodPost, "/api/v1/retrieve", QueryRequest{Question: "hours", Layer: "core"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d body %s", w.Code, w.Body.String())
	}
}

func TestHandleRetrieve_Timeout(t *testing.T) {
	env := newTestEnv(t, nil, true)
	slow := &blockingEmbedder{MockEmbedder: env.emb, release: make(chan struct{})}
	defer close(slow.release)
	env.srv.retriever = retrieval.NewEngine(env.reg, slow, retrieval.WithEmbedTimeout(20*time.Millisecond))

	w := env.do(t, http.MethodPost, "/api/v1/retrieve", QueryRequest{Question: "hours", Layer: "core"})
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status: got %d body %s", w.Code, w.Body.String())
	}
}

func TestHandleValidate(t *testing.T) {
	env := newTestEnv(t, nil, true)
	w := env.do(t, http.MethodPost, "/api/v1/validate", ValidateRequest{
		Answer:   "Magic Kingdom opens at 9am.",
		Contexts: []string{"Magic Kingdom opens at 9:00 AM."},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var score models.GroundingScore
	decode(t, w, &score)
	if score.Score != 1 {
		t.Errorf("time formats should normalize to the same tokens, got %+v", score)
	}

	w = env.do(t, http.MethodPost, "/api/v1/validate", ValidateRequest{})
	decode(t, w, &score)
	if w.Code != http.StatusOK || score.Score != 0 {
		t.Errorf("empty input should score 0, got %d %+v", w.Code, score)
	}

	w = env.do(t, http.MethodPost, "/api/v1/validate", "not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid body: got %d", w.Code)
	}
}

func TestHandleLayers(t *testing.T) {
	env := newTestEnv(t, nil, true)
	w := env.do(t, http.MethodGet, "/api/v1/layers", nil)
	var out struct {
		Layers []models.LayerStatus `json:"layers"`
	}
	decode(t, w, &out)
	if len(out.Layers) != 3 || !out.Layers[0].Loaded || out.Layers[0].Chunks != 2 {
		t.Errorf("layers = %+v", out.Layers)
	}
}

func TestHandleReloadLayer(t *testing.T) {
	env := newTestEnv(t, nil, true)
	extra := append(append([]models.Chunk(nil), corpus[models.LayerStrategy]...), models.Chunk{
		ID: "midday-break", Text: "Take a midday break at the hotel pool.", SourceLabel: "Strategy_Guide.pdf",
	})
	writeLayer(t, env.reg, env.emb, models.LayerStrategy, extra)

	w := env.do(t, http.MethodPost, "/api/v1/layers/strategy/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var st models.LayerStatus
	decode(t, w, &st)
	if st.Layer != models.LayerStrategy || st.Chunks != 2 {
		t.Errorf("reloaded status = %+v", st)
	}

	// The catalog follows the swap.
	w = env.do(t, http.MethodGet, "/api/v1/layers/strategy/chunks?q=pool", nil)
	var hits struct {
		Hits []keyword.Hit `json:"hits"`
	}
	decode(t, w, &hits)
	if len(hits.Hits) != 1 || hits.Hits[0].ID != "midday-break" {
		t.Errorf("catalog hits = %+v", hits.Hits)
	}
}

func TestHandleReloadLayer_Errors(t *testing.T) {
	env := newTestEnv(t, nil, false)
	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/layers/all/reload", http.StatusBadRequest},
		{"/api/v1/layers/shopping/reload", http.StatusBadRequest},
		{"/api/v1/layers/core/reload", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodPost, tt.path, nil)
		if w.Code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestHandleLayerChunks(t *testing.T) {
	env := newTestEnv(t, nil, true)

	w := env.do(t, http.MethodGet, "/api/v1/layers/core/chunks?limit=1", nil)
	var list struct {
		Total  int            `json:"total"`
		Chunks []models.Chunk `json:"chunks"`
	}
	decode(t, w, &list)
	if list.Total != 2 || len(list.Chunks) != 1 || list.Chunks[0].ID != "mk-hours-dec25" {
		t.Errorf("list = %+v", list)
	}

	w = env.do(t, http.MethodGet, "/api/v1/layers/all/chunks?q=magic%20kingdom", nil)
	var hits struct {
		Hits []keyword.Hit `json:"hits"`
	}
	decode(t, w, &hits)
	if len(hits.Hits) != 3 {
		t.Errorf("expected 3 Magic Kingdom chunks across layers, got %+v", hits.Hits)
	}

	w = env.do(t, http.MethodGet, "/api/v1/layers/core/chunks?q=kingdon", nil)
	var missed struct {
		Hits       []keyword.Hit `json:"hits"`
		Suggestion string        `json:"suggestion"`
	}
	decode(t, w, &missed)
	if len(missed.Hits) != 0 || missed.Suggestion != "kingdom" {
		t.Errorf("misspelled search = %+v", missed)
	}

	w = env.do(t, http.MethodGet, "/api/v1/layers/core/chunks?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d", w.Code)
	}
}

func TestHandleQueries(t *testing.T) {
	env := newTestEnv(t, nil, true)
	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/api/v1/query", QueryRequest{Question: fmt.Sprintf("When does EPCOT open %d?", i), Layer: "core"})
	}
	w := env.do(t, http.MethodGet, "/api/v1/queries?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Queries []models.QueryRecord `json:"queries"`
	}
	decode(t, w, &out)
	if len(out.Queries) != 2 {
		t.Fatalf("got %d queries, want 2", len(out.Queries))
	}
	if out.Queries[0].Question != "When does EPCOT open 2?" {
		t.Errorf("newest query should come first, got %q", out.Queries[0].Question)
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, nil, true)
	env.do(t, http.MethodPost, "/api/v1/query", QueryRequest{Question: "When does EPCOT open?", Layer: "core"})

	w := env.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var st models.Status
	decode(t, w, &st)
	if !st.Ready || len(st.Layers) != 3 || st.Queries != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.LayerDiskBytes[models.LayerCore] == 0 {
		t.Error("persisted layers should have a disk size")
	}
	if st.DatabaseBytes == 0 {
		t.Error("query log should have a disk size")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidArgument, http.StatusBadRequest},
		{models.WrapError("get", models.Layer(9), models.ErrUnknownLayer), http.StatusBadRequest},
		{models.ErrEmptyIndex, http.StatusNotFound},
		{fmt.Errorf("load: %w", models.ErrIndexLoad), http.StatusServiceUnavailable},
		{models.ErrTimeout, http.StatusGatewayTimeout},
		{models.ErrGenerationUnavailable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
