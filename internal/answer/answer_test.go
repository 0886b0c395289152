package answer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/wayfarer/internal/embedding"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/registry"
	"github.com/hyperjump/wayfarer/internal/retrieval"
	"go.uber.org/zap"
)

type stubRetriever struct {
	results []models.RetrievalResult
	err     error
	calls   int
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, selector models.Layer, k int) ([]models.RetrievalResult, error) {
	s.calls++
	return s.results, s.err
}

type stubGenerator struct {
	answer   string
	err      error
	block    chan struct{}
	contexts []string
}

func (s *stubGenerator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	s.contexts = contexts
	if s.block != nil {
		<-s.block
	}
	return s.answer, s.err
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []models.QueryRecord
	err     error
}

func (m *memoryRecorder) RecordQuery(ctx context.Context, rec models.QueryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

var mkChunk = models.Chunk{
	ID:          "mk-hours-dec25",
	Text:        "Magic Kingdom opens at 9:00 AM on December 25, 2025.",
	Layer:       models.LayerCore,
	SourceLabel: "Orlando_Park_Hours_Dez2025.pdf",
}

func TestAnswer_MagicKingdomEndToEnd(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewMockEmbedder(32)
	reg, err := registry.New(nil, emb.Dimensions())
	if err != nil {
		t.Fatal(err)
	}
	layers := map[models.Layer][]models.Chunk{
		models.LayerCore: {mkChunk},
		models.LayerContext: {
			{ID: "crowds", Text: "Crowds peak at Christmas.", Layer: models.LayerContext, SourceLabel: "Crowd_Calendar.pdf"},
		},
		models.LayerStrategy: {
			{ID: "rope", Text: "Arrive early for rope drop.", Layer: models.LayerStrategy, SourceLabel: "Strategy_Guide.pdf"},
		},
	}
	for _, l := range models.Layers() {
		texts := models.Texts(resultsOf(layers[l]))
		vectors, err := emb.EmbedBatch(ctx, texts)
		if err != nil {
			t.Fatal(err)
		}
		li, err := reg.Build(ctx, l, layers[l], vectors)
		if err != nil {
			t.Fatal(err)
		}
		reg.Swap(li)
	}

	engine := retrieval.NewEngine(reg, emb)
	gen := &stubGenerator{answer: "Magic Kingdom opens at 9h00 on Dec 25."}
	rec := &memoryRecorder{}
	o := New(engine, gen, nil, WithRecorder(rec), WithLogger(zap.NewNop()))

	env, err := o.Answer(ctx, Request{Question: "When does Magic Kingdom open on Christmas?", Layer: models.LayerCore, K: 3})
	if err != nil {
		t.Fatal(err)
	}
	if env.GroundingScore <= 0.5 {
		t.Errorf("grounding score = %v, want > 0.5", env.GroundingScore)
	}
	if want := []string{"Orlando_Park_Hours_Dez2025.pdf"}; !reflect.DeepEqual(env.Sources, want) {
		t.Errorf("sources = %v, want %v", env.Sources, want)
	}
	if !reflect.DeepEqual(gen.contexts, []string{mkChunk.Text}) {
		t.Errorf("generator got contexts %v", gen.contexts)
	}
	if env.RequestID == "" || env.Layer != models.LayerCore || env.Fallback {
		t.Errorf("unexpected envelope %+v", env)
	}
	if len(rec.records) != 1 {
		t.Fatalf("recorded %d queries, want 1", len(rec.records))
	}
	got := rec.records[0]
	if got.ID != env.RequestID || got.GroundingScore != env.GroundingScore || got.Error != "" {
		t.Errorf("record does not match envelope: %+v", got)
	}
	if got.TotalLatencyMs < got.RetrievalLatencyMs {
		t.Error("total latency should include retrieval latency")
	}
}

func resultsOf(chunks []models.Chunk) []models.RetrievalResult {
	out := make([]models.RetrievalResult, len(chunks))
	for i, c := range chunks {
		out[i] = models.RetrievalResult{Chunk: c}
	}
	return out
}

func TestAnswer_SourcesFollowResultOrder(t *testing.T) {
	r := &stubRetriever{results: []models.RetrievalResult{
		{Chunk: models.Chunk{ID: "a", Text: "alpha", SourceLabel: "b.pdf"}, Distance: 0.1},
		{Chunk: models.Chunk{ID: "b", Text: "beta", SourceLabel: "a.pdf"}, Distance: 0.2},
		{Chunk: models.Chunk{ID: "c", Text: "gamma", SourceLabel: "b.pdf"}, Distance: 0.3},
	}}
	o := New(r, &stubGenerator{answer: "alpha beta"}, nil)
	env, err := o.Answer(context.Background(), Request{Question: "q", Layer: models.LayerAll, K: 1})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"b.pdf", "a.pdf", "b.pdf"}; !reflect.DeepEqual(env.Sources, want) {
		t.Errorf("sources = %v, want %v", env.Sources, want)
	}
	// {alpha beta} against {alpha beta gamma}
	if env.GroundingScore != 0.6667 {
		t.Errorf("score = %v, want 0.6667", env.GroundingScore)
	}
}

func TestAnswer_NoResultsStillGenerates(t *testing.T) {
	gen := &stubGenerator{answer: "I don't have that detail right now."}
	o := New(&stubRetriever{results: []models.RetrievalResult{}}, gen, nil)
	env, err := o.Answer(context.Background(), Request{Question: "q", Layer: models.LayerStrategy, K: 3})
	if err != nil {
		t.Fatal(err)
	}
	if gen.contexts == nil || len(gen.contexts) != 0 {
		t.Errorf("generator should get an empty, non-nil context list, got %v", gen.contexts)
	}
	if env.GroundingScore != 0 || len(env.Sources) != 0 {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestAnswer_RetrievalErrorPropagates(t *testing.T) {
	r := &stubRetriever{err: models.ErrIndexLoad}
	gen := &stubGenerator{answer: "unused"}
	rec := &memoryRecorder{}
	o := New(r, gen, nil, WithRecorder(rec))
	_, err := o.Answer(context.Background(), Request{Question: "q", Layer: models.LayerCore, K: 3})
	if !errors.Is(err, models.ErrIndexLoad) {
		t.Fatalf("expected ErrIndexLoad, got %v", err)
	}
	if gen.contexts != nil {
		t.Error("generator must not run after a retrieval failure")
	}
	if len(rec.records) != 1 || rec.records[0].Error == "" {
		t.Errorf("failed request should be recorded with its error: %+v", rec.records)
	}
}

func TestAnswer_GenerationFailure(t *testing.T) {
	r := &stubRetriever{results: []models.RetrievalResult{{Chunk: mkChunk}}}
	rec := &memoryRecorder{}
	o := New(r, &stubGenerator{err: errors.New("connection refused")}, nil, WithRecorder(rec))

	_, err := o.Answer(context.Background(), Request{Question: "q", Layer: models.LayerCore, K: 3})
	if !errors.Is(err, models.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %T", err)
	}
	if !reflect.DeepEqual(genErr.Sources, []string{mkChunk.SourceLabel}) {
		t.Errorf("sources = %v", genErr.Sources)
	}
	if r.calls != 1 {
		t.Errorf("retrieval ran %d times, want 1", r.calls)
	}
	if len(rec.records) != 1 || rec.records[0].Error == "" {
		t.Errorf("failed request should be recorded: %+v", rec.records)
	}

	env := Fallback(genErr, "check the official park website")
	if !env.Fallback || env.Answer != "check the official park website" || env.RequestID != genErr.RequestID {
		t.Errorf("unexpected fallback envelope %+v", env)
	}
}

func TestAnswer_GenerationTimeout(t *testing.T) {
	tests := []struct {
		name          string
		parentTimeout time.Duration
		genTimeout    time.Duration
		wantMsg       string
		notWantMsg    string
	}{
		{"own timeout", 0, 20 * time.Millisecond, "generation exceeded 20ms", "request deadline"},
		{"request deadline first", 20 * time.Millisecond, time.Hour, "generation stopped by request deadline", "1h0m0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{answer: "late", block: make(chan struct{})}
			defer close(gen.block)
			r := &stubRetriever{results: []models.RetrievalResult{{Chunk: mkChunk}}}
			o := New(r, gen, nil, WithGenerationTimeout(tt.genTimeout))

			ctx := context.Background()
			if tt.parentTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.parentTimeout)
				defer cancel()
			}
			_, err := o.Answer(ctx, Request{Question: "q", Layer: models.LayerCore, K: 3})
			if !errors.Is(err, models.ErrGenerationUnavailable) || !errors.Is(err, models.ErrTimeout) {
				t.Fatalf("expected generation timeout, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) || strings.Contains(err.Error(), tt.notWantMsg) {
				t.Errorf("error %q: want %q, must not mention %q", err, tt.wantMsg, tt.notWantMsg)
			}
		})
	}
}

func TestAnswer_RecorderFailureIsNotFatal(t *testing.T) {
	r := &stubRetriever{results: []models.RetrievalResult{{Chunk: mkChunk}}}
	rec := &memoryRecorder{err: errors.New("disk full")}
	o := New(r, &stubGenerator{answer: "Magic Kingdom opens at 9 am."}, nil, WithRecorder(rec))
	if _, err := o.Answer(context.Background(), Request{Question: "q", Layer: models.LayerCore, K: 3}); err != nil {
		t.Fatalf("recorder failure leaked into the request: %v", err)
	}
}
