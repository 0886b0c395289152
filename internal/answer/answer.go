// Package answer sequences retrieval, generation and grounding into a response envelope.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/wayfarer/internal/grounding"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/pkg/utils"
	"go.uber.org/zap"
)

// Generator writes an answer to question from the given context passages. An empty
// contexts slice means nothing was retrieved.
type Generator interface {
	Generate(ctx context.Context, question string, contexts []string) (string, error)
}

// Retriever returns the k nearest chunks for a layer selector. *retrieval.Engine
// implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, selector models.Layer, k int) ([]models.RetrievalResult, error)
}

// Recorder receives one record per request.
type Recorder interface {
	RecordQuery(ctx context.Context, rec models.QueryRecord) error
}

// Request is one question to answer.
type Request struct {
	Question string
	Layer    models.Layer
	K        int
}

// GenerationError is returned when the generator fails or times out. Retrieval already
// succeeded, so it carries the sources the generator was given.
type GenerationError struct {
	RequestID          string
	Layer              models.Layer
	Sources            []string
	RetrievalLatencyMs float64
	Err                error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation unavailable for request %s: %v", e.RequestID, e.Err)
}

// Unwrap exposes models.ErrGenerationUnavailable and the underlying cause.
func (e *GenerationError) Unwrap() []error {
	return []error{models.ErrGenerationUnavailable, e.Err}
}

// Orchestrator answers questions. It holds no per-request state and is safe for
// concurrent use.
type Orchestrator struct {
	retriever  Retriever
	generator  Generator
	validator  *grounding.Validator
	recorder   Recorder
	genTimeout time.Duration
	logger     *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the query log sink.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithGenerationTimeout bounds each generator call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.genTimeout = d
	}
}

// New creates an orchestrator.
func New(retriever Retriever, generator Generator, validator *grounding.Validator, opts ...Option) *Orchestrator {
	if validator == nil {
		validator = grounding.NewValidator()
	}
	o := &Orchestrator{
		retriever: retriever,
		generator: generator,
		validator: validator,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer retrieves context for req, generates an answer from it, and scores the answer
// against exactly the passages that were given to the generator. A generator failure is
// returned as *GenerationError without retrying retrieval.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*models.Envelope, error) {
	start := time.Now()
	requestID := uuid.NewString()
	rec := models.QueryRecord{
		ID:        requestID,
		Timestamp: start.UTC(),
		Question:  req.Question,
		Layer:     req.Layer,
		Sources:   []string{},
	}

	results, err := o.retriever.Retrieve(ctx, req.Question, req.Layer, req.K)
	retrievalLatency := sinceMs(start)
	rec.RetrievalLatencyMs = retrievalLatency
	if err != nil {
		o.finish(ctx, &rec, start, err)
		return nil, err
	}
	sources := models.SourceLabels(results)
	rec.Sources = sources

	contexts := models.Texts(results)
	text, err := utils.CallWithTimeout(ctx, o.genTimeout, func(ctx context.Context) (string, error) {
		return o.generator.Generate(ctx, req.Question, contexts)
	})
	if err != nil {
		if errors.Is(err, utils.ErrDeadline) {
			err = fmt.Errorf("%w: %s", models.ErrTimeout, utils.DescribeDeadline(ctx, "generation", o.genTimeout))
		}
		genErr := &GenerationError{
			RequestID:          requestID,
			Layer:              req.Layer,
			Sources:            sources,
			RetrievalLatencyMs: retrievalLatency,
			Err:                err,
		}
		o.finish(ctx, &rec, start, genErr)
		return nil, genErr
	}
	text = strings.TrimSpace(text)

	score, err := o.validator.ValidateResults(text, results)
	if err != nil {
		err = fmt.Errorf("validate answer: %w", err)
		o.finish(ctx, &rec, start, err)
		return nil, err
	}

	rec.Answer = text
	rec.GroundingScore = score.Score
	o.finish(ctx, &rec, start, nil)

	return &models.Envelope{
		RequestID:          requestID,
		Layer:              req.Layer,
		Answer:             text,
		GroundingScore:     score.Score,
		Grounding:          &score,
		LatencyMs:          rec.TotalLatencyMs,
		RetrievalLatencyMs: retrievalLatency,
		Sources:            sources,
	}, nil
}

// Fallback builds the envelope returned in place of an answer when generation failed.
func Fallback(genErr *GenerationError, message string) *models.Envelope {
	sources := genErr.Sources
	if sources == nil {
		sources = []string{}
	}
	return &models.Envelope{
		RequestID:          genErr.RequestID,
		Layer:              genErr.Layer,
		Answer:             message,
		RetrievalLatencyMs: genErr.RetrievalLatencyMs,
		Sources:            sources,
		Fallback:           true,
	}
}

func (o *Orchestrator) finish(ctx context.Context, rec *models.QueryRecord, start time.Time, err error) {
	rec.TotalLatencyMs = sinceMs(start)
	fields := []zap.Field{
		zap.String("request_id", rec.ID),
		zap.String("layer", rec.Layer.String()),
		zap.Float64("grounding_score", rec.GroundingScore),
		zap.Float64("total_latency_ms", rec.TotalLatencyMs),
	}
	if err != nil {
		rec.Error = err.Error()
		o.logger.Warn("query failed", append(fields, zap.Error(err))...)
	} else {
		o.logger.Debug("query answered", fields...)
	}
	if o.recorder == nil {
		return
	}
	// The request context may already be cancelled; the record is still wanted.
	if err := o.recorder.RecordQuery(context.WithoutCancel(ctx), *rec); err != nil {
		o.logger.Warn("failed to record query", zap.String("request_id", rec.ID), zap.Error(err))
	}
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
