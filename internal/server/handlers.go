package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/wayfarer/internal/answer"
	"github.com/hyperjump/wayfarer/internal/keyword"
	"github.com/hyperjump/wayfarer/internal/models"
	"go.uber.org/zap"
)

const (
	defaultChunkLimit = 20
	defaultQueryLimit = 50
	maxListLimit      = 500
)

// QueryRequest is the body of POST /api/v1/query and /api/v1/retrieve. Layer defaults
// to ALL and K to the configured default; K above the configured maximum is clamped.
type QueryRequest struct {
	Question string `json:"question"`
	Layer    string `json:"layer,omitempty"`
	K        *int   `json:"k,omitempty"`
}

// RetrieveResponse is the body returned by POST /api/v1/retrieve.
type RetrieveResponse struct {
	Layer   models.Layer             `json:"layer"`
	K       int                      `json:"k"`
	Results []models.RetrievalResult `json:"results"`
}

// ValidateRequest is the body of POST /api/v1/validate. Contexts, when given, are
// joined with spaces and take the place of Context.
type ValidateRequest struct {
	Answer   string   `json:"answer"`
	Context  string   `json:"context,omitempty"`
	Contexts []string `json:"contexts,omitempty"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	EngineReady bool   `json:"engine_ready"`
}

func (s *Server) parseQuery(r *http.Request) (answer.Request, error) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return answer.Request{}, fmt.Errorf("%w: invalid request body", models.ErrInvalidArgument)
	}
	layer := models.LayerAll
	if strings.TrimSpace(req.Layer) != "" {
		l, err := models.ParseLayer(req.Layer)
		if err != nil {
			return answer.Request{}, err
		}
		layer = l
	}
	k := s.config.Retrieval.DefaultK
	if req.K != nil {
		k = *req.K
	}
	if maxK := s.config.Retrieval.MaxK; maxK > 0 && k > maxK {
		k = maxK
	}
	return answer.Request{Question: req.Question, Layer: layer, K: k}, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseQuery(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Debug("query request", zap.String("layer", req.Layer.String()), zap.Int("k", req.K))
	env, err := s.answerer.Answer(r.Context(), req)
	var genErr *answer.GenerationError
	if errors.As(err, &genErr) {
		s.respondJSON(w, http.StatusOK, answer.Fallback(genErr, s.config.Generation.FallbackMessage))
		return
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, env)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseQuery(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	results, err := s.retriever.Retrieve(r.Context(), req.Question, req.Layer, req.K)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, RetrieveResponse{Layer: req.Layer, K: req.K, Results: results})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := req.Context
	if len(req.Contexts) > 0 {
		text = strings.Join(req.Contexts, " ")
	}
	score, err := s.validator.Validate(req.Answer, text)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, score)
}

func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"layers": s.registry.Stats()})
}

func (s *Server) layerParam(r *http.Request) (models.Layer, error) {
	layer, err := models.ParseLayer(chi.URLParam(r, "layer"))
	if err != nil {
		return 0, err
	}
	return layer, nil
}

func (s *Server) handleReloadLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := s.layerParam(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if !layer.Concrete() {
		s.respondError(w, http.StatusBadRequest, "reload needs a single layer")
		return
	}
	s.logger.Debug("reload layer request", zap.String("layer", layer.String()))
	// Not tied to the client connection.
	if err := s.registry.Reload(context.WithoutCancel(r.Context()), layer); err != nil {
		s.respondErr(w, err)
		return
	}
	for _, st := range s.registry.Stats() {
		if st.Layer == layer {
			s.respondJSON(w, http.StatusOK, st)
			return
		}
	}
}

func (s *Server) handleLayerChunks(w http.ResponseWriter, r *http.Request) {
	layer, err := s.layerParam(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	limit, err := intParam(r, "limit", defaultChunkLimit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		s.listChunks(w, layer, limit)
		return
	}
	if s.catalog == nil {
		s.respondError(w, http.StatusNotImplemented, "chunk catalog not enabled")
		return
	}
	opts := &keyword.SearchOptions{FuzzyEnabled: r.URL.Query().Get("fuzzy") == "true"}
	hits, err := s.catalog.Search(r.Context(), layer, q, limit, opts)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	resp := map[string]interface{}{"layer": layer, "query": q, "hits": hits}
	if len(hits) == 0 {
		if suggestion, changed, err := s.catalog.Suggest(q); err != nil {
			s.logger.Warn("suggestion failed", zap.String("query", q), zap.Error(err))
		} else if changed {
			resp["suggestion"] = suggestion
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// listChunks returns the first limit chunks of layer in index order.
func (s *Server) listChunks(w http.ResponseWriter, layer models.Layer, limit int) {
	indexes, err := s.registry.Get(layer)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	chunks := []models.Chunk{}
	total := 0
	for _, li := range indexes {
		all := li.Chunks()
		total += len(all)
		for _, c := range all {
			if len(chunks) >= limit {
				break
			}
			chunks = append(chunks, c)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"layer": layer, "total": total, "chunks": chunks})
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "query log not enabled")
		return
	}
	limit, err := intParam(r, "limit", defaultQueryLimit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	records, err := s.storage.RecentQueries(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list queries failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"queries": records})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := CollectStatus(r.Context(), s.registry, s.storage, s.config, s.logger)
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Ready() {
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", EngineReady: true})
}

// intParam reads a non-negative integer query parameter, capped at maxListLimit.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", models.ErrInvalidArgument, name)
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument), errors.Is(err, models.ErrUnknownLayer):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEmptyIndex):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIndexLoad):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrGenerationUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
