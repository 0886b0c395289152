package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OllamaGenerator calls the /api/generate endpoint of an Ollama server.
type OllamaGenerator struct {
	client      *http.Client
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewOllamaGenerator creates a generator for model served at baseURL.
func NewOllamaGenerator(baseURL, model string, temperature float64, maxTokens int, timeout time.Duration, logger *zap.Logger) *OllamaGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaGenerator{
		client:      &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	System  string        `json:"system"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model         string `json:"model"`
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	TotalDuration int64  `json:"total_duration"`
	EvalCount     int    `json:"eval_count"`
}

// Generate implements answer.Generator.
func (g *OllamaGenerator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  g.model,
		System: SystemPrompt,
		Prompt: BuildPrompt(question, contexts),
		Stream: false,
		Options: ollamaOptions{
			Temperature: g.temperature,
			NumPredict:  g.maxTokens,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: /api/generate returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	var out ollamaResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", fmt.Errorf("ollama: empty response from %s", g.model)
	}
	g.logger.Debug("ollama generated",
		zap.String("model", out.Model),
		zap.Int("eval_count", out.EvalCount),
		zap.Duration("total_duration", time.Duration(out.TotalDuration)),
	)
	return text, nil
}
