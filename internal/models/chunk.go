package models

import "time"

// Chunk is an immutable unit of retrievable text. It belongs to exactly one layer.
type Chunk struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Layer       Layer  `json:"layer"`
	SourceLabel string `json:"source_label"`
}

// RetrievalResult is a chunk and its squared L2 distance to the query (lower is closer).
type RetrievalResult struct {
	Chunk
	Distance float64 `json:"distance"`
}

// SourceLabels returns the source label of each result, in order.
func SourceLabels(results []RetrievalResult) []string {
	labels := make([]string, len(results))
	for i, r := range results {
		labels[i] = r.SourceLabel
	}
	return labels
}

// Texts returns the chunk text of each result, in order.
func Texts(results []RetrievalResult) []string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return texts
}

// GroundingScore is the token-set Jaccard score between an answer and its context,
// with the token sets kept for auditing.
type GroundingScore struct {
	Score         float64  `json:"score"`
	Intersection  []string `json:"intersection"`
	Union         []string `json:"union"`
	AnswerTokens  int      `json:"answer_tokens"`
	ContextTokens int      `json:"context_tokens"`
}

// Envelope is the response returned for an answered question.
type Envelope struct {
	RequestID          string          `json:"request_id"`
	Layer              Layer           `json:"layer"`
	Answer             string          `json:"answer"`
	GroundingScore     float64         `json:"grounding_score"`
	Grounding          *GroundingScore `json:"grounding,omitempty"`
	LatencyMs          float64         `json:"latency_ms"`
	RetrievalLatencyMs float64         `json:"retrieval_latency_ms"`
	Sources            []string        `json:"sources"`
	Fallback           bool            `json:"fallback,omitempty"`
}

// QueryRecord is the per-request log entry sent to the query log.
type QueryRecord struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	Question           string    `json:"question"`
	Layer              Layer     `json:"layer"`
	Answer             string    `json:"answer"`
	GroundingScore     float64   `json:"grounding_score"`
	RetrievalLatencyMs float64   `json:"retrieval_latency_ms"`
	TotalLatencyMs     float64   `json:"total_latency_ms"`
	Sources            []string  `json:"sources"`
	Error              string    `json:"error,omitempty"`
}

// LayerQueryStats aggregates the query log for one layer selector.
type LayerQueryStats struct {
	Layer             Layer   `json:"layer"`
	Queries           int64   `json:"queries"`
	Failures          int64   `json:"failures"`
	AvgGroundingScore float64 `json:"avg_grounding_score"`
	AvgTotalLatencyMs float64 `json:"avg_total_latency_ms"`
}

// Fact is an atomic CORE fact: one entity, one attribute, one value.
type Fact struct {
	ID             string `json:"id,omitempty"`
	Entity         string `json:"entity"`
	Attribute      string `json:"attribute"`
	Value          string `json:"value"`
	SourceDocument string `json:"source_document"`
	YearOrSeason   string `json:"year_or_season"`
	Text           string `json:"text"`
}

// IngestRun records one layer rebuild.
type IngestRun struct {
	ID         string    `json:"id"`
	Layer      Layer     `json:"layer"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Sources    int       `json:"sources"`
	Chunks     int       `json:"chunks"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}
