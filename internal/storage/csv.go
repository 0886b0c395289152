package storage

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/wayfarer/internal/models"
)

// CSVHeader is the column order of exported query logs.
var CSVHeader = []string{
	"timestamp", "request_id", "question", "layer", "answer", "grounding_score",
	"retrieval_latency_ms", "total_latency_ms", "sources", "error",
}

// WriteCSV writes records to w with a header row. Sources are joined with "|".
func WriteCSV(w io.Writer, records []models.QueryRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.ID,
			rec.Question,
			rec.Layer.Slug(),
			rec.Answer,
			strconv.FormatFloat(rec.GroundingScore, 'f', 4, 64),
			strconv.FormatFloat(rec.RetrievalLatencyMs, 'f', 2, 64),
			strconv.FormatFloat(rec.TotalLatencyMs, 'f', 2, 64),
			strings.Join(rec.Sources, "|"),
			rec.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
