// Package cli renders answers, retrieval results, and service state for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/retrieval"
	"github.com/hyperjump/wayfarer/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; anything else is an error.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Grounding score bands.
const (
	HighGrounding   = 0.5
	MediumGrounding = 0.2
)

var (
	scoreHigh   = color.New(color.FgGreen)
	scoreMedium = color.New(color.FgYellow)
	scoreLow    = color.New(color.FgRed)
	heading     = color.New(color.Bold)
	faint       = color.New(color.Faint)
)

// ScoreBand names the band of a grounding score: "high", "medium" or "low".
func ScoreBand(score float64) string {
	switch {
	case score >= HighGrounding:
		return "high"
	case score >= MediumGrounding:
		return "medium"
	default:
		return "low"
	}
}

func scoreColor(score float64) *color.Color {
	switch ScoreBand(score) {
	case "high":
		return scoreHigh
	case "medium":
		return scoreMedium
	default:
		return scoreLow
	}
}

// FormatScore renders score with four decimals, coloured by band.
func FormatScore(score float64) string {
	return scoreColor(score).Sprintf("%.4f", score)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteEnvelope writes an answer envelope to w in the given format.
func WriteEnvelope(w io.Writer, env *models.Envelope, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, env)
	}
	fmt.Fprintf(w, "\n%s\n\n", env.Answer)
	fmt.Fprintf(w, "Layer: %s | Grounding: %s (%s) | Latency: %.1fms (retrieval %.1fms)\n",
		env.Layer, FormatScore(env.GroundingScore), ScoreBand(env.GroundingScore),
		env.LatencyMs, env.RetrievalLatencyMs)
	if env.Fallback {
		fmt.Fprintln(w, scoreLow.Sprint("Generation unavailable: fallback answer"))
	}
	if len(env.Sources) > 0 {
		fmt.Fprintf(w, "Sources: %s\n", strings.Join(env.Sources, ", "))
	}
	fmt.Fprintln(w, faint.Sprintf("Request: %s", env.RequestID))
	return nil
}

// WriteResults writes retrieval results to w in the given format.
func WriteResults(w io.Writer, results []models.RetrievalResult, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []models.RetrievalResult{}
		}
		return writeJSON(w, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No results.")
		return nil
	}
	fmt.Fprintf(w, "\nFound %d results\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "%s Layer: %s | Distance: %.4f\n", heading.Sprintf("#%d", i+1), r.Layer, r.Distance)
		fmt.Fprintf(w, "ID: %s\n", r.ID)
		if r.SourceLabel != "" {
			fmt.Fprintf(w, "Source: %s\n", r.SourceLabel)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Text, 200))
	}
	return nil
}

// WriteGrounding writes a grounding score to w in the given format.
func WriteGrounding(w io.Writer, score *models.GroundingScore, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, score)
	}
	fmt.Fprintf(w, "Grounding: %s (%s)\n", FormatScore(score.Score), ScoreBand(score.Score))
	fmt.Fprintf(w, "Answer tokens: %d | Context tokens: %d | Shared: %d | Union: %d\n",
		score.AnswerTokens, score.ContextTokens, len(score.Intersection), len(score.Union))
	if len(score.Intersection) > 0 {
		fmt.Fprintf(w, "Shared tokens: %s\n", TruncateWords(strings.Join(score.Intersection, " "), 30))
	}
	return nil
}

// WriteStatus writes the service status to w in the given format.
func WriteStatus(w io.Writer, status *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	ready := scoreLow.Sprint("not ready")
	if status.Ready {
		ready = scoreHigh.Sprint("ready")
	}
	fmt.Fprintf(w, "Engine: %s\n\n", ready)
	fmt.Fprintln(w, heading.Sprint("Layers"))
	for _, l := range status.Layers {
		if !l.Loaded {
			fmt.Fprintf(w, "  %-22s %s\n", l.Layer, scoreLow.Sprint("not loaded"))
			continue
		}
		line := fmt.Sprintf("  %-22s %6d chunks  dim %d  %s", l.Layer, l.Chunks, l.Dimensions, l.IndexType)
		if size, ok := status.LayerDiskBytes[l.Layer]; ok {
			line += "  " + FormatBytes(size)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%s %d", heading.Sprint("Queries:"), status.Queries)
	if status.DatabaseBytes > 0 {
		fmt.Fprintf(w, " (log %s)", FormatBytes(status.DatabaseBytes))
	}
	fmt.Fprintln(w)
	for _, s := range status.QueryStats {
		fmt.Fprintf(w, "  %-22s %6d queries  %d failed  avg grounding %s  avg latency %.1fms\n",
			s.Layer, s.Queries, s.Failures, FormatScore(s.AvgGroundingScore), s.AvgTotalLatencyMs)
	}
	if len(status.LastIngest) > 0 {
		fmt.Fprintf(w, "\n%s\n", heading.Sprint("Last ingest"))
		for _, run := range status.LastIngest {
			result := scoreHigh.Sprint("ok")
			if run.Error != "" {
				result = scoreLow.Sprint("failed: " + run.Error)
			}
			fmt.Fprintf(w, "  %-22s %s  %d sources  %d chunks  %s\n",
				run.Layer, run.StartedAt.Local().Format(time.DateTime), run.Sources, run.Chunks, result)
		}
	}
	return nil
}

// WriteQueryLog writes query records, newest first as given, to w.
func WriteQueryLog(w io.Writer, records []models.QueryRecord, format OutputFormat) error {
	if format == OutputJSON {
		if records == nil {
			records = []models.QueryRecord{}
		}
		return writeJSON(w, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No queries logged.")
		return nil
	}
	for _, r := range records {
		WriteQueryRecord(w, r)
	}
	return nil
}

// WriteQueryRecord writes one query record as a single text line.
func WriteQueryRecord(w io.Writer, r models.QueryRecord) {
	score := FormatScore(r.GroundingScore)
	if r.Error != "" {
		score = scoreLow.Sprint("error")
	}
	fmt.Fprintf(w, "%s  %-22s %s  %7.1fms  %s\n",
		r.Timestamp.Local().Format(time.DateTime), r.Layer, score, r.TotalLatencyMs,
		TruncateWords(r.Question, 12))
}

// WriteEvalReport writes a golden-set evaluation report to w in the given format.
func WriteEvalReport(w io.Writer, report *retrieval.EvalReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	for _, c := range report.Cases {
		mark := scoreHigh.Sprint("PASS")
		if !c.Found {
			mark = scoreLow.Sprint("FAIL")
		}
		fmt.Fprintf(w, "%s  %-30s %s\n", mark, utils.Truncate(c.Entity, 30), TruncateWords(c.Query, 12))
	}
	rate := scoreHigh
	if report.SuccessRate < retrieval.DefaultPassRate {
		rate = scoreLow
	}
	fmt.Fprintf(w, "\n%d/%d passed (%s)\n", report.Passed, report.Total,
		rate.Sprintf("%.0f%%", report.SuccessRate*100))
	return nil
}

// FormatBytes renders n in binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
