package retrieval

import (
	"context"
	"strings"

	"github.com/hyperjump/wayfarer/internal/models"
)

// DefaultPassRate is the minimum golden-set success rate considered healthy.
const DefaultPassRate = 0.5

// EvalCase is the outcome for one golden fact.
type EvalCase struct {
	FactID  string   `json:"fact_id,omitempty"`
	Entity  string   `json:"entity"`
	Query   string   `json:"query"`
	Found   bool     `json:"found"`
	Sources []string `json:"sources"`
}

// EvalReport summarizes a golden-set retrieval check against CORE.
type EvalReport struct {
	Total       int        `json:"total"`
	Passed      int        `json:"passed"`
	SuccessRate float64    `json:"success_rate"`
	Cases       []EvalCase `json:"cases"`
}

// Evaluate queries CORE with each fact's sentence and counts a pass when the fact's entity
// appears, case-insensitively, in any of the top-k retrieved texts.
func (e *Engine) Evaluate(ctx context.Context, facts []models.Fact, k int) (*EvalReport, error) {
	report := &EvalReport{Cases: make([]EvalCase, 0, len(facts))}
	for _, fact := range facts {
		results, err := e.Retrieve(ctx, fact.Text, models.LayerCore, k)
		if err != nil {
			return nil, err
		}
		entity := strings.ToLower(fact.Entity)
		found := false
		for _, r := range results {
			if strings.Contains(strings.ToLower(r.Text), entity) {
				found = true
				break
			}
		}
		if found {
			report.Passed++
		}
		report.Cases = append(report.Cases, EvalCase{
			FactID:  fact.ID,
			Entity:  fact.Entity,
			Query:   fact.Text,
			Found:   found,
			Sources: models.SourceLabels(results),
		})
	}
	report.Total = len(facts)
	if report.Total > 0 {
		report.SuccessRate = float64(report.Passed) / float64(report.Total)
	}
	return report, nil
}
