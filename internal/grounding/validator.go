package grounding

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/wayfarer/internal/models"
)

// Validator computes grounding scores. It is stateless and safe for concurrent use.
type Validator struct{}

// NewValidator returns a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns the Jaccard overlap between the normalized token sets of answer and
// context, rounded to four decimals, along with the sorted intersection and union.
// Two empty sets score 0.0. Invalid UTF-8 in either argument is ErrInvalidArgument.
func (v *Validator) Validate(answer, context string) (models.GroundingScore, error) {
	if !utf8.ValidString(answer) {
		return models.GroundingScore{}, fmt.Errorf("%w: answer is not valid UTF-8", models.ErrInvalidArgument)
	}
	if !utf8.ValidString(context) {
		return models.GroundingScore{}, fmt.Errorf("%w: context is not valid UTF-8", models.ErrInvalidArgument)
	}

	answerSet := toSet(Normalize(answer))
	contextSet := toSet(Normalize(context))

	inter := make(map[string]struct{})
	union := make(map[string]struct{}, len(answerSet)+len(contextSet))
	for t := range answerSet {
		union[t] = struct{}{}
		if _, ok := contextSet[t]; ok {
			inter[t] = struct{}{}
		}
	}
	for t := range contextSet {
		union[t] = struct{}{}
	}

	score := 0.0
	if len(union) > 0 {
		score = round4(float64(len(inter)) / float64(len(union)))
	}
	return models.GroundingScore{
		Score:         score,
		Intersection:  sortedSet(inter),
		Union:         sortedSet(union),
		AnswerTokens:  len(answerSet),
		ContextTokens: len(contextSet),
	}, nil
}

// ValidateResults scores answer against the texts of results joined with spaces, which
// is exactly the context handed to the generator.
func (v *Validator) ValidateResults(answer string, results []models.RetrievalResult) (models.GroundingScore, error) {
	return v.Validate(answer, strings.Join(models.Texts(results), " "))
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
