// Package scoring ranks filtered opportunities 0-100 against a
// profile. The heuristic scorer is the deterministic default; the
// Ollama scorer is an optional drop-in behind the same contract.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/maplebid/rfp-finder/internal/models"
)

// ErrUnavailable marks an external scorer failure (timeout, malformed
// response, quota). Callers fall back to the heuristic scorer for the
// item and keep going.
var ErrUnavailable = errors.New("scorer unavailable")

// Input carries everything a scorer may consider for one opportunity.
// EnrichmentText, when present, replaces the summary as scoring
// context. SimilarityScore is the 0..1 example-overlap signal, or nil
// when no examples exist.
type Input struct {
	Opportunity     models.Opportunity
	Profile         models.UserProfile
	EnrichmentText  string
	SimilarityScore *float64
}

// Scorer is the single scoring contract both implementations satisfy.
type Scorer interface {
	Score(ctx context.Context, in Input) (models.ScoreResult, error)
}

// Select picks the scorer for a deployment. With no Ollama host
// configured the heuristic runs directly; nothing dials a model that
// was never set up.
func Select(ollamaHost, model string) Scorer {
	if ollamaHost == "" {
		return NewHeuristicScorer()
	}
	return NewFallbackScorer(NewOllamaScorer(ollamaHost, model))
}

// FallbackScorer tries the primary scorer and falls back to the
// heuristic on failure, recording the fallback in the result's
// reasons. One item's scoring failure never aborts a batch.
type FallbackScorer struct {
	Primary  Scorer
	Fallback *HeuristicScorer
}

func NewFallbackScorer(primary Scorer) *FallbackScorer {
	return &FallbackScorer{Primary: primary, Fallback: NewHeuristicScorer()}
}

func (s *FallbackScorer) Score(ctx context.Context, in Input) (models.ScoreResult, error) {
	result, err := s.Primary.Score(ctx, in)
	if err == nil {
		return result, nil
	}
	log.Printf("scorer fallback for %s: %v", in.Opportunity.ID, err)

	result, ferr := s.Fallback.Score(ctx, in)
	if ferr != nil {
		return models.ScoreResult{}, ferr
	}
	result.Reasons = append(result.Reasons, fmt.Sprintf("Fallback to heuristic scoring: %v", err))
	return result, nil
}
