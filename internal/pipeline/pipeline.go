// Package pipeline composes filtering, similarity, enrichment and
// scoring into the ranked relevance pass run per profile.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/maplebid/rfp-finder/internal/enrich"
	"github.com/maplebid/rfp-finder/internal/filter"
	"github.com/maplebid/rfp-finder/internal/models"
	"github.com/maplebid/rfp-finder/internal/scoring"
	"github.com/maplebid/rfp-finder/internal/store"
)

const (
	defaultShortlistSize = 20
	defaultEnrichLimit   = 5
)

// Ranked is one pipeline output row. Score is nil for opportunities
// the filter excluded; their FilterResult still carries the full
// explanation trail.
type Ranked struct {
	Opportunity models.Opportunity `json:"opportunity"`
	Filter      models.FilterResult `json:"filter"`
	Score       *models.ScoreResult `json:"score,omitempty"`
}

// Pipeline runs the relevance pass: load active opportunities, filter
// against the profile, shortlist by example similarity, enrich the
// most promising, then score and rank.
type Pipeline struct {
	Store    store.Store
	Examples store.ExampleStore
	Enricher *enrich.Enricher
	Scorer   scoring.Scorer

	// ShortlistSize bounds how many filtered opportunities go on to
	// scoring. Zero means 20.
	ShortlistSize int

	// EnrichLimit bounds how many shortlisted opportunities get
	// attachment enrichment. Zero means 5.
	EnrichLimit int
}

func New(st store.Store, examples store.ExampleStore, enricher *enrich.Enricher, scorer scoring.Scorer) *Pipeline {
	return &Pipeline{Store: st, Examples: examples, Enricher: enricher, Scorer: scorer}
}

// Run executes one relevance pass for one profile. Excluded
// opportunities come back unscored at the tail; scored ones are sorted
// by score descending.
func (p *Pipeline) Run(ctx context.Context, profileID string, profile models.UserProfile) ([]Ranked, error) {
	opps, err := p.loadActive(ctx)
	if err != nil {
		return nil, err
	}

	engine := filter.NewEngine(profile)

	var passed []Ranked
	var excluded []Ranked
	for _, opp := range opps {
		result := engine.Evaluate(opp)
		row := Ranked{Opportunity: opp, Filter: result}
		if result.Passed {
			passed = append(passed, row)
		} else {
			excluded = append(excluded, row)
		}
	}

	good, bad, err := p.exampleTexts(ctx, profileID)
	if err != nil {
		return nil, err
	}

	similarities := scoring.SimilarityScores(passedOpportunities(passed), good, bad)
	shortlist, rest := p.shortlist(passed, similarities)
	excluded = append(excluded, rest...)

	enrichments := p.enrichShortlist(ctx, shortlist)

	for i := range shortlist {
		sim := similarities[shortlist[i].index]
		in := scoring.Input{
			Opportunity:     shortlist[i].row.Opportunity,
			Profile:         profile,
			EnrichmentText:  enrichments[i],
			SimilarityScore: &sim,
		}
		result, err := p.Scorer.Score(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("scoring failed for %s: %w", in.Opportunity.ID, err)
		}
		shortlist[i].row.Score = &result
	}

	sort.SliceStable(shortlist, func(i, j int) bool {
		return shortlist[i].row.Score.Score > shortlist[j].row.Score.Score
	})

	out := make([]Ranked, 0, len(shortlist)+len(excluded))
	for _, entry := range shortlist {
		out = append(out, entry.row)
	}
	out = append(out, excluded...)
	return out, nil
}

// loadActive returns open and amended rows; both statuses are live
// tenders a vendor can still respond to.
func (p *Pipeline) loadActive(ctx context.Context) ([]models.Opportunity, error) {
	open, err := p.Store.GetByStatus(ctx, models.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to load open opportunities: %w", err)
	}
	amended, err := p.Store.GetByStatus(ctx, models.StatusAmended)
	if err != nil {
		return nil, fmt.Errorf("failed to load amended opportunities: %w", err)
	}
	return append(open, amended...), nil
}

func (p *Pipeline) exampleTexts(ctx context.Context, profileID string) (good, bad []string, err error) {
	if p.Examples == nil || profileID == "" {
		return nil, nil, nil
	}
	good, bad, err = store.GoodBadTexts(ctx, p.Examples, profileID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load examples: %w", err)
	}
	return good, bad, nil
}

type shortlisted struct {
	row   Ranked
	index int
}

// shortlist keeps the top-K passed opportunities by similarity and
// returns the rest so callers can still surface them, unscored.
func (p *Pipeline) shortlist(passed []Ranked, similarities []float64) ([]shortlisted, []Ranked) {
	limit := p.ShortlistSize
	if limit <= 0 {
		limit = defaultShortlistSize
	}

	entries := make([]shortlisted, len(passed))
	for i, row := range passed {
		entries[i] = shortlisted{row: row, index: i}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return similarities[entries[i].index] > similarities[entries[j].index]
	})

	if len(entries) <= limit {
		return entries, nil
	}
	var rest []Ranked
	for _, entry := range entries[limit:] {
		rest = append(rest, entry.row)
	}
	return entries[:limit], rest
}

// enrichShortlist enriches up to EnrichLimit entries, preferring
// opportunities with attachments since those gain the most context.
// Enrichment failure leaves the entry's text empty; scoring proceeds
// on the summary alone.
func (p *Pipeline) enrichShortlist(ctx context.Context, shortlist []shortlisted) []string {
	texts := make([]string, len(shortlist))
	if p.Enricher == nil {
		return texts
	}

	limit := p.EnrichLimit
	if limit <= 0 {
		limit = defaultEnrichLimit
	}

	order := make([]int, len(shortlist))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a := len(shortlist[order[i]].row.Opportunity.Attachments)
		b := len(shortlist[order[j]].row.Opportunity.Attachments)
		return a > b
	})

	enriched := 0
	for _, idx := range order {
		if enriched >= limit {
			break
		}
		opp := shortlist[idx].row.Opportunity
		text, err := p.Enricher.Enrich(ctx, opp)
		if err != nil {
			log.Printf("pipeline: enrichment failed for %s: %v", opp.ID, err)
			continue
		}
		texts[idx] = text
		enriched++
	}
	return texts
}

func passedOpportunities(passed []Ranked) []models.Opportunity {
	opps := make([]models.Opportunity, len(passed))
	for i, row := range passed {
		opps[i] = row.Opportunity
	}
	return opps
}
