package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/maplebid/rfp-finder/internal/models"
	"github.com/maplebid/rfp-finder/internal/scoring"
	"github.com/maplebid/rfp-finder/internal/store"
)

func seedStore(t *testing.T, opps ...models.Opportunity) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	for _, opp := range opps {
		if _, err := st.Upsert(context.Background(), opp); err != nil {
			t.Fatalf("seed %s: %v", opp.SourceID, err)
		}
	}
	return st
}

func tender(sourceID, title, summary string) models.Opportunity {
	closing := time.Now().UTC().Add(45 * 24 * time.Hour)
	return models.Opportunity{
		Source:    "canadabuys",
		SourceID:  sourceID,
		Title:     title,
		Summary:   summary,
		Region:    "Ontario",
		ClosingAt: &closing,
	}
}

func techProfile() models.UserProfile {
	return models.UserProfile{
		ProfileID:    "default",
		KeywordsMode: models.KeywordsRequired,
		Keywords:     []string{"software", "cloud", "network"},
	}
}

func newPipeline(st *store.MemoryStore) *Pipeline {
	return New(st, store.NewMemoryExampleStore(), nil, scoring.NewHeuristicScorer())
}

func TestRun_ScoresPassedAndCarriesExcluded(t *testing.T) {
	st := seedStore(t,
		tender("T-001", "Cloud migration services", "Migrate workloads to cloud infrastructure."),
		tender("T-002", "Office furniture supply", "Desks and chairs for a regional office."),
	)
	p := newPipeline(st)

	results, err := p.Run(context.Background(), "default", techProfile())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(results))
	}

	first := results[0]
	if !first.Filter.Passed || first.Score == nil {
		t.Fatalf("passed opportunity must be scored: %+v", first)
	}
	if first.Opportunity.SourceID != "T-001" {
		t.Fatalf("scored rows must rank first: %+v", first.Opportunity)
	}

	last := results[len(results)-1]
	if last.Filter.Passed || last.Score != nil {
		t.Fatalf("excluded opportunity must stay unscored: %+v", last)
	}
	if last.Filter.ExcludedByRule != "keywords" {
		t.Fatalf("unexpected exclusion rule: %q", last.Filter.ExcludedByRule)
	}
}

func TestRun_RanksByScoreDescending(t *testing.T) {
	st := seedStore(t,
		tender("T-010", "Cloud platform modernization", "Cloud software development and network integration services."),
		tender("T-011", "Network cabling", "Pull network cable through a warehouse."),
	)
	p := newPipeline(st)

	results, err := p.Run(context.Background(), "default", techProfile())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var scores []int
	for _, row := range results {
		if row.Score != nil {
			scores = append(scores, row.Score.Score)
		}
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 scored rows, got %d", len(scores))
	}
	if scores[0] < scores[1] {
		t.Fatalf("scores must be descending: %v", scores)
	}
}

func TestRun_IncludesAmendedOpportunities(t *testing.T) {
	st := seedStore(t)
	orig := tender("T-020", "Cloud services", "Cloud hosting services.")
	if _, err := st.Upsert(context.Background(), orig); err != nil {
		t.Fatalf("seed: %v", err)
	}
	amended := orig
	amended.Summary = "Cloud hosting services, scope expanded."
	if _, err := st.Upsert(context.Background(), amended); err != nil {
		t.Fatalf("amend: %v", err)
	}

	p := newPipeline(st)
	results, err := p.Run(context.Background(), "default", techProfile())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 || results[0].Score == nil {
		t.Fatalf("amended opportunity must flow through the pipeline: %+v", results)
	}
	if results[0].Opportunity.Status != models.StatusAmended {
		t.Fatalf("unexpected status: %s", results[0].Opportunity.Status)
	}
}

func TestRun_ShortlistBoundsScoring(t *testing.T) {
	opps := make([]models.Opportunity, 0, 6)
	for i := 0; i < 6; i++ {
		opps = append(opps, tender(
			fmt.Sprintf("T-%03d", i),
			fmt.Sprintf("Cloud services lot %d", i),
			"Cloud software services.",
		))
	}
	st := seedStore(t, opps...)

	p := newPipeline(st)
	p.ShortlistSize = 3

	results, err := p.Run(context.Background(), "default", techProfile())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	scored := 0
	for _, row := range results {
		if row.Score != nil {
			scored++
		} else if !row.Filter.Passed {
			t.Fatalf("rows cut by the shortlist keep a passing filter result: %+v", row.Filter)
		}
	}
	if scored != 3 {
		t.Fatalf("expected exactly 3 scored rows, got %d", scored)
	}
}

func TestRun_ExamplesBiasShortlist(t *testing.T) {
	st := seedStore(t,
		tender("T-030", "Cloud data platform", "Build a cloud data platform with managed software services."),
		tender("T-031", "Network cabling software", "Software for tracking cabling inventory."),
	)

	examples := store.NewMemoryExampleStore()
	if err := examples.Add(context.Background(), store.Example{
		ProfileID: "default",
		URL:       "https://example.com/past-win",
		Label:     "good",
		RawText:   "cloud data platform managed services",
	}); err != nil {
		t.Fatalf("add example: %v", err)
	}

	p := New(st, examples, nil, scoring.NewHeuristicScorer())
	p.ShortlistSize = 1

	results, err := p.Run(context.Background(), "default", techProfile())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Score == nil || results[0].Opportunity.SourceID != "T-030" {
		t.Fatalf("good example overlap must win the shortlist slot: %+v", results[0].Opportunity)
	}
}
