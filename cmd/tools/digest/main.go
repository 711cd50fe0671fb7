// Command digest runs the relevance pipeline for a YAML profile and
// prints the ranked results.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/maplebid/rfp-finder/internal/enrich"
	"github.com/maplebid/rfp-finder/internal/ingest"
	"github.com/maplebid/rfp-finder/internal/models"
	"github.com/maplebid/rfp-finder/internal/pipeline"
	"github.com/maplebid/rfp-finder/internal/scoring"
	"github.com/maplebid/rfp-finder/internal/store"
)

func main() {
	profilePath := flag.String("profile", "config/profiles/default.yaml", "path to the profile yaml")
	top := flag.Int("top", 20, "number of scored rows to print")
	showExcluded := flag.Bool("excluded", false, "also print excluded opportunities with the failing rule")
	flag.Parse()

	profile, err := models.LoadProfile(*profilePath)
	if err != nil {
		log.Fatalf("Failed to load profile: %v", err)
	}

	ctx := context.Background()
	pool, err := store.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	st := store.NewPostgresStore(pool)
	examples := store.NewPostgresExampleStore(pool)
	fetcher := ingest.NewRateLimitedFetcher(ingest.FetchConfig{})
	enricher := enrich.NewEnricher(fetcher, store.NewPostgresAttachmentCache(pool))
	scorer := scoring.Select(os.Getenv("OLLAMA_HOST"), os.Getenv("SCORING_MODEL"))

	p := pipeline.New(st, examples, enricher, scorer)
	p.ShortlistSize = *top

	results, err := p.Run(ctx, profile.ProfileID, *profile)
	if err != nil {
		log.Fatalf("Pipeline run failed: %v", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Score", "Conf", "Title", "Region", "Closing", "Top Reason"})

	printed := 0
	for _, row := range results {
		if row.Score == nil {
			continue
		}
		if printed >= *top {
			break
		}
		closing := "-"
		if row.Opportunity.ClosingAt != nil {
			closing = row.Opportunity.ClosingAt.Format("2006-01-02")
		}
		reason := ""
		if len(row.Score.Reasons) > 0 {
			reason = truncate(row.Score.Reasons[0], 60)
		}
		t.AppendRow(table.Row{
			row.Score.Score, row.Score.Confidence,
			truncate(row.Opportunity.Title, 60),
			row.Opportunity.Region, closing, reason,
		})
		printed++
	}
	t.Render()

	if *showExcluded {
		x := table.NewWriter()
		x.SetOutputMirror(os.Stdout)
		x.AppendHeader(table.Row{"Title", "Excluded By", "Explanation"})
		for _, row := range results {
			if row.Filter.Passed {
				continue
			}
			x.AppendRow(table.Row{
				truncate(row.Opportunity.Title, 60),
				row.Filter.ExcludedByRule,
				truncate(failingExplanation(row.Filter), 70),
			})
		}
		x.Render()
	}
}

// failingExplanation returns the trail entry for the rule that
// excluded the row. Rules report in a fixed order, so the entry index
// follows the rule name.
func failingExplanation(result models.FilterResult) string {
	ruleOrder := []string{"region", "keywords", "exclude_keywords", "deadline", "budget"}
	for i, name := range ruleOrder {
		if name == result.ExcludedByRule && i < len(result.Explanations) {
			return result.Explanations[i]
		}
	}
	if len(result.Explanations) > 0 {
		return result.Explanations[0]
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
