// Command ingest runs ingestion from the command line, for one source
// or for every enabled source in the registry.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/maplebid/rfp-finder/internal/ingest"
	"github.com/maplebid/rfp-finder/internal/store"
)

func main() {
	sourceID := flag.String("source", "", "ingest a single source by id (default: all enabled sources)")
	flag.Parse()

	ctx := context.Background()
	pool, err := store.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	registry, err := ingest.LoadRegistry(os.Getenv("SOURCES_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load source registry: %v", err)
	}

	fetcher := ingest.NewRateLimitedFetcher(ingest.FetchConfig{})
	connectors, err := registry.Connectors(fetcher)
	if err != nil {
		log.Fatalf("Failed to build connectors: %v", err)
	}

	runner := ingest.NewRunner(store.NewPostgresStore(pool), store.NewPostgresRunLedger(pool))

	if *sourceID != "" {
		var target ingest.Connector
		for _, connector := range connectors {
			if connector.Source() == *sourceID {
				target = connector
				break
			}
		}
		if target == nil {
			log.Fatalf("Unknown or disabled source %q", *sourceID)
		}

		result := runner.Run(ctx, target)
		report(result)
		if result.Err != nil {
			os.Exit(1)
		}
		return
	}

	failed := false
	for _, result := range runner.RunAll(ctx, connectors) {
		report(result)
		if result.Err != nil {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func report(result ingest.RunResult) {
	if result.Err != nil {
		log.Printf("%s: run %d %s: %v", result.Source, result.RunID, result.Status, result.Err)
		return
	}
	log.Printf("%s: run %d %s (fetched=%d new=%d amended=%d skipped=%d)",
		result.Source, result.RunID, result.Status,
		result.Counters.ItemsFetched, result.Counters.ItemsNew, result.Counters.ItemsAmended,
		result.Skipped)
}
