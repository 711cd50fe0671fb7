// Package ingest fetches tender notices from configured sources and
// feeds them through the store, recording every run in the ledger.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/maplebid/rfp-finder/internal/identity"
	"github.com/maplebid/rfp-finder/internal/models"
	"github.com/maplebid/rfp-finder/internal/store"
)

// Runner executes ingestion runs: one source per run, every run
// recorded in the ledger, every record upserted idempotently.
type Runner struct {
	Store  store.Store
	Ledger store.RunLedger

	// MaxConcurrent bounds parallel source runs in RunAll. Zero means 4.
	MaxConcurrent int

	// RunTimeout bounds a single source run. Zero means 10 minutes.
	RunTimeout time.Duration
}

func NewRunner(st store.Store, ledger store.RunLedger) *Runner {
	return &Runner{Store: st, Ledger: ledger}
}

// RunResult summarizes one finished ingestion run.
type RunResult struct {
	RunID    int64
	Source   string
	Status   models.RunStatus
	Counters models.RunCounters
	Skipped  int
	Err      error
}

// Run executes one ingestion run for one connector. Records with bad
// identity are skipped and counted; storage failure aborts the run
// and marks it failed. A run with skips but no abort finishes partial.
func (r *Runner) Run(ctx context.Context, connector Connector) RunResult {
	source := connector.Source()

	timeout := r.RunTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runID, err := r.Ledger.Start(ctx, source)
	if err != nil {
		return RunResult{Source: source, Status: models.RunFailed, Err: fmt.Errorf("failed to start run: %w", err)}
	}

	result := RunResult{RunID: runID, Source: source}

	since, err := r.Ledger.LastSuccessfulRun(ctx, source)
	if err != nil {
		return r.finish(ctx, result, models.RunFailed, fmt.Errorf("failed to read run history: %w", err))
	}

	records, err := connector.Fetch(ctx, since)
	if err != nil {
		return r.finish(ctx, result, models.RunFailed, fmt.Errorf("fetch failed for %s: %w", source, err))
	}
	result.Counters.ItemsFetched = len(records)

	for _, record := range records {
		outcome, err := r.Store.Upsert(ctx, record)
		switch {
		case err == nil:
		case errors.Is(err, identity.ErrInvalidIdentity):
			// One malformed record never stops the batch.
			result.Skipped++
			log.Printf("ingest %s: skipping record %q: %v", source, record.SourceID, err)
			continue
		default:
			return r.finish(ctx, result, models.RunFailed, fmt.Errorf("upsert failed for %s: %w", source, err))
		}

		switch outcome {
		case store.OutcomeCreated:
			result.Counters.ItemsNew++
		case store.OutcomeAmended:
			result.Counters.ItemsAmended++
		}
	}

	status := models.RunSuccess
	if result.Skipped > 0 {
		status = models.RunPartial
	}
	return r.finish(ctx, result, status, nil)
}

func (r *Runner) finish(ctx context.Context, result RunResult, status models.RunStatus, runErr error) RunResult {
	result.Status = status
	result.Err = runErr
	// The run context may already be cancelled or past its deadline;
	// the ledger write must still land or the row stays running forever.
	if err := r.Ledger.Finish(context.WithoutCancel(ctx), result.RunID, status, result.Counters); err != nil {
		log.Printf("ingest %s: failed to finish run %d: %v", result.Source, result.RunID, err)
		if result.Err == nil {
			result.Err = err
		}
	}
	return result
}

// RunAll runs every connector with bounded parallelism (one run per
// source at a time, multiple sources concurrently), then reconciles
// closed rows once all runs settle.
func (r *Runner) RunAll(ctx context.Context, connectors []Connector) []RunResult {
	limit := r.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}

	sem := make(chan struct{}, limit)
	results := make([]RunResult, len(connectors))
	done := make(chan int, len(connectors))

	for i, connector := range connectors {
		go func(i int, connector Connector) {
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.Run(ctx, connector)
			done <- i
		}(i, connector)
	}
	for range connectors {
		<-done
	}

	if n, err := r.Store.ReconcileClosed(ctx, time.Now().UTC()); err != nil {
		log.Printf("ingest: reconcile closed failed: %v", err)
	} else if n > 0 {
		log.Printf("ingest: closed %d expired opportunities", n)
	}

	return results
}
