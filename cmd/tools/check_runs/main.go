package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/maplebid/rfp-finder/internal/store"
)

func main() {
	ctx := context.Background()
	pool, err := store.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	ledger := store.NewPostgresRunLedger(pool)
	runs, err := ledger.ListRecent(ctx, 15)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Source", "Status", "Fetched", "New", "Amended", "Duration", "Started At"})

	for _, run := range runs {
		duration := "Running..."
		if run.FinishedAt != nil {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			run.ID, run.Source, run.Status,
			run.Counters.ItemsFetched, run.Counters.ItemsNew, run.Counters.ItemsAmended,
			duration, run.StartedAt.Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}
