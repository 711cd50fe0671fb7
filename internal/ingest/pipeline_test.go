package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maplebid/rfp-finder/internal/models"
	"github.com/maplebid/rfp-finder/internal/store"
)

type stubConnector struct {
	source  string
	records []models.Opportunity
	err     error
	since   *time.Time
	called  bool
}

func (c *stubConnector) Source() string { return c.source }

func (c *stubConnector) Fetch(ctx context.Context, since *time.Time) ([]models.Opportunity, error) {
	c.called = true
	c.since = since
	if c.err != nil {
		return nil, c.err
	}
	return c.records, nil
}

type failingStore struct {
	*store.MemoryStore
}

func (s *failingStore) Upsert(ctx context.Context, opp models.Opportunity) (store.UpsertOutcome, error) {
	return "", store.ErrUnavailable
}

func notice(sourceID, title string) models.Opportunity {
	closing := time.Now().UTC().Add(30 * 24 * time.Hour)
	return models.Opportunity{
		Source:    "canadabuys",
		SourceID:  sourceID,
		Title:     title,
		ClosingAt: &closing,
	}
}

func TestRun_SuccessCountsOutcomes(t *testing.T) {
	st := store.NewMemoryStore()
	ledger := store.NewMemoryRunLedger()
	runner := NewRunner(st, ledger)

	existing := notice("T-001", "Old title")
	if _, err := st.Upsert(context.Background(), existing); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}
	amended := existing
	amended.Title = "New title"

	connector := &stubConnector{
		source:  "canadabuys",
		records: []models.Opportunity{amended, notice("T-002", "Fresh notice")},
	}

	result := runner.Run(context.Background(), connector)
	if result.Err != nil {
		t.Fatalf("run failed: %v", result.Err)
	}
	if result.Status != models.RunSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.Counters.ItemsFetched != 2 || result.Counters.ItemsNew != 1 || result.Counters.ItemsAmended != 1 {
		t.Fatalf("unexpected counters: %+v", result.Counters)
	}

	runs, err := ledger.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != models.RunSuccess {
		t.Fatalf("ledger must record the finished run: %+v", runs)
	}
	if runs[0].Counters.ItemsNew != 1 {
		t.Fatalf("ledger counters not persisted: %+v", runs[0].Counters)
	}
}

func TestRun_SkipsInvalidIdentityAndFinishesPartial(t *testing.T) {
	st := store.NewMemoryStore()
	ledger := store.NewMemoryRunLedger()
	runner := NewRunner(st, ledger)

	bad := notice("", "Missing source id")
	connector := &stubConnector{
		source:  "canadabuys",
		records: []models.Opportunity{bad, notice("T-010", "Valid notice")},
	}

	result := runner.Run(context.Background(), connector)
	if result.Err != nil {
		t.Fatalf("run must not fail on a skipped record: %v", result.Err)
	}
	if result.Status != models.RunPartial {
		t.Fatalf("expected partial, got %s", result.Status)
	}
	if result.Skipped != 1 || result.Counters.ItemsNew != 1 {
		t.Fatalf("unexpected result: skipped=%d counters=%+v", result.Skipped, result.Counters)
	}

	if _, err := st.Get(context.Background(), "canadabuys:T-010"); err != nil {
		t.Fatalf("valid record must still be stored: %v", err)
	}
}

func TestRun_FetchErrorFinishesFailed(t *testing.T) {
	ledger := store.NewMemoryRunLedger()
	runner := NewRunner(store.NewMemoryStore(), ledger)

	connector := &stubConnector{source: "canadabuys", err: errors.New("feed unreachable")}

	result := runner.Run(context.Background(), connector)
	if result.Status != models.RunFailed || result.Err == nil {
		t.Fatalf("expected failed run with error, got %+v", result)
	}

	runs, err := ledger.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != models.RunFailed {
		t.Fatalf("failed run must be recorded: %+v", runs)
	}
}

func TestRun_StoreErrorAbortsRun(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	ledger := store.NewMemoryRunLedger()
	runner := NewRunner(st, ledger)

	connector := &stubConnector{
		source:  "canadabuys",
		records: []models.Opportunity{notice("T-020", "Notice")},
	}

	result := runner.Run(context.Background(), connector)
	if result.Status != models.RunFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !errors.Is(result.Err, store.ErrUnavailable) {
		t.Fatalf("store error must surface: %v", result.Err)
	}
}

func TestRun_IncrementalSinceFromLedger(t *testing.T) {
	st := store.NewMemoryStore()
	ledger := store.NewMemoryRunLedger()
	runner := NewRunner(st, ledger)

	connector := &stubConnector{source: "canadabuys"}

	first := runner.Run(context.Background(), connector)
	if first.Status != models.RunSuccess {
		t.Fatalf("first run: %+v", first)
	}
	if connector.since != nil {
		t.Fatal("first run must fetch the full feed")
	}

	second := runner.Run(context.Background(), connector)
	if second.Status != models.RunSuccess {
		t.Fatalf("second run: %+v", second)
	}
	if connector.since == nil {
		t.Fatal("second run must pass the prior success timestamp")
	}
}

// ctxLedger refuses writes on a dead context, like the Postgres ledger.
type ctxLedger struct {
	*store.MemoryRunLedger
}

func (l *ctxLedger) Finish(ctx context.Context, runID int64, status models.RunStatus, counters models.RunCounters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.MemoryRunLedger.Finish(ctx, runID, status, counters)
}

type stalledConnector struct {
	source string
}

func (c *stalledConnector) Source() string { return c.source }

func (c *stalledConnector) Fetch(ctx context.Context, since *time.Time) ([]models.Opportunity, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_TimeoutStillFinishesLedgerRow(t *testing.T) {
	ledger := &ctxLedger{MemoryRunLedger: store.NewMemoryRunLedger()}
	runner := NewRunner(store.NewMemoryStore(), ledger)
	runner.RunTimeout = 20 * time.Millisecond

	result := runner.Run(context.Background(), &stalledConnector{source: "canadabuys"})
	if result.Status != models.RunFailed || result.Err == nil {
		t.Fatalf("expected failed run with error, got %+v", result)
	}

	runs, err := ledger.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != models.RunFailed {
		t.Fatalf("timed-out run must still reach a terminal status: %+v", runs)
	}
	if runs[0].FinishedAt == nil {
		t.Fatal("timed-out run must have finished_at set")
	}
}

func TestRunAll_ReconcilesClosed(t *testing.T) {
	st := store.NewMemoryStore()
	ledger := store.NewMemoryRunLedger()
	runner := NewRunner(st, ledger)

	expired := notice("T-030", "Expired notice")
	past := time.Now().UTC().Add(-48 * time.Hour)
	expired.ClosingAt = &past

	connectors := []Connector{
		&stubConnector{source: "canadabuys", records: []models.Opportunity{expired}},
		&stubConnector{source: "bcbid", records: []models.Opportunity{notice("B-001", "Open notice")}},
		&stubConnector{source: "merx", err: errors.New("login wall")},
	}

	results := runner.RunAll(context.Background(), connectors)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byStatus := make(map[models.RunStatus]int)
	for _, res := range results {
		byStatus[res.Status]++
	}
	if byStatus[models.RunSuccess] != 2 || byStatus[models.RunFailed] != 1 {
		t.Fatalf("one failing source must not poison the others: %+v", byStatus)
	}

	got, err := st.Get(context.Background(), "canadabuys:T-030")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusClosed {
		t.Fatalf("expired opportunity must be closed after reconcile, got %s", got.Status)
	}
}
