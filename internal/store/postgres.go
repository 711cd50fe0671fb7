package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maplebid/rfp-finder/internal/identity"
	"github.com/maplebid/rfp-finder/internal/models"
)

// PostgresStore persists opportunities in Postgres. The full record
// lives in a JSONB payload; lifecycle columns are duplicated out of it
// for indexing and are authoritative on read.
type PostgresStore struct {
	pool *pgxpool.Pool

	// Hook, when set, runs after every committed upsert.
	Hook MergeHook
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Upsert inserts or refreshes the row keyed by (source, source_id).
// The row is locked for the duration of the transaction so concurrent
// upserts of the same key serialize instead of clobbering each other.
func (s *PostgresStore) Upsert(ctx context.Context, opp models.Opportunity) (UpsertOutcome, error) {
	id, err := identity.ComputeID(opp.Source, opp.SourceID)
	if err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: begin upsert: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var existing *models.Opportunity
	var data []byte
	row := tx.QueryRow(ctx, `
		SELECT data, status, content_hash, prior_content_hash, first_seen_at, last_seen_at
		FROM opportunities WHERE id = $1 FOR UPDATE
	`, id)

	var current models.Opportunity
	var priorHash *string
	err = row.Scan(&data, &current.Status, &current.ContentHash, &priorHash, &current.FirstSeenAt, &current.LastSeenAt)
	switch {
	case err == nil:
		lifecycle := current
		if err := json.Unmarshal(data, &current); err != nil {
			return "", fmt.Errorf("%w: decode stored row %s: %v", ErrUnavailable, id, err)
		}
		current.Status = lifecycle.Status
		current.ContentHash = lifecycle.ContentHash
		current.FirstSeenAt = lifecycle.FirstSeenAt
		current.LastSeenAt = lifecycle.LastSeenAt
		if priorHash != nil {
			current.PriorContentHash = *priorHash
		} else {
			current.PriorContentHash = ""
		}
		existing = &current
	case errors.Is(err, pgx.ErrNoRows):
		existing = nil
	default:
		return "", fmt.Errorf("%w: read row %s: %v", ErrUnavailable, id, err)
	}

	record, outcome, err := resolveUpsert(existing, opp, time.Now().UTC())
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode row %s: %w", id, err)
	}

	var prior *string
	if record.PriorContentHash != "" {
		prior = &record.PriorContentHash
	}

	if existing == nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO opportunities (id, source, source_id, status, content_hash, prior_content_hash,
				closing_at, first_seen_at, last_seen_at, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, record.ID, record.Source, record.SourceID, record.Status, record.ContentHash, prior,
			record.ClosingAt, record.FirstSeenAt, record.LastSeenAt, payload)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE opportunities
			SET status = $2, content_hash = $3, prior_content_hash = $4,
				closing_at = $5, last_seen_at = $6, data = $7
			WHERE id = $1
		`, record.ID, record.Status, record.ContentHash, prior,
			record.ClosingAt, record.LastSeenAt, payload)
	}
	if err != nil {
		return "", fmt.Errorf("%w: write row %s: %v", ErrUnavailable, id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("%w: commit row %s: %v", ErrUnavailable, id, err)
	}

	if s.Hook != nil {
		s.Hook(ctx, record, outcome)
	}
	return outcome, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Opportunity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT data, status, content_hash, prior_content_hash, first_seen_at, last_seen_at
		FROM opportunities WHERE id = $1
	`, id)
	opp, err := scanOpportunity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: opportunity %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, id, err)
	}
	return opp, nil
}

func (s *PostgresStore) GetByStatus(ctx context.Context, status models.Status) ([]models.Opportunity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data, status, content_hash, prior_content_hash, first_seen_at, last_seen_at
		FROM opportunities WHERE status = $1 ORDER BY last_seen_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("%w: query by status: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

func (s *PostgresStore) GetModifiedSince(ctx context.Context, since time.Time) ([]models.Opportunity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data, status, content_hash, prior_content_hash, first_seen_at, last_seen_at
		FROM opportunities WHERE last_seen_at >= $1 ORDER BY last_seen_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("%w: query modified since: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	return n, nil
}

// ReconcileClosed transitions every open or amended row whose closing
// date has passed to closed. Idempotent: a second call with the same
// clock affects zero rows.
func (s *PostgresStore) ReconcileClosed(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities
		SET status = $1, last_seen_at = $2,
			data = jsonb_set(data, '{status}', to_jsonb($1::text))
		WHERE status IN ($3, $4) AND closing_at IS NOT NULL AND closing_at < $2
	`, models.StatusClosed, now, models.StatusOpen, models.StatusAmended)
	if err != nil {
		return 0, fmt.Errorf("%w: reconcile closed: %v", ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func scanOpportunity(row pgx.Row) (*models.Opportunity, error) {
	var data []byte
	var opp models.Opportunity
	var lifecycle models.Opportunity
	var priorHash *string
	if err := row.Scan(&data, &lifecycle.Status, &lifecycle.ContentHash, &priorHash,
		&lifecycle.FirstSeenAt, &lifecycle.LastSeenAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &opp); err != nil {
		return nil, err
	}
	opp.Status = lifecycle.Status
	opp.ContentHash = lifecycle.ContentHash
	opp.FirstSeenAt = lifecycle.FirstSeenAt
	opp.LastSeenAt = lifecycle.LastSeenAt
	if priorHash != nil {
		opp.PriorContentHash = *priorHash
	} else {
		opp.PriorContentHash = ""
	}
	return &opp, nil
}

func collectOpportunities(rows pgx.Rows) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", ErrUnavailable, err)
		}
		out = append(out, *opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %v", ErrUnavailable, err)
	}
	return out, nil
}

// PostgresRunLedger records ingestion runs in the runs table.
type PostgresRunLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresRunLedger(pool *pgxpool.Pool) *PostgresRunLedger {
	return &PostgresRunLedger{pool: pool}
}

func (l *PostgresRunLedger) Start(ctx context.Context, source string) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx, `
		INSERT INTO runs (source, started_at, status) VALUES ($1, $2, $3) RETURNING id
	`, source, time.Now().UTC(), models.RunRunning).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: start run: %v", ErrUnavailable, err)
	}
	return id, nil
}

func (l *PostgresRunLedger) Finish(ctx context.Context, runID int64, status models.RunStatus, counters models.RunCounters) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: finish with non-terminal status %q", ErrInvalidTransition, status)
	}
	tag, err := l.pool.Exec(ctx, `
		UPDATE runs
		SET finished_at = $2, status = $3, items_fetched = $4, items_new = $5, items_amended = $6
		WHERE id = $1 AND status = $7
	`, runID, time.Now().UTC(), status,
		counters.ItemsFetched, counters.ItemsNew, counters.ItemsAmended, models.RunRunning)
	if err != nil {
		return fmt.Errorf("%w: finish run %d: %v", ErrUnavailable, runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %d is not running", ErrInvalidTransition, runID)
	}
	return nil
}

// LastSuccessfulRun returns the started_at of the most recent success
// for the source, or nil when none exists. Partial and failed runs are
// skipped so a later incremental fetch re-covers their window.
func (l *PostgresRunLedger) LastSuccessfulRun(ctx context.Context, source string) (*time.Time, error) {
	var startedAt time.Time
	err := l.pool.QueryRow(ctx, `
		SELECT started_at FROM runs
		WHERE source = $1 AND status = $2
		ORDER BY started_at DESC LIMIT 1
	`, source, models.RunSuccess).Scan(&startedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: last successful run: %v", ErrUnavailable, err)
	}
	return &startedAt, nil
}

func (l *PostgresRunLedger) ListRecent(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, source, started_at, finished_at, status, items_fetched, items_new, items_amended
		FROM runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		var r models.Run
		if err := rows.Scan(&r.ID, &r.Source, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.Counters.ItemsFetched, &r.Counters.ItemsNew, &r.Counters.ItemsAmended); err != nil {
			return nil, fmt.Errorf("%w: scan run: %v", ErrUnavailable, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate runs: %v", ErrUnavailable, err)
	}
	return out, nil
}
