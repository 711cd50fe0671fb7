// Package store provides durable keyed storage for opportunities with
// deduplication, amendment detection and run bookkeeping.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/maplebid/rfp-finder/internal/identity"
	"github.com/maplebid/rfp-finder/internal/models"
)

var (
	// ErrNotFound is returned for lookups by unknown id.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks storage I/O failure. Callers must treat it
	// as run-aborting, never as "no data".
	ErrUnavailable = errors.New("storage unavailable")

	// ErrInvalidTransition marks ledger misuse (finishing a run twice).
	// This is a programming error, not an operational condition.
	ErrInvalidTransition = errors.New("invalid run transition")
)

// UpsertOutcome describes what an upsert did to the stored row.
type UpsertOutcome string

const (
	// OutcomeCreated: the key was unseen; a new row was inserted.
	OutcomeCreated UpsertOutcome = "created"
	// OutcomeUpdated: the content hash matched but non-key fields
	// changed, so the stored payload was refreshed.
	OutcomeUpdated UpsertOutcome = "updated"
	// OutcomeAmended: the content hash changed; the hash chain and
	// status were updated.
	OutcomeAmended UpsertOutcome = "amended"
	// OutcomeUnchanged: identical content; only last_seen_at advanced.
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// MergeHook is the extension point for cross-source deduplication. It
// runs after a committed upsert. The default pipeline installs none.
type MergeHook func(ctx context.Context, opp models.Opportunity, outcome UpsertOutcome)

// Store is the opportunity store contract. Implementations must
// enforce (source, source_id) uniqueness and serialize concurrent
// upserts per key.
type Store interface {
	Upsert(ctx context.Context, opp models.Opportunity) (UpsertOutcome, error)
	Get(ctx context.Context, id string) (*models.Opportunity, error)
	GetByStatus(ctx context.Context, status models.Status) ([]models.Opportunity, error)
	GetModifiedSince(ctx context.Context, since time.Time) ([]models.Opportunity, error)
	Count(ctx context.Context) (int, error)
	ReconcileClosed(ctx context.Context, now time.Time) (int, error)
}

// RunLedger records ingestion run outcomes and answers the
// incremental-fetch high-water-mark query.
type RunLedger interface {
	Start(ctx context.Context, source string) (int64, error)
	Finish(ctx context.Context, runID int64, status models.RunStatus, counters models.RunCounters) error
	LastSuccessfulRun(ctx context.Context, source string) (*time.Time, error)
	ListRecent(ctx context.Context, limit int) ([]models.Run, error)
}

// resolveUpsert decides what an upsert writes. It is shared by the
// Postgres and memory backends so both commit identical semantics, and
// it is pure so the semantics are testable without a database.
//
// The incoming record carries connector data only; resolveUpsert fills
// every lifecycle field. Status resolution on amendment:
//   - a closed row reopens to open when the new closing date is in the
//     future (re-tendering);
//   - an unknown row converts to open/closed once a closing date is
//     known;
//   - everything else becomes amended (re-amendment stays amended).
func resolveUpsert(existing *models.Opportunity, incoming models.Opportunity, now time.Time) (models.Opportunity, UpsertOutcome, error) {
	id, err := identity.ComputeID(incoming.Source, incoming.SourceID)
	if err != nil {
		return models.Opportunity{}, "", err
	}

	record := incoming
	record.ID = id
	record.ContentHash = identity.ContentHash(incoming)
	record.PriorContentHash = ""
	record.LastSeenAt = now

	if existing == nil {
		record.FirstSeenAt = now
		if record.ClosingAt == nil {
			record.Status = models.StatusUnknown
		} else {
			record.Status = models.StatusOpen
		}
		return record, OutcomeCreated, nil
	}

	record.FirstSeenAt = existing.FirstSeenAt

	if record.ContentHash == existing.ContentHash {
		record.Status = existing.Status
		record.PriorContentHash = existing.PriorContentHash
		if record.AmendedAt == nil {
			record.AmendedAt = existing.AmendedAt
		}
		if contentEqual(*existing, record) {
			return record, OutcomeUnchanged, nil
		}
		return record, OutcomeUpdated, nil
	}

	record.PriorContentHash = existing.ContentHash
	if record.AmendedAt == nil {
		record.AmendedAt = existing.AmendedAt
	}
	switch {
	case existing.Status == models.StatusClosed && record.ClosingAt != nil && record.ClosingAt.After(now):
		record.Status = models.StatusOpen
	case existing.Status == models.StatusUnknown && record.ClosingAt != nil:
		if record.ClosingAt.After(now) {
			record.Status = models.StatusOpen
		} else {
			record.Status = models.StatusClosed
		}
	default:
		record.Status = models.StatusAmended
	}
	return record, OutcomeAmended, nil
}

// contentEqual compares two records ignoring lifecycle fields.
func contentEqual(a, b models.Opportunity) bool {
	return string(contentPayload(a)) == string(contentPayload(b))
}

func contentPayload(o models.Opportunity) []byte {
	o.Status = ""
	o.FirstSeenAt = time.Time{}
	o.LastSeenAt = time.Time{}
	o.ContentHash = ""
	o.PriorContentHash = ""
	// Same second-level granularity as the content hash: records the
	// hash calls identical must compare equal here too.
	o.PublishedAt = truncateToSecond(o.PublishedAt)
	o.ClosingAt = truncateToSecond(o.ClosingAt)
	o.AmendedAt = truncateToSecond(o.AmendedAt)
	payload, _ := json.Marshal(o)
	return payload
}

func truncateToSecond(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	tt := t.UTC().Truncate(time.Second)
	return &tt
}

// reconcilable reports whether a row should transition to closed given
// the reconciliation clock.
func reconcilable(opp models.Opportunity, now time.Time) bool {
	if opp.Status != models.StatusOpen && opp.Status != models.StatusAmended {
		return false
	}
	return opp.ClosingAt != nil && opp.ClosingAt.Before(now)
}
