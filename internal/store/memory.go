package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maplebid/rfp-finder/internal/identity"
	"github.com/maplebid/rfp-finder/internal/models"
)

// MemoryStore is the in-memory Store backend, used by tests and by the
// tools when no database is configured. Upserts of the same key
// serialize on a per-key lock, matching the row-lock behaviour of the
// Postgres backend.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]models.Opportunity
	keys map[string]*sync.Mutex

	Hook MergeHook
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]models.Opportunity),
		keys: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) keyLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.keys[id]
	if !ok {
		lock = &sync.Mutex{}
		s.keys[id] = lock
	}
	return lock
}

func (s *MemoryStore) Upsert(ctx context.Context, opp models.Opportunity) (UpsertOutcome, error) {
	id, err := identity.ComputeID(opp.Source, opp.SourceID)
	if err != nil {
		return "", err
	}

	lock := s.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.rows[id]
	s.mu.RUnlock()

	var existing *models.Opportunity
	if ok {
		existing = &current
	}

	record, outcome, err := resolveUpsert(existing, opp, time.Now().UTC())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.rows[id] = record
	s.mu.Unlock()

	if s.Hook != nil {
		s.Hook(ctx, record, outcome)
	}
	return outcome, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opp, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: opportunity %s", ErrNotFound, id)
	}
	return &opp, nil
}

func (s *MemoryStore) GetByStatus(ctx context.Context, status models.Status) ([]models.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Opportunity
	for _, opp := range s.rows {
		if opp.Status == status {
			out = append(out, opp)
		}
	}
	sortByLastSeen(out)
	return out, nil
}

func (s *MemoryStore) GetModifiedSince(ctx context.Context, since time.Time) ([]models.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Opportunity
	for _, opp := range s.rows {
		if !opp.LastSeenAt.Before(since) {
			out = append(out, opp)
		}
	}
	sortByLastSeen(out)
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

func (s *MemoryStore) ReconcileClosed(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, opp := range s.rows {
		if reconcilable(opp, now) {
			opp.Status = models.StatusClosed
			opp.LastSeenAt = now
			s.rows[id] = opp
			n++
		}
	}
	return n, nil
}

func sortByLastSeen(opps []models.Opportunity) {
	sort.Slice(opps, func(i, j int) bool {
		return opps[i].LastSeenAt.After(opps[j].LastSeenAt)
	})
}

// MemoryRunLedger is the in-memory RunLedger backend.
type MemoryRunLedger struct {
	mu     sync.Mutex
	nextID int64
	runs   []models.Run
}

func NewMemoryRunLedger() *MemoryRunLedger {
	return &MemoryRunLedger{nextID: 1}
}

func (l *MemoryRunLedger) Start(ctx context.Context, source string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.runs = append(l.runs, models.Run{
		ID:        id,
		Source:    source,
		StartedAt: time.Now().UTC(),
		Status:    models.RunRunning,
	})
	return id, nil
}

func (l *MemoryRunLedger) Finish(ctx context.Context, runID int64, status models.RunStatus, counters models.RunCounters) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: finish with non-terminal status %q", ErrInvalidTransition, status)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.runs {
		if l.runs[i].ID != runID {
			continue
		}
		if l.runs[i].Status != models.RunRunning {
			return fmt.Errorf("%w: run %d is not running", ErrInvalidTransition, runID)
		}
		now := time.Now().UTC()
		l.runs[i].FinishedAt = &now
		l.runs[i].Status = status
		l.runs[i].Counters = counters
		return nil
	}
	return fmt.Errorf("%w: run %d", ErrNotFound, runID)
}

func (l *MemoryRunLedger) LastSuccessfulRun(ctx context.Context, source string) (*time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var best *time.Time
	for i := range l.runs {
		r := l.runs[i]
		if r.Source != source || r.Status != models.RunSuccess {
			continue
		}
		if best == nil || r.StartedAt.After(*best) {
			started := r.StartedAt
			best = &started
		}
	}
	return best, nil
}

func (l *MemoryRunLedger) ListRecent(ctx context.Context, limit int) ([]models.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Run, len(l.runs))
	copy(out, l.runs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
