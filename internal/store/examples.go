package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Example is a labelled past opportunity used to bias similarity
// scoring toward what a profile's owner actually bids on.
type Example struct {
	ID       int64
	ProfileID string
	URL      string
	Label    string // "good" or "bad"
	Title    string
	Summary  string
	RawText  string
}

// Text returns the example's comparison text, preferring the captured
// raw text over title plus summary.
func (e Example) Text() string {
	if strings.TrimSpace(e.RawText) != "" {
		return e.RawText
	}
	return strings.TrimSpace(e.Title + "\n" + e.Summary)
}

// ExampleStore holds labelled examples per profile.
type ExampleStore interface {
	Add(ctx context.Context, example Example) error
	ListByProfile(ctx context.Context, profileID string) ([]Example, error)
}

// GoodBadTexts splits a profile's examples into good and bad
// comparison texts for the similarity scorer.
func GoodBadTexts(ctx context.Context, examples ExampleStore, profileID string) (good, bad []string, err error) {
	all, err := examples.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, nil, err
	}
	for _, ex := range all {
		text := ex.Text()
		if text == "" {
			continue
		}
		if ex.Label == "good" {
			good = append(good, text)
		} else {
			bad = append(bad, text)
		}
	}
	return good, bad, nil
}

// PostgresExampleStore backs ExampleStore with the examples table.
type PostgresExampleStore struct {
	pool *pgxpool.Pool
}

func NewPostgresExampleStore(pool *pgxpool.Pool) *PostgresExampleStore {
	return &PostgresExampleStore{pool: pool}
}

func (s *PostgresExampleStore) Add(ctx context.Context, example Example) error {
	if example.Label != "good" && example.Label != "bad" {
		return fmt.Errorf("invalid example label %q", example.Label)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO examples (profile_id, url, label, title, summary, raw_text)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, example.ProfileID, example.URL, example.Label, example.Title, example.Summary, example.RawText)
	if err != nil {
		return fmt.Errorf("%w: add example: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresExampleStore) ListByProfile(ctx context.Context, profileID string) ([]Example, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, profile_id, url, label, COALESCE(title, ''), COALESCE(summary, ''), COALESCE(raw_text, '')
		FROM examples WHERE profile_id = $1 ORDER BY created_at
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("%w: list examples: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Example
	for rows.Next() {
		var ex Example
		if err := rows.Scan(&ex.ID, &ex.ProfileID, &ex.URL, &ex.Label, &ex.Title, &ex.Summary, &ex.RawText); err != nil {
			return nil, fmt.Errorf("%w: scan example: %v", ErrUnavailable, err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate examples: %v", ErrUnavailable, err)
	}
	return out, nil
}

// MemoryExampleStore backs ExampleStore with a map, for tests.
type MemoryExampleStore struct {
	mu       sync.Mutex
	nextID   int64
	examples map[string][]Example
}

func NewMemoryExampleStore() *MemoryExampleStore {
	return &MemoryExampleStore{nextID: 1, examples: make(map[string][]Example)}
}

func (s *MemoryExampleStore) Add(ctx context.Context, example Example) error {
	if example.Label != "good" && example.Label != "bad" {
		return fmt.Errorf("invalid example label %q", example.Label)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	example.ID = s.nextID
	s.nextID++
	s.examples[example.ProfileID] = append(s.examples[example.ProfileID], example)
	return nil
}

func (s *MemoryExampleStore) ListByProfile(ctx context.Context, profileID string) ([]Example, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Example, len(s.examples[profileID]))
	copy(out, s.examples[profileID])
	return out, nil
}
