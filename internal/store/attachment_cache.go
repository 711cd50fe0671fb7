package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CachedExtraction is the stored result of an attachment text
// extraction, keyed by URL. Failed extractions are cached too so a
// broken PDF is not refetched on every enrichment pass.
type CachedExtraction struct {
	URL          string
	Status       string // "ok", "failed", "unsupported"
	Text         string
	TextLength   int
	PageCount    int
	ErrorMessage string
	FetchedAt    time.Time
}

// AttachmentCache stores extraction results by attachment URL.
type AttachmentCache interface {
	Get(ctx context.Context, url string) (*CachedExtraction, error)
	Put(ctx context.Context, entry CachedExtraction) error
}

// PostgresAttachmentCache backs AttachmentCache with the
// attachment_cache table.
type PostgresAttachmentCache struct {
	pool *pgxpool.Pool
}

func NewPostgresAttachmentCache(pool *pgxpool.Pool) *PostgresAttachmentCache {
	return &PostgresAttachmentCache{pool: pool}
}

func (c *PostgresAttachmentCache) Get(ctx context.Context, url string) (*CachedExtraction, error) {
	var entry CachedExtraction
	err := c.pool.QueryRow(ctx, `
		SELECT url, extraction_status, COALESCE(extracted_text, ''), COALESCE(text_length, 0),
			COALESCE(page_count, 0), COALESCE(error_message, ''), fetched_at
		FROM attachment_cache WHERE url = $1
	`, url).Scan(&entry.URL, &entry.Status, &entry.Text, &entry.TextLength,
		&entry.PageCount, &entry.ErrorMessage, &entry.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: attachment %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get attachment cache: %v", ErrUnavailable, err)
	}
	return &entry, nil
}

func (c *PostgresAttachmentCache) Put(ctx context.Context, entry CachedExtraction) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO attachment_cache (url, extraction_status, extracted_text, text_length, page_count, error_message, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (url) DO UPDATE SET
			extraction_status = EXCLUDED.extraction_status,
			extracted_text = EXCLUDED.extracted_text,
			text_length = EXCLUDED.text_length,
			page_count = EXCLUDED.page_count,
			error_message = EXCLUDED.error_message,
			fetched_at = NOW()
	`, entry.URL, entry.Status, entry.Text, entry.TextLength, entry.PageCount, entry.ErrorMessage)
	if err != nil {
		return fmt.Errorf("%w: put attachment cache: %v", ErrUnavailable, err)
	}
	return nil
}

// MemoryAttachmentCache backs AttachmentCache with a map, for tests.
type MemoryAttachmentCache struct {
	mu      sync.Mutex
	entries map[string]CachedExtraction
}

func NewMemoryAttachmentCache() *MemoryAttachmentCache {
	return &MemoryAttachmentCache{entries: make(map[string]CachedExtraction)}
}

func (c *MemoryAttachmentCache) Get(ctx context.Context, url string) (*CachedExtraction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[url]
	if !ok {
		return nil, fmt.Errorf("%w: attachment %s", ErrNotFound, url)
	}
	return &entry, nil
}

func (c *MemoryAttachmentCache) Put(ctx context.Context, entry CachedExtraction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.FetchedAt = time.Now().UTC()
	c.entries[entry.URL] = entry
	return nil
}
