package ingest

import (
	"context"
	"io"
	"time"

	"github.com/maplebid/rfp-finder/internal/models"
)

// Connector produces normalized opportunity records for one source.
// Records carry connector data only; the store owns lifecycle fields.
// The stream is finite per run and not restartable mid-stream: a
// failed run is retried from the start, relying on idempotent upserts.
type Connector interface {
	Source() string
	// Fetch returns the records for one run. since, when non-nil, is
	// the last successful run's start time and bounds incremental
	// fetches; connectors without incremental support ignore it.
	Fetch(ctx context.Context, since *time.Time) ([]models.Opportunity, error)
}

// FetchedDocument is the raw result of one fetch.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}
