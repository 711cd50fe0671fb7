package enrich

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/maplebid/rfp-finder/internal/ingest"
	"github.com/maplebid/rfp-finder/internal/models"
	"github.com/maplebid/rfp-finder/internal/store"
)

type stubFetcher struct {
	byURL map[string]string
	err   error
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*ingest.FetchedDocument, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.byURL[url]
	if !ok {
		return nil, errors.New("unexpected url " + url)
	}
	return &ingest.FetchedDocument{
		URL:        url,
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(body)),
		FetchedAt:  time.Now(),
	}, nil
}

func opportunityWith(summary string, atts ...models.AttachmentRef) models.Opportunity {
	return models.Opportunity{
		Source:      "canadabuys",
		SourceID:    "T-001",
		Title:       "Network refresh",
		Summary:     summary,
		Attachments: atts,
	}
}

func TestEnrich_SummaryOnly(t *testing.T) {
	enricher := NewEnricher(&stubFetcher{}, store.NewMemoryAttachmentCache())

	text, err := enricher.Enrich(context.Background(), opportunityWith("Replace core switches."))
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if text != "[Main]\nReplace core switches." {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestEnrich_UsesCachedExtraction(t *testing.T) {
	cache := store.NewMemoryAttachmentCache()
	if err := cache.Put(context.Background(), store.CachedExtraction{
		URL:    "https://example.com/sow.pdf",
		Status: StatusOK,
		Text:   "Statement of work body.",
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	fetcher := &stubFetcher{}
	enricher := NewEnricher(fetcher, cache)

	opp := opportunityWith("Summary.", models.AttachmentRef{
		URL:   "https://example.com/sow.pdf",
		Label: "Statement of Work",
	})
	text, err := enricher.Enrich(context.Background(), opp)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}

	want := "[Main]\nSummary.\n\n---\n\n[Attachment: Statement of Work]\nStatement of work body."
	if text != want {
		t.Fatalf("unexpected text: %q", text)
	}
	if fetcher.calls != 0 {
		t.Fatalf("cached attachment must not be refetched, got %d calls", fetcher.calls)
	}
}

func TestEnrich_CachesFailureAndDegrades(t *testing.T) {
	cache := store.NewMemoryAttachmentCache()
	fetcher := &stubFetcher{err: errors.New("connection refused")}
	enricher := NewEnricher(fetcher, cache)

	opp := opportunityWith("Summary.", models.AttachmentRef{URL: "https://example.com/broken.pdf"})
	text, err := enricher.Enrich(context.Background(), opp)
	if err != nil {
		t.Fatalf("attachment failure must not fail enrichment: %v", err)
	}
	if text != "[Main]\nSummary." {
		t.Fatalf("unexpected text: %q", text)
	}

	entry, err := cache.Get(context.Background(), "https://example.com/broken.pdf")
	if err != nil {
		t.Fatalf("failure must be cached: %v", err)
	}
	if entry.Status != StatusFailed || entry.ErrorMessage == "" {
		t.Fatalf("unexpected cache entry: %+v", entry)
	}

	// Second pass reads the cached failure instead of refetching.
	fetcher.calls = 0
	if _, err := enricher.Enrich(context.Background(), opp); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("cached failure must not be refetched, got %d calls", fetcher.calls)
	}
}

func TestEnrich_UnsupportedFormatCached(t *testing.T) {
	cache := store.NewMemoryAttachmentCache()
	fetcher := &stubFetcher{byURL: map[string]string{
		"https://example.com/sow.docx": "PK\x03\x04 not a pdf",
	}}
	enricher := NewEnricher(fetcher, cache)

	opp := opportunityWith("Summary.", models.AttachmentRef{URL: "https://example.com/sow.docx"})
	text, err := enricher.Enrich(context.Background(), opp)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if strings.Contains(text, "[Attachment:") {
		t.Fatalf("unsupported attachment must not contribute text: %q", text)
	}

	entry, err := cache.Get(context.Background(), "https://example.com/sow.docx")
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if entry.Status != StatusUnsupported {
		t.Fatalf("expected unsupported, got %+v", entry)
	}
}

func TestEnrich_MalformedPDFCachedAsFailed(t *testing.T) {
	cache := store.NewMemoryAttachmentCache()
	fetcher := &stubFetcher{byURL: map[string]string{
		"https://example.com/truncated.pdf": "%PDF-1.7 garbage",
	}}
	enricher := NewEnricher(fetcher, cache)

	opp := opportunityWith("Summary.", models.AttachmentRef{URL: "https://example.com/truncated.pdf"})
	if _, err := enricher.Enrich(context.Background(), opp); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	entry, err := cache.Get(context.Background(), "https://example.com/truncated.pdf")
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if entry.Status != StatusFailed || entry.ErrorMessage == "" {
		t.Fatalf("malformed pdf must cache as failed: %+v", entry)
	}
}

func TestEnrich_CapsAttachmentText(t *testing.T) {
	cache := store.NewMemoryAttachmentCache()
	if err := cache.Put(context.Background(), store.CachedExtraction{
		URL:    "https://example.com/huge.pdf",
		Status: StatusOK,
		Text:   strings.Repeat("a", maxAttachmentChars+500),
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	enricher := NewEnricher(&stubFetcher{}, cache)

	opp := opportunityWith("", models.AttachmentRef{URL: "https://example.com/huge.pdf"})
	text, err := enricher.Enrich(context.Background(), opp)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}

	prefix := "[Attachment: huge.pdf]\n"
	if !strings.HasPrefix(text, prefix) {
		t.Fatalf("label fallback must use the url basename: %q", text[:40])
	}
	if got := len(text) - len(prefix); got != maxAttachmentChars {
		t.Fatalf("expected capped text of %d chars, got %d", maxAttachmentChars, got)
	}
}

func TestEnrich_NoCacheConfigured(t *testing.T) {
	enricher := &Enricher{Fetcher: &stubFetcher{}}
	if _, err := enricher.Enrich(context.Background(), opportunityWith("x")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
