// Package enrich augments opportunity text with content extracted from
// notice attachments. Extraction results are cached by URL so broken or
// slow documents are fetched at most once.
package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"strings"

	rpdf "rsc.io/pdf"

	"github.com/maplebid/rfp-finder/internal/ingest"
	"github.com/maplebid/rfp-finder/internal/models"
	"github.com/maplebid/rfp-finder/internal/store"
)

// ErrUnavailable marks a total enrichment failure, such as a nil
// fetcher. Per-attachment failures never surface as errors; they are
// cached and the attachment is skipped.
var ErrUnavailable = errors.New("enrichment unavailable")

const (
	// Extraction statuses stored in the attachment cache.
	StatusOK          = "ok"
	StatusFailed      = "failed"
	StatusUnsupported = "unsupported"

	// maxAttachmentChars caps the extracted text kept per attachment.
	maxAttachmentChars = 50000

	// maxDownloadBytes caps a single attachment download.
	maxDownloadBytes = 20 << 20

	sectionSeparator = "\n\n---\n\n"
)

// Enricher assembles the combined text for an opportunity: the notice
// summary plus labelled attachment extracts.
type Enricher struct {
	Fetcher ingest.Fetcher
	Cache   store.AttachmentCache

	// FetchMissing controls whether uncached attachments are
	// downloaded. When false only cached extractions contribute.
	FetchMissing bool
}

func NewEnricher(fetcher ingest.Fetcher, cache store.AttachmentCache) *Enricher {
	return &Enricher{Fetcher: fetcher, Cache: cache, FetchMissing: true}
}

// Enrich returns the combined text for one opportunity. A failed or
// unsupported attachment is logged, cached and skipped; the summary
// section is always produced when the notice has one.
func (e *Enricher) Enrich(ctx context.Context, opp models.Opportunity) (string, error) {
	if e.Cache == nil {
		return "", fmt.Errorf("%w: no attachment cache configured", ErrUnavailable)
	}

	var parts []string
	if strings.TrimSpace(opp.Summary) != "" {
		parts = append(parts, "[Main]\n"+opp.Summary)
	}

	for _, att := range opp.Attachments {
		if att.URL == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		text := e.attachmentText(ctx, att)
		if strings.TrimSpace(text) == "" {
			continue
		}
		if len(text) > maxAttachmentChars {
			text = text[:maxAttachmentChars]
		}
		parts = append(parts, fmt.Sprintf("[Attachment: %s]\n%s", attachmentLabel(att), text))
	}

	return strings.Join(parts, sectionSeparator), nil
}

// attachmentText returns the extracted text for one attachment,
// consulting the cache first. Every fetch attempt leaves a cache entry,
// including failures.
func (e *Enricher) attachmentText(ctx context.Context, att models.AttachmentRef) string {
	cached, err := e.Cache.Get(ctx, att.URL)
	if err == nil {
		if cached.Status == StatusOK {
			return cached.Text
		}
		return ""
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Printf("enrich: cache lookup failed for %s: %v", att.URL, err)
		return ""
	}

	if !e.FetchMissing || e.Fetcher == nil {
		return ""
	}

	entry := e.extract(ctx, att)
	if err := e.Cache.Put(ctx, entry); err != nil {
		log.Printf("enrich: cache write failed for %s: %v", att.URL, err)
	}
	if entry.Status != StatusOK {
		log.Printf("enrich: extraction %s for %s: %s", entry.Status, att.URL, entry.ErrorMessage)
		return ""
	}
	return entry.Text
}

func (e *Enricher) extract(ctx context.Context, att models.AttachmentRef) store.CachedExtraction {
	entry := store.CachedExtraction{URL: att.URL, Status: StatusFailed}

	doc, err := e.Fetcher.Fetch(ctx, att.URL)
	if err != nil {
		entry.ErrorMessage = err.Error()
		return entry
	}
	defer doc.Body.Close()

	content, err := io.ReadAll(io.LimitReader(doc.Body, maxDownloadBytes))
	if err != nil {
		entry.ErrorMessage = fmt.Sprintf("read failed: %v", err)
		return entry
	}

	if !isPDF(att, content) {
		entry.Status = StatusUnsupported
		entry.ErrorMessage = "unsupported format (only PDF supported)"
		return entry
	}

	text, pages, err := extractPDFText(content)
	if err != nil {
		entry.ErrorMessage = err.Error()
		return entry
	}

	entry.Status = StatusOK
	entry.Text = text
	entry.TextLength = len(text)
	entry.PageCount = pages
	entry.ErrorMessage = ""
	return entry
}

// isPDF accepts a declared PDF mime type, a .pdf URL or the PDF magic
// bytes, whichever is seen first.
func isPDF(att models.AttachmentRef, content []byte) bool {
	if strings.Contains(strings.ToLower(att.MimeType), "pdf") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(att.URL), ".pdf") {
		return true
	}
	return bytes.HasPrefix(content, []byte("%PDF-"))
}

// extractPDFText pulls the text fragments out of every page. The pdf
// package panics on malformed files, so the panic is converted into an
// error and cached like any other failure.
func extractPDFText(content []byte) (text string, pages int, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
			pages = 0
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, err
	}

	pages = reader.NumPage()
	var builder strings.Builder
	for pageIndex := 1; pageIndex <= pages; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}

	return builder.String(), pages, nil
}

func attachmentLabel(att models.AttachmentRef) string {
	if att.Label != "" {
		return att.Label
	}
	if u, err := url.Parse(att.URL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return "attachment"
}
