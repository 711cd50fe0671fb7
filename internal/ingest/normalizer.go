package ingest

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/maplebid/rfp-finder/internal/models"
)

var (
	spacePattern = regexp.MustCompile(`\s+`)
	urlPattern   = regexp.MustCompile(`(?i)https?://[^\s,)\]"']+`)
	// Splits concatenated attachment URLs: "url1,url2" and "url1https://url2".
	urlSepPattern   = regexp.MustCompile(`(?i),\s*(https?://)`)
	urlGluePattern  = regexp.MustCompile(`(?i)(https?://)`)
	paragraphSplit  = regexp.MustCompile(`\r?\n\r?\n`)
	agreementSplit  = regexp.MustCompile(`[\n*]+`)
	sanitizerPolicy = bluemonday.UGCPolicy()
)

var dateFormats = []string{
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// Boilerplate prefixes stripped when deriving a title from the summary.
var titleSkipPrefixes = []string{
	"NOTICE OF PROPOSED PROCUREMENT (NPP)",
	"NOTICE OF PROPOSED PROCUREMENT",
	"Solicitation Number:",
	"Organization Name:",
	"Reference Number:",
	"Tendering Procedure:",
	"This requirement is for:",
}

func cleanText(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// SanitizeHTML strips unsafe tags and attributes from source HTML.
func SanitizeHTML(html string) string {
	return sanitizerPolicy.Sanitize(html)
}

// HTMLToText converts HTML to plain text, collapsing whitespace.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return cleanText(html)
	}
	return cleanText(doc.Text())
}

// ParseDate parses the date formats source feeds actually use. The
// result is naive UTC; feeds publish local Ottawa time without zone
// info, which is close enough for day-granularity deadlines.
func ParseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if len(value) > 19 {
		value = value[:19]
	}
	for _, format := range dateFormats {
		if t, err := time.ParseInLocation(format, value, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

// DeriveTitleFromSummary produces a usable title when the title field
// is empty: skip boilerplate paragraphs, take the first substantive
// one, truncate to ~100 chars.
func DeriveTitleFromSummary(summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "Untitled"
	}
	for _, para := range paragraphSplit.Split(summary, -1) {
		para = strings.TrimSpace(strings.ReplaceAll(para, "&nbsp;", " "))
		for _, prefix := range titleSkipPrefixes {
			if strings.HasPrefix(strings.ToUpper(para), strings.ToUpper(prefix)) {
				para = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(para[len(prefix):]), ":"))
				break
			}
		}
		if len(para) > 15 {
			if len(para) > 100 {
				para = para[:97] + "..."
			}
			return para
		}
	}
	return "Untitled"
}

// ExtractAttachments parses an attachment field holding one or more
// URLs. Feeds concatenate them with commas, newlines, or nothing at
// all ("url1https://url2").
func ExtractAttachments(field string) []models.AttachmentRef {
	if strings.TrimSpace(field) == "" {
		return nil
	}

	var refs []models.AttachmentRef
	seen := make(map[string]bool)

	addURL := func(u string) {
		u = strings.TrimSpace(strings.TrimRight(u, ".,;:"))
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		ref := models.AttachmentRef{URL: u}
		if strings.HasSuffix(strings.ToLower(u), ".pdf") {
			ref.MimeType = "application/pdf"
		}
		refs = append(refs, ref)
	}

	// Re-insert a separator before each URL start, then scan.
	prepared := urlSepPattern.ReplaceAllString(field, "\n$1")
	prepared = urlGluePattern.ReplaceAllString(prepared, "\n$1")
	for _, segment := range strings.Split(prepared, "\n") {
		for _, u := range urlPattern.FindAllString(segment, -1) {
			addURL(u)
		}
	}
	return refs
}

// ParseTradeAgreements splits a newline/asterisk-separated field.
func ParseTradeAgreements(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var items []string
	for _, s := range agreementSplit.Split(value, -1) {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
	}
	return items
}

func splitList(value, sep string) []string {
	var items []string
	for _, s := range strings.Split(value, sep) {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
	}
	return items
}
