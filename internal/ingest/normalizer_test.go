package ingest

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want *time.Time
	}{
		{"2026/03/15", timePtr(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))},
		{"2026-03-15", timePtr(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))},
		{"2026-03-15T14:00:00", timePtr(time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC))},
		{"2026-03-15T14:00:00.000Z", timePtr(time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC))},
		{"", nil},
		{"not a date", nil},
	}
	for _, tc := range cases {
		got := ParseDate(tc.in)
		switch {
		case tc.want == nil && got != nil:
			t.Errorf("ParseDate(%q) = %v, want nil", tc.in, got)
		case tc.want != nil && (got == nil || !got.Equal(*tc.want)):
			t.Errorf("ParseDate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestExtractAttachments_SplitsConcatenatedURLs(t *testing.T) {
	field := "https://example.com/a.pdf,https://example.com/b.pdf, https://example.com/c.docxhttps://example.com/d.pdf"
	refs := ExtractAttachments(field)
	if len(refs) != 4 {
		t.Fatalf("expected 4 attachments, got %d: %+v", len(refs), refs)
	}
	if refs[0].URL != "https://example.com/a.pdf" || refs[0].MimeType != "application/pdf" {
		t.Fatalf("unexpected first ref: %+v", refs[0])
	}
	if refs[2].URL != "https://example.com/c.docx" || refs[2].MimeType != "" {
		t.Fatalf("unexpected third ref: %+v", refs[2])
	}
	if refs[3].URL != "https://example.com/d.pdf" {
		t.Fatalf("concatenated URL not split: %+v", refs[3])
	}
}

func TestExtractAttachments_Deduplicates(t *testing.T) {
	refs := ExtractAttachments("https://example.com/a.pdf,https://example.com/a.pdf")
	if len(refs) != 1 {
		t.Fatalf("expected deduplication, got %d refs", len(refs))
	}
}

func TestDeriveTitleFromSummary(t *testing.T) {
	summary := "NOTICE OF PROPOSED PROCUREMENT (NPP)\n\nSolicitation Number: W1-2026\n\nSupply and installation of network equipment for regional offices across Ontario."
	title := DeriveTitleFromSummary(summary)
	if title != "Supply and installation of network equipment for regional offices across Ontario." {
		t.Fatalf("unexpected title: %q", title)
	}

	long := "This is a very long first paragraph describing a complicated requirement in considerable detail that certainly exceeds the one hundred character truncation threshold for derived titles."
	title = DeriveTitleFromSummary(long)
	if len(title) != 100 || title[97:] != "..." {
		t.Fatalf("expected 100-char truncated title, got %d: %q", len(title), title)
	}

	if DeriveTitleFromSummary("") != "Untitled" {
		t.Fatal("empty summary must derive Untitled")
	}
}

func TestHTMLToText(t *testing.T) {
	got := HTMLToText("<div><p>Network  refresh</p>\n<p>for   schools</p></div>")
	if got != "Network refresh for schools" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestParseTradeAgreements(t *testing.T) {
	got := ParseTradeAgreements("*Canadian Free Trade Agreement (CFTA)\n*World Trade Organization (WTO)")
	if len(got) != 2 || got[1] != "World Trade Organization (WTO)" {
		t.Fatalf("unexpected agreements: %v", got)
	}
	if ParseTradeAgreements("  ") != nil {
		t.Fatal("blank field must yield nil")
	}
}
