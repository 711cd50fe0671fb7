package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/maplebid/rfp-finder/internal/models"
)

func TestComputeID_Deterministic(t *testing.T) {
	first, err := ComputeID("canadabuys", "PW-24-01055")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ComputeID("canadabuys", "PW-24-01055")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable id, got %q and %q", first, second)
	}
	if first != "canadabuys:PW-24-01055" {
		t.Fatalf("unexpected id format: %q", first)
	}
}

func TestComputeID_RejectsMalformedParts(t *testing.T) {
	cases := []struct {
		name     string
		source   string
		sourceID string
	}{
		{"empty source", "", "W1"},
		{"empty source_id", "canadabuys", ""},
		{"separator in source", "canada:buys", "W1"},
		{"separator in source_id", "canadabuys", "W:1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ComputeID(tc.source, tc.sourceID); !errors.Is(err, ErrInvalidIdentity) {
				t.Fatalf("expected ErrInvalidIdentity, got %v", err)
			}
		})
	}
}

func TestContentHash_IgnoresLifecycleFields(t *testing.T) {
	closing := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	base := models.Opportunity{
		Title:     "AI services",
		Summary:   "Machine learning platform support",
		ClosingAt: &closing,
	}

	other := base
	other.Status = models.StatusAmended
	other.LastSeenAt = time.Now()
	other.Region = "ON"
	b := new(float64)
	*b = 250000
	other.BudgetMax = b

	if ContentHash(base) != ContentHash(other) {
		t.Fatal("hash must ignore status, last_seen_at and non-key fields")
	}
}

func TestContentHash_ChangesWithKeyFields(t *testing.T) {
	base := models.Opportunity{Title: "AI services", Summary: "ML support"}
	h1 := ContentHash(base)

	retitled := base
	retitled.Title = "AI services (revised)"
	if ContentHash(retitled) == h1 {
		t.Fatal("title change must change the hash")
	}

	withAttachment := base
	withAttachment.Attachments = []models.AttachmentRef{{URL: "https://example.com/sow.pdf"}}
	if ContentHash(withAttachment) == h1 {
		t.Fatal("attachment URL change must change the hash")
	}
}

func TestContentHash_AttachmentOrderIndependent(t *testing.T) {
	a := models.Opportunity{
		Title: "Network refresh",
		Attachments: []models.AttachmentRef{
			{URL: "https://example.com/b.pdf"},
			{URL: "https://example.com/a.pdf"},
		},
	}
	b := models.Opportunity{
		Title: "Network refresh",
		Attachments: []models.AttachmentRef{
			{URL: "https://example.com/a.pdf", Label: "SOW"},
			{URL: "https://example.com/b.pdf"},
		},
	}

	if ContentHash(a) != ContentHash(b) {
		t.Fatal("hash must be independent of attachment ordering and labels")
	}
}

func TestContentHash_TimezoneNormalized(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	closingUTC := time.Date(2026, 3, 15, 17, 0, 0, 0, time.UTC)
	closingEST := time.Date(2026, 3, 15, 12, 0, 0, 0, est)

	a := models.Opportunity{Title: "T", ClosingAt: &closingUTC}
	b := models.Opportunity{Title: "T", ClosingAt: &closingEST}

	if ContentHash(a) != ContentHash(b) {
		t.Fatal("equal instants in different zones must hash identically")
	}
}
