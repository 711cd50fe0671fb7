package models

import (
	"time"
)

// Status is the store-managed lifecycle state of an opportunity.
// Connectors never set it; the store owns every transition.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusAmended Status = "amended"
	StatusUnknown Status = "unknown"
)

// AttachmentRef points to a document linked from a tender notice.
type AttachmentRef struct {
	URL       string `json:"url"`
	Label     string `json:"label,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Opportunity is the canonical record for one tender notice.
// ID is always Source + ":" + SourceID; (Source, SourceID) is the
// dedupe key in the store.
type Opportunity struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	SourceID string `json:"source_id"`

	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	URL     string `json:"url,omitempty"`

	Buyer   string `json:"buyer,omitempty"`
	BuyerID string `json:"buyer_id,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	ClosingAt   *time.Time `json:"closing_at,omitempty"`
	AmendedAt   *time.Time `json:"amended_at,omitempty"`

	Categories      []string `json:"categories,omitempty"`
	CommodityCodes  []string `json:"commodity_codes,omitempty"`
	TradeAgreements []string `json:"trade_agreements,omitempty"`

	Region    string   `json:"region,omitempty"`
	Locations []string `json:"locations,omitempty"`

	BudgetMin      *float64 `json:"budget_min,omitempty"`
	BudgetMax      *float64 `json:"budget_max,omitempty"`
	BudgetCurrency string   `json:"budget_currency,omitempty"`

	// Eligibility constraints declared by the notice itself. Nil means
	// the notice says nothing either way.
	CitizenshipRequired *string `json:"citizenship_required,omitempty"`
	SecurityClearance   *string `json:"security_clearance,omitempty"`
	LocalVendorOnly     *bool   `json:"local_vendor_only,omitempty"`

	Attachments []AttachmentRef `json:"attachments,omitempty"`

	// Lifecycle fields, managed by the store.
	Status           Status    `json:"status"`
	FirstSeenAt      time.Time `json:"first_seen_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	ContentHash      string    `json:"content_hash,omitempty"`
	PriorContentHash string    `json:"prior_content_hash,omitempty"`
}
