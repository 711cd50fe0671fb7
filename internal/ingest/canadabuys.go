package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/maplebid/rfp-finder/internal/models"
)

// CanadaBuys CSV column names (English halves of the bilingual headers).
const (
	colReferenceNumber    = "referenceNumber-numeroReference"
	colSolicitationNumber = "solicitationNumber-numeroSollicitation"
	colTitle              = "title-titre-eng"
	colDescription        = "tenderDescription-descriptionAppelOffres-eng"
	colNoticeURL          = "noticeURL-URLavis-eng"
	colContractingEntity  = "contractingEntityName-nomEntitContractante-eng"
	colPublicationDate    = "publicationDate-datePublication"
	colClosingDate        = "tenderClosingDate-appelOffresDateCloture"
	colAmendmentDate      = "amendmentDate-dateModification"
	colGSIN               = "gsin-nibs"
	colUNSPSC             = "unspsc"
	colProcurementCat     = "procurementCategory-categorieApprovisionnement"
	colTradeAgreements    = "tradeAgreements-accordsCommerciaux-eng"
	colRegionsOpportunity = "regionsOfOpportunity-regionAppelOffres-eng"
	colRegionsDelivery    = "regionsOfDelivery-regionsLivraison-eng"
	colAttachments        = "attachment-piecesJointes-eng"
)

// CanadaBuysConnector ingests tender notices from the official open
// data CSV feeds. The open feed is the full current set; the new feed
// is a smaller delta used for incremental runs.
type CanadaBuysConnector struct {
	cfg     SourceConfig
	fetcher Fetcher
	baseURL string
}

func NewCanadaBuysConnector(cfg SourceConfig, fetcher Fetcher) *CanadaBuysConnector {
	return &CanadaBuysConnector{
		cfg:     cfg,
		fetcher: fetcher,
		baseURL: "https://canadabuys.canada.ca",
	}
}

func (c *CanadaBuysConnector) Source() string {
	return c.cfg.ID
}

// Fetch downloads and normalizes one feed. With a prior successful run
// it reads the new-tenders delta and filters by publication date;
// otherwise it reads the full open-tenders feed.
func (c *CanadaBuysConnector) Fetch(ctx context.Context, since *time.Time) ([]models.Opportunity, error) {
	feedURL := c.cfg.OpenFeedURL
	if since != nil && c.cfg.NewFeedURL != "" {
		feedURL = c.cfg.NewFeedURL
	}

	doc, err := c.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer doc.Body.Close()

	rows, err := parseCSVRows(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	opps := make([]models.Opportunity, 0, len(rows))
	for _, row := range rows {
		opp := c.normalize(row)
		if since != nil && opp.PublishedAt != nil && opp.PublishedAt.Before(*since) {
			continue
		}
		opps = append(opps, opp)
	}
	return opps, nil
}

// parseCSVRows reads a CSV with a header row into per-row maps. Quoted
// multiline description fields are handled by the csv reader.
func parseCSVRows(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, value := range record {
			if i < len(header) {
				row[header[i]] = value
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *CanadaBuysConnector) normalize(row map[string]string) models.Opportunity {
	sourceID := strings.TrimSpace(row[colReferenceNumber])
	if sourceID == "" {
		sourceID = strings.TrimSpace(row[colSolicitationNumber])
	}
	if sourceID == "" {
		sourceID = "unknown"
	}

	summary := strings.TrimSpace(row[colDescription])
	title := cleanText(row[colTitle])
	if title == "" || title == "Untitled" {
		title = DeriveTitleFromSummary(summary)
	}

	opp := models.Opportunity{
		Source:          c.cfg.ID,
		SourceID:        sourceID,
		Title:           title,
		Summary:         summary,
		URL:             c.noticeURL(row[colNoticeURL]),
		Buyer:           cleanText(row[colContractingEntity]),
		PublishedAt:     ParseDate(row[colPublicationDate]),
		ClosingAt:       ParseDate(row[colClosingDate]),
		AmendedAt:       ParseDate(row[colAmendmentDate]),
		Categories:      parseCategories(row[colProcurementCat]),
		CommodityCodes:  parseCommodityCodes(row[colGSIN], row[colUNSPSC]),
		TradeAgreements: ParseTradeAgreements(row[colTradeAgreements]),
		Region:          strings.TrimSpace(row[colRegionsOpportunity]),
		Locations:       splitList(row[colRegionsDelivery], ","),
		Attachments:     ExtractAttachments(row[colAttachments]),
	}
	return opp
}

func (c *CanadaBuysConnector) noticeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "http") {
		return raw
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

func parseCategories(value string) []string {
	value = strings.ReplaceAll(strings.TrimSpace(value), "*", "")
	if value == "" {
		return nil
	}
	return strings.Fields(value)
}

func parseCommodityCodes(gsin, unspsc string) []string {
	var codes []string
	if g := strings.TrimSpace(gsin); g != "" {
		codes = append(codes, g)
	}
	if u := strings.TrimSpace(strings.ReplaceAll(unspsc, "*", "")); u != "" {
		codes = append(codes, u)
	}
	return codes
}
