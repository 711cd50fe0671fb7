package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/maplebid/rfp-finder/internal/models"
)

// HTMLPortalConnector scrapes provincial procurement portals that
// publish plain HTML listings. Selectors come from the source config,
// so adding a portal means adding YAML, not code.
type HTMLPortalConnector struct {
	cfg SourceConfig
}

func NewHTMLPortalConnector(cfg SourceConfig) *HTMLPortalConnector {
	return &HTMLPortalConnector{cfg: cfg}
}

func (c *HTMLPortalConnector) Source() string {
	return c.cfg.ID
}

func (c *HTMLPortalConnector) buildCollector() *colly.Collector {
	collector := colly.NewCollector(
		colly.UserAgent("rfp-finder/1.0 (tender notice aggregator)"),
		colly.DetectCharset(),
		colly.AllowURLRevisit(),
	)

	delay := time.Second
	if c.cfg.Fetch.RateLimitRPS > 0 {
		delay = time.Duration(float64(time.Second) / c.cfg.Fetch.RateLimitRPS)
	}
	collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       delay,
		RandomDelay: delay / 2,
	})

	timeout := 30 * time.Second
	if c.cfg.Fetch.TimeoutSeconds > 0 {
		timeout = time.Duration(c.cfg.Fetch.TimeoutSeconds) * time.Second
	}
	collector.SetRequestTimeout(timeout)

	return collector
}

// Fetch walks the configured seed listing pages, following next-page
// links up to max_pages per seed. Listings alone rarely carry closing
// dates in machine form, so records without one land in the store as
// status unknown until an amendment or detail pass fills it in.
func (c *HTMLPortalConnector) Fetch(ctx context.Context, since *time.Time) ([]models.Opportunity, error) {
	sel := c.cfg.Selectors
	if sel.Container == "" || sel.Link == "" {
		return nil, fmt.Errorf("source %s: html_portal requires container and link selectors", c.cfg.ID)
	}

	maxPages := c.cfg.MaxPages
	if maxPages == 0 {
		maxPages = 3
	}

	var mu sync.Mutex
	var opps []models.Opportunity
	seen := make(map[string]bool)
	pages := 0

	collector := c.buildCollector()

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	collector.OnHTML(sel.Container, func(e *colly.HTMLElement) {
		link := e.ChildAttr(sel.Link, "href")
		if link == "" {
			return
		}
		link = e.Request.AbsoluteURL(link)

		title := cleanText(e.ChildText(sel.Title))
		if title == "" {
			title = cleanText(e.ChildText(sel.Link))
		}
		if title == "" || link == "" {
			return
		}

		opp := models.Opportunity{
			Source:   c.cfg.ID,
			SourceID: sourceIDFromURL(link),
			Title:    title,
			URL:      link,
		}
		if sel.Summary != "" {
			opp.Summary = cleanText(e.ChildText(sel.Summary))
		}
		if sel.Region != "" {
			opp.Region = cleanText(e.ChildText(sel.Region))
		}
		if sel.Closing != "" {
			opp.ClosingAt = ParseDate(e.ChildText(sel.Closing))
		}

		mu.Lock()
		defer mu.Unlock()
		if !seen[opp.SourceID] {
			seen[opp.SourceID] = true
			opps = append(opps, opp)
		}
	})

	if sel.NextPage != "" {
		collector.OnHTML(sel.NextPage, func(e *colly.HTMLElement) {
			mu.Lock()
			if pages >= maxPages {
				mu.Unlock()
				return
			}
			pages++
			mu.Unlock()

			next := e.Request.AbsoluteURL(e.Attr("href"))
			if next != "" {
				e.Request.Visit(next)
			}
		})
	}

	var fetchErr error
	collector.OnError(func(r *colly.Response, err error) {
		log.Printf("portal %s: fetch error for %s: %v", c.cfg.ID, r.Request.URL, err)
		fetchErr = err
	})

	for _, seed := range c.cfg.Seeds {
		if err := collector.Visit(seed); err != nil {
			return nil, fmt.Errorf("failed to visit %s: %w", seed, err)
		}
	}
	collector.Wait()

	if len(opps) == 0 && fetchErr != nil {
		return nil, fmt.Errorf("portal fetch failed: %w", fetchErr)
	}
	return opps, nil
}

// sourceIDFromURL derives a stable source-native id from the notice
// URL path. Portals covered here carry the tender number as the last
// path segment.
func sourceIDFromURL(link string) string {
	trimmed := strings.TrimRight(link, "/")
	if idx := strings.LastIndexAny(trimmed, "/="); idx >= 0 && idx+1 < len(trimmed) {
		trimmed = trimmed[idx+1:]
	}
	return strings.ReplaceAll(trimmed, ":", "-")
}
