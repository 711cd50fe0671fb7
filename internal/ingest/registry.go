package ingest

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for all tender sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// FetchConfig defines HTTP fetching configuration for a source.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"` // default 30
	MaxRetries     int     `yaml:"max_retries,omitempty"`     // default 3
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`  // default 1.0
}

// SourceConfig defines a single tender source.
type SourceConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Strategy    string `yaml:"strategy"` // "canadabuys_csv", "html_portal"
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description,omitempty"`

	// For canadabuys_csv
	OpenFeedURL string `yaml:"open_feed_url,omitempty"`
	NewFeedURL  string `yaml:"new_feed_url,omitempty"`

	// For html_portal
	BaseURL   string          `yaml:"base_url,omitempty"`
	Seeds     []string        `yaml:"seed_urls,omitempty"`
	MaxPages  int             `yaml:"max_pages,omitempty"`
	Selectors SelectorConfig  `yaml:"selectors,omitempty"`

	Fetch FetchConfig `yaml:"fetch,omitempty"`
}

// SelectorConfig holds CSS selectors for listing pages.
type SelectorConfig struct {
	Container string `yaml:"container,omitempty"` // list item wrapper
	Link      string `yaml:"link,omitempty"`
	Title     string `yaml:"title,omitempty"`
	Summary   string `yaml:"summary,omitempty"`
	Closing   string `yaml:"closing,omitempty"`
	Region    string `yaml:"region,omitempty"`
	NextPage  string `yaml:"next_page,omitempty"`
}

// LoadRegistry reads the embedded sources.yaml, falling back to the
// given path for local development. Environment variables inside the
// YAML (e.g. ${PORTAL_BASE_URL}) are expanded first.
func LoadRegistry(path string) (*Registry, error) {
	data, err := sourcesYAML.ReadFile("config/sources.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("failed to parse sources config: %w", err)
	}
	return &reg, nil
}

// Connectors builds a connector per enabled source.
func (r *Registry) Connectors(fetcher Fetcher) ([]Connector, error) {
	var connectors []Connector
	for _, cfg := range r.Sources {
		if !cfg.Enabled {
			continue
		}
		switch cfg.Strategy {
		case "canadabuys_csv":
			connectors = append(connectors, NewCanadaBuysConnector(cfg, fetcher))
		case "html_portal":
			connectors = append(connectors, NewHTMLPortalConnector(cfg))
		default:
			return nil, fmt.Errorf("unknown source strategy %q for %s", cfg.Strategy, cfg.ID)
		}
	}
	return connectors, nil
}
