package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KeywordsMode controls how a profile's keyword list gates filtering.
type KeywordsMode string

const (
	// KeywordsRequired excludes opportunities that match no keyword.
	KeywordsRequired KeywordsMode = "required"
	// KeywordsPreferred passes everything; keywords only boost scoring.
	KeywordsPreferred KeywordsMode = "preferred"
	// KeywordsExcludeOnly applies exclude_keywords but no positive requirement.
	KeywordsExcludeOnly KeywordsMode = "exclude_only"
)

// UserProfile is the filtering and scoring configuration for one user.
// The pipeline treats it as read-only.
type UserProfile struct {
	ProfileID string

	KeywordsMode    KeywordsMode
	Keywords        []string
	ExcludeKeywords []string

	PreferredCategories []string

	EligibleRegions []string
	ExcludeRegions  []string

	CitizenshipRequired *string
	SecurityClearance   *string
	LocalVendorOnly     *bool

	MinBudget *float64
	MaxBudget *float64

	// MaxDaysToClose is a lead-time floor: only include opportunities
	// whose closing date is at least this many days out.
	MaxDaysToClose *int
}

// profileDoc mirrors the on-disk YAML shape:
//
//	profile_id: default
//	filters:
//	  keywords: [...]
//	  regions: [ON, National]
//	eligibility:
//	  citizenship_required: canadian
type profileDoc struct {
	ProfileID string `yaml:"profile_id"`
	Filters   struct {
		KeywordsMode        string      `yaml:"keywords_mode"`
		Keywords            []string    `yaml:"keywords"`
		ExcludeKeywords     []string    `yaml:"exclude_keywords"`
		PreferredCategories []string    `yaml:"preferred_categories"`
		Regions             []yaml.Node `yaml:"regions"`
		ExcludeRegions      []string    `yaml:"exclude_regions"`
		MinBudget           *float64    `yaml:"min_budget"`
		MaxBudget           *float64    `yaml:"max_budget"`
		MaxDaysToClose      *int        `yaml:"max_days_to_close"`
	} `yaml:"filters"`
	Eligibility struct {
		CitizenshipRequired *string `yaml:"citizenship_required"`
		SecurityClearance   *string `yaml:"security_clearance"`
		LocalVendorOnly     *bool   `yaml:"local_vendor_only"`
	} `yaml:"eligibility"`
}

// LoadProfile reads a UserProfile from a YAML file.
func LoadProfile(path string) (*UserProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes profile YAML.
func ParseProfile(data []byte) (*UserProfile, error) {
	var doc profileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse profile yaml: %w", err)
	}

	p := &UserProfile{
		ProfileID:           doc.ProfileID,
		KeywordsMode:        KeywordsMode(doc.Filters.KeywordsMode),
		Keywords:            doc.Filters.Keywords,
		ExcludeKeywords:     doc.Filters.ExcludeKeywords,
		PreferredCategories: doc.Filters.PreferredCategories,
		ExcludeRegions:      doc.Filters.ExcludeRegions,
		MinBudget:           doc.Filters.MinBudget,
		MaxBudget:           doc.Filters.MaxBudget,
		MaxDaysToClose:      doc.Filters.MaxDaysToClose,
		CitizenshipRequired: doc.Eligibility.CitizenshipRequired,
		SecurityClearance:   doc.Eligibility.SecurityClearance,
		LocalVendorOnly:     doc.Eligibility.LocalVendorOnly,
	}
	if p.ProfileID == "" {
		p.ProfileID = "default"
	}
	if p.KeywordsMode == "" {
		p.KeywordsMode = KeywordsRequired
	}
	switch p.KeywordsMode {
	case KeywordsRequired, KeywordsPreferred, KeywordsExcludeOnly:
	default:
		return nil, fmt.Errorf("invalid keywords_mode %q", p.KeywordsMode)
	}

	// YAML parses a bare ON as boolean true; force region entries back
	// to their literal spelling.
	for _, node := range doc.Filters.Regions {
		val := node.Value
		if node.Tag == "!!bool" {
			if val == "true" {
				val = "ON"
			} else {
				val = "NO"
			}
		}
		if val != "" {
			p.EligibleRegions = append(p.EligibleRegions, val)
		}
	}

	return p, nil
}
