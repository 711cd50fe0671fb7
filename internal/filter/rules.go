package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/maplebid/rfp-finder/internal/match"
	"github.com/maplebid/rfp-finder/internal/models"
)

// regionMap maps source region substrings to province/territory codes,
// checked in order. City names cover the common buyer spellings
// ("Ottawa (NCR)", "*Ontario (except NCR)").
var regionMap = []struct {
	substr string
	code   string
}{
	{"alberta", "AB"},
	{"british columbia", "BC"},
	{"manitoba", "MB"},
	{"new brunswick", "NB"},
	{"moncton", "NB"},
	{"newfoundland", "NL"},
	{"labrador", "NL"},
	{"nova scotia", "NS"},
	{"ontario", "ON"},
	{"ottawa", "ON"},
	{"ncr", "ON"},
	{"toronto", "ON"},
	{"quebec", "QC"},
	{"montreal", "QC"},
	{"shawinigan", "QC"},
	{"saskatchewan", "SK"},
	{"regina", "SK"},
	{"prince edward", "PE"},
	{"northwest territories", "NT"},
	{"nunavut", "NU"},
	{"yukon", "YT"},
	{"canada", "National"},
	{"national", "National"},
	{"world", "National"},
	{"north america", "National"},
	{"remote offsite", "National"},
	{"unspecified", "National"},
}

// regionToCode maps a source region string, e.g. "*Ontario (except
// NCR)", to a province code or "National".
func regionToCode(region string) string {
	r := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(region)), "*", "")
	for _, entry := range regionMap {
		if strings.Contains(r, entry.substr) {
			return entry.code
		}
	}
	if len(r) >= 2 {
		return strings.ToUpper(r[:2])
	}
	return strings.ToUpper(r)
}

func regionRule(opp models.Opportunity, profile models.UserProfile) (bool, string) {
	if len(profile.EligibleRegions) == 0 && len(profile.ExcludeRegions) == 0 {
		return true, "Region filter not set"
	}

	region := strings.TrimSpace(opp.Region)
	if region == "" {
		return true, "Region unknown, not excluded"
	}

	code := strings.ToUpper(regionToCode(region))
	for _, ex := range profile.ExcludeRegions {
		if code == strings.ToUpper(strings.TrimSpace(ex)) {
			return false, fmt.Sprintf("Excluded: region %s in exclude_regions", region)
		}
	}

	if len(profile.EligibleRegions) == 0 {
		return true, fmt.Sprintf("Region %s (no eligible_regions restriction)", region)
	}
	if code == "NATIONAL" {
		return true, fmt.Sprintf("Region %s is national", region)
	}
	for _, el := range profile.EligibleRegions {
		if code == strings.ToUpper(strings.TrimSpace(el)) {
			return true, fmt.Sprintf("Matches region: %s", region)
		}
	}
	return false, fmt.Sprintf("Excluded: region %s not in eligible_regions", region)
}

func searchableText(opp models.Opportunity) string {
	parts := []string{opp.Title, opp.Summary}
	parts = append(parts, opp.Categories...)
	parts = append(parts, opp.CommodityCodes...)
	return strings.Join(parts, " ")
}

func keywordRule(opp models.Opportunity, profile models.UserProfile) (bool, string) {
	if profile.KeywordsMode == models.KeywordsPreferred || profile.KeywordsMode == models.KeywordsExcludeOnly {
		return true, fmt.Sprintf("Keywords optional (mode %s)", profile.KeywordsMode)
	}
	if len(profile.Keywords) == 0 {
		return true, "No required keywords"
	}

	text := searchableText(opp)
	for _, kw := range profile.Keywords {
		if match.Keyword(text, kw) {
			return true, fmt.Sprintf("Matches keyword: %s", kw)
		}
	}
	return false, fmt.Sprintf("No required keywords found (need one of: %s)", strings.Join(profile.Keywords, ", "))
}

func excludeKeywordRule(opp models.Opportunity, profile models.UserProfile) (bool, string) {
	if len(profile.ExcludeKeywords) == 0 {
		return true, "No exclude keywords set"
	}
	text := searchableText(opp)
	for _, kw := range profile.ExcludeKeywords {
		if match.ExcludeKeyword(text, kw) {
			return false, fmt.Sprintf("Excluded: deal-breaker keyword %q found", kw)
		}
	}
	return true, "No exclude keywords matched"
}

// deadlineRule enforces a lead-time floor: the profile only wants
// opportunities whose closing date is at least max_days_to_close out,
// leaving enough time to prepare a bid.
func deadlineRule(opp models.Opportunity, profile models.UserProfile) (bool, string) {
	if profile.MaxDaysToClose == nil {
		return true, "Deadline filter not set"
	}
	if opp.ClosingAt == nil {
		return true, "Deadline not applicable (no closing date on opportunity)"
	}

	floor := time.Now().UTC().AddDate(0, 0, *profile.MaxDaysToClose)
	daysOut := int(time.Until(*opp.ClosingAt).Hours() / 24)
	if opp.ClosingAt.Before(floor) {
		return false, fmt.Sprintf("Excluded: closing in %d days (need at least %d)", daysOut, *profile.MaxDaysToClose)
	}
	return true, fmt.Sprintf("Closing in %d days (enough lead time)", daysOut)
}

func budgetRule(opp models.Opportunity, profile models.UserProfile) (bool, string) {
	if profile.MinBudget == nil && profile.MaxBudget == nil {
		return true, "Budget filter not set"
	}
	if opp.BudgetMin == nil && opp.BudgetMax == nil {
		return true, "Budget not applicable (no budget on opportunity)"
	}

	if profile.MaxBudget != nil && opp.BudgetMax != nil && *opp.BudgetMax > *profile.MaxBudget {
		return false, fmt.Sprintf("Excluded: budget max %.0f above profile max %.0f", *opp.BudgetMax, *profile.MaxBudget)
	}
	if profile.MinBudget != nil && opp.BudgetMin != nil && *opp.BudgetMin < *profile.MinBudget {
		return false, fmt.Sprintf("Excluded: budget min %.0f below profile min %.0f", *opp.BudgetMin, *profile.MinBudget)
	}
	return true, "Within budget range"
}

// eligibilityRule compares declared constraints field by field. It
// returns a verdict and never excludes on its own; unknown surfaces
// the opportunity for manual triage instead of dropping it.
func eligibilityRule(opp models.Opportunity, profile models.UserProfile) (models.Eligibility, string) {
	if profile.CitizenshipRequired == nil && profile.SecurityClearance == nil && profile.LocalVendorOnly == nil {
		return models.EligUnknown, "Eligibility filter not set"
	}
	if opp.CitizenshipRequired == nil && opp.SecurityClearance == nil && opp.LocalVendorOnly == nil {
		return models.EligUnknown, "Eligibility unknown (no eligibility fields on opportunity)"
	}

	var ineligible, eligible []string
	unresolved := 0

	if profile.CitizenshipRequired != nil {
		switch {
		case opp.CitizenshipRequired == nil:
			unresolved++
		case !strings.EqualFold(*opp.CitizenshipRequired, *profile.CitizenshipRequired):
			ineligible = append(ineligible, fmt.Sprintf("Citizenship: notice requires %s, profile has %s",
				*opp.CitizenshipRequired, *profile.CitizenshipRequired))
		default:
			eligible = append(eligible, "Citizenship matches")
		}
	}
	if profile.SecurityClearance != nil {
		switch {
		case opp.SecurityClearance == nil:
			unresolved++
		case !strings.EqualFold(*opp.SecurityClearance, *profile.SecurityClearance):
			ineligible = append(ineligible, fmt.Sprintf("Security clearance: notice requires %s, profile has %s",
				*opp.SecurityClearance, *profile.SecurityClearance))
		default:
			eligible = append(eligible, "Security clearance matches")
		}
	}
	if profile.LocalVendorOnly != nil {
		switch {
		case opp.LocalVendorOnly == nil:
			unresolved++
		case *opp.LocalVendorOnly != *profile.LocalVendorOnly:
			ineligible = append(ineligible, fmt.Sprintf("Local vendor: notice=%t, profile=%t",
				*opp.LocalVendorOnly, *profile.LocalVendorOnly))
		default:
			eligible = append(eligible, "Local vendor requirement matches")
		}
	}

	if len(ineligible) > 0 {
		return models.Ineligible, strings.Join(ineligible, "; ")
	}
	if unresolved > 0 {
		return models.EligUnknown, fmt.Sprintf("Eligibility unknown (%d field(s) not declared by notice)", unresolved)
	}
	if len(eligible) > 0 {
		return models.Eligible, strings.Join(eligible, "; ")
	}
	return models.EligUnknown, "Eligibility unknown (partial field overlap)"
}
