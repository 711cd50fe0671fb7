package filter

import (
	"strings"
	"testing"
	"time"

	"github.com/maplebid/rfp-finder/internal/models"
)

func strPtr(s string) *string    { return &s }
func boolPtr(b bool) *bool       { return &b }
func intPtr(n int) *int          { return &n }
func floatPtr(f float64) *float64 { return &f }

func futureTime(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(d)
	return &t
}

func baseProfile() models.UserProfile {
	return models.UserProfile{
		ProfileID:    "default",
		KeywordsMode: models.KeywordsRequired,
	}
}

func TestEvaluate_ExplanationTrailComplete(t *testing.T) {
	profile := baseProfile()
	profile.Keywords = []string{"blockchain"}
	profile.EligibleRegions = []string{"ON"}
	profile.ExcludeKeywords = []string{"janitorial"}
	profile.MaxDaysToClose = intPtr(10)
	profile.MaxBudget = floatPtr(100000)

	opp := models.Opportunity{
		Title:     "Janitorial services for Alberta offices",
		Region:    "Alberta",
		ClosingAt: futureTime(48 * time.Hour),
		BudgetMax: floatPtr(500000),
	}

	result := NewEngine(profile).Evaluate(opp)
	if result.Passed {
		t.Fatal("expected failure")
	}
	if len(result.Explanations) != RuleCount {
		t.Fatalf("expected %d explanations, got %d: %v", RuleCount, len(result.Explanations), result.Explanations)
	}
	// Every rule still ran: each failing rule's explanation is present
	// even though the first rule already failed.
	if !strings.Contains(result.Explanations[0], "not in eligible_regions") {
		t.Fatalf("region explanation missing: %q", result.Explanations[0])
	}
	if !strings.Contains(result.Explanations[2], "janitorial") {
		t.Fatalf("exclude keyword explanation missing: %q", result.Explanations[2])
	}
	if !strings.Contains(result.Explanations[3], "Excluded") {
		t.Fatalf("deadline explanation missing: %q", result.Explanations[3])
	}
	if !strings.Contains(result.Explanations[4], "above profile max") {
		t.Fatalf("budget explanation missing: %q", result.Explanations[4])
	}
	if result.ExcludedByRule != "region" {
		t.Fatalf("excluded_by_rule must name the first failing rule, got %q", result.ExcludedByRule)
	}
}

func TestEvaluate_MissingDataNeverExcludes(t *testing.T) {
	profile := baseProfile()
	profile.KeywordsMode = models.KeywordsExcludeOnly
	profile.EligibleRegions = []string{"ON"}
	profile.MaxDaysToClose = intPtr(7)
	profile.MinBudget = floatPtr(50000)
	profile.MaxBudget = floatPtr(500000)

	opp := models.Opportunity{Title: "Untitled notice"}

	result := NewEngine(profile).Evaluate(opp)
	if !result.Passed {
		t.Fatalf("missing region/budget/closing must pass: %v", result.Explanations)
	}
	if len(result.Explanations) != RuleCount {
		t.Fatalf("expected %d explanations, got %d", RuleCount, len(result.Explanations))
	}
}

func TestEvaluate_RequiredKeywordMissing(t *testing.T) {
	profile := baseProfile()
	profile.Keywords = []string{"blockchain"}

	opp := models.Opportunity{Title: "AI services"}

	result := NewEngine(profile).Evaluate(opp)
	if result.Passed {
		t.Fatal("expected keyword failure")
	}
	if result.ExcludedByRule != "keywords" {
		t.Fatalf("expected keywords rule, got %q", result.ExcludedByRule)
	}
	if !strings.Contains(result.Explanations[1], "blockchain") {
		t.Fatalf("explanation must cite the missing keyword: %q", result.Explanations[1])
	}
}

func TestEvaluate_PreferredModeNeverFailsOnKeywords(t *testing.T) {
	profile := baseProfile()
	profile.KeywordsMode = models.KeywordsPreferred
	profile.Keywords = []string{"blockchain"}

	result := NewEngine(profile).Evaluate(models.Opportunity{Title: "AI services"})
	if !result.Passed {
		t.Fatalf("preferred mode must not gate on keywords: %v", result.Explanations)
	}
}

func TestEvaluate_EligibilityUnknownDoesNotGate(t *testing.T) {
	profile := baseProfile()
	profile.CitizenshipRequired = strPtr("canadian")

	opp := models.Opportunity{Title: "AI services consulting", ClosingAt: futureTime(30 * 24 * time.Hour)}
	profile.Keywords = []string{"AI"}

	result := NewEngine(profile).Evaluate(opp)
	if result.Eligibility != models.EligUnknown {
		t.Fatalf("expected unknown eligibility, got %s", result.Eligibility)
	}
	if !result.Passed {
		t.Fatalf("unknown eligibility must not exclude: %v", result.Explanations)
	}
}

func TestEvaluate_EligibilityConflict(t *testing.T) {
	profile := baseProfile()
	profile.KeywordsMode = models.KeywordsExcludeOnly
	profile.SecurityClearance = strPtr("reliability")

	opp := models.Opportunity{
		Title:             "Secure facility maintenance",
		SecurityClearance: strPtr("top secret"),
	}

	result := NewEngine(profile).Evaluate(opp)
	if result.Eligibility != models.Ineligible {
		t.Fatalf("expected ineligible, got %s", result.Eligibility)
	}
	if !result.Passed {
		t.Fatal("eligibility conflict must annotate, never gate")
	}
}

func TestEvaluate_EligibilityAllMatch(t *testing.T) {
	profile := baseProfile()
	profile.KeywordsMode = models.KeywordsExcludeOnly
	profile.CitizenshipRequired = strPtr("Canadian")
	profile.LocalVendorOnly = boolPtr(false)

	opp := models.Opportunity{
		Title:               "Consulting",
		CitizenshipRequired: strPtr("canadian"),
		LocalVendorOnly:     boolPtr(false),
	}

	result := NewEngine(profile).Evaluate(opp)
	if result.Eligibility != models.Eligible {
		t.Fatalf("expected eligible, got %s: %v", result.Eligibility, result.Explanations)
	}
}

func TestRegionRule_NationalAlwaysEligible(t *testing.T) {
	profile := baseProfile()
	profile.EligibleRegions = []string{"BC"}

	passed, _ := regionRule(models.Opportunity{Region: "Canada"}, profile)
	if !passed {
		t.Fatal("national region must pass any eligible_regions list")
	}
}

func TestRegionRule_MapsSourceSpellings(t *testing.T) {
	cases := []struct {
		region string
		code   string
	}{
		{"*Ontario (except NCR)", "ON"},
		{"Ottawa (NCR)", "ON"},
		{"British Columbia", "BC"},
		{"Moncton", "NB"},
		{"Remote Offsite", "National"},
		{"Unspecified", "National"},
	}
	for _, tc := range cases {
		if got := regionToCode(tc.region); got != tc.code {
			t.Errorf("regionToCode(%q) = %q, want %q", tc.region, got, tc.code)
		}
	}
}

func TestRegionRule_ExcludeWinsOverEligible(t *testing.T) {
	profile := baseProfile()
	profile.EligibleRegions = []string{"QC"}
	profile.ExcludeRegions = []string{"QC"}

	passed, explanation := regionRule(models.Opportunity{Region: "Montreal"}, profile)
	if passed {
		t.Fatalf("exclude_regions must win: %q", explanation)
	}
}

func TestDeadlineRule_LeadTimeFloor(t *testing.T) {
	profile := baseProfile()
	profile.MaxDaysToClose = intPtr(14)

	soon := models.Opportunity{ClosingAt: futureTime(3 * 24 * time.Hour)}
	if passed, _ := deadlineRule(soon, profile); passed {
		t.Fatal("closing inside the lead-time floor must fail")
	}

	far := models.Opportunity{ClosingAt: futureTime(30 * 24 * time.Hour)}
	if passed, explanation := deadlineRule(far, profile); !passed {
		t.Fatalf("closing beyond the floor must pass: %q", explanation)
	}
}

func TestBudgetRule_Bounds(t *testing.T) {
	profile := baseProfile()
	profile.MinBudget = floatPtr(50000)
	profile.MaxBudget = floatPtr(500000)

	over := models.Opportunity{BudgetMax: floatPtr(2000000)}
	if passed, _ := budgetRule(over, profile); passed {
		t.Fatal("budget above profile max must fail")
	}

	under := models.Opportunity{BudgetMin: floatPtr(1000)}
	if passed, _ := budgetRule(under, profile); passed {
		t.Fatal("budget below profile min must fail")
	}

	within := models.Opportunity{BudgetMin: floatPtr(80000), BudgetMax: floatPtr(120000)}
	if passed, explanation := budgetRule(within, profile); !passed {
		t.Fatalf("budget within range must pass: %q", explanation)
	}
}
