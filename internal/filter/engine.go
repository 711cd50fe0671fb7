// Package filter evaluates opportunities against user profiles with a
// fixed-order rule chain and a complete explanation trail.
package filter

import (
	"github.com/maplebid/rfp-finder/internal/models"
)

// RuleCount is the number of rules every evaluation runs.
const RuleCount = 6

type hardRule struct {
	name  string
	apply func(models.Opportunity, models.UserProfile) (bool, string)
}

// hardRules run in this order for every opportunity. The order is part
// of the contract: explanation trails line up across records only
// because it never changes.
var hardRules = []hardRule{
	{"region", regionRule},
	{"keywords", keywordRule},
	{"exclude_keywords", excludeKeywordRule},
	{"deadline", deadlineRule},
	{"budget", budgetRule},
}

// Engine applies one profile's filters to opportunities.
type Engine struct {
	profile models.UserProfile
}

func NewEngine(profile models.UserProfile) *Engine {
	return &Engine{profile: profile}
}

// Evaluate runs every rule, even after a failure, so the trail always
// carries one explanation per rule. Eligibility annotates the result
// but never changes Passed.
func (e *Engine) Evaluate(opp models.Opportunity) models.FilterResult {
	result := models.FilterResult{
		Passed:       true,
		Explanations: make([]string, 0, RuleCount),
	}

	for _, rule := range hardRules {
		passed, explanation := rule.apply(opp, e.profile)
		result.Explanations = append(result.Explanations, explanation)
		if !passed {
			result.Passed = false
			if result.ExcludedByRule == "" {
				result.ExcludedByRule = rule.name
			}
		}
	}

	eligibility, explanation := eligibilityRule(opp, e.profile)
	result.Explanations = append(result.Explanations, explanation)
	result.Eligibility = eligibility

	return result
}

// EvaluateAll filters a batch, returning every result.
func (e *Engine) EvaluateAll(opps []models.Opportunity) []models.FilterResult {
	out := make([]models.FilterResult, 0, len(opps))
	for _, opp := range opps {
		out = append(out, e.Evaluate(opp))
	}
	return out
}
