package models

// Eligibility is the three-valued verdict from comparing profile
// requirements against opportunity-declared constraints.
type Eligibility string

const (
	Eligible    Eligibility = "eligible"
	Ineligible  Eligibility = "ineligible"
	EligUnknown Eligibility = "unknown"
)

// Confidence labels how much to trust a score, based on how much
// text was available and whether eligibility could be resolved.
type Confidence string

const (
	ConfidenceHigh             Confidence = "high"
	ConfidenceMedium           Confidence = "medium"
	ConfidenceLow              Confidence = "low"
	ConfidenceInsufficientText Confidence = "insufficient_text"
)

// FilterResult is the outcome of evaluating one opportunity against
// one profile. Explanations holds one entry per rule, in evaluation
// order, regardless of pass/fail.
type FilterResult struct {
	Passed         bool        `json:"passed"`
	Explanations   []string    `json:"explanations"`
	Eligibility    Eligibility `json:"eligibility"`
	ExcludedByRule string      `json:"excluded_by_rule,omitempty"`
}

// ScoreResult is the outcome of scoring one opportunity against one
// profile. Score is clamped to [0, 100].
type ScoreResult struct {
	Score      int        `json:"score"`
	Reasons    []string   `json:"reasons"`
	Risks      []string   `json:"risks"`
	Evidence   []string   `json:"evidence"`
	Confidence Confidence `json:"confidence"`
}
