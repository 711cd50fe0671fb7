package scoring

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/maplebid/rfp-finder/internal/match"
	"github.com/maplebid/rfp-finder/internal/models"
)

const (
	baselineScore = 50

	// Keywords count toward the bonus only when they appear in the
	// title or the first leadChars of the content.
	leadChars       = 300
	keywordBonus    = 5
	maxKeywordHits  = 3
	maxSimBonus     = 15
	attachmentBonus = 3
	servicesBonus   = 4

	constructionPenalty = 8
	nonTechPenalty      = 10

	catServices     = "SRV"
	catConstruction = "CNST"
)

// Commodity code prefixes for clearly non-tech procurement (furniture,
// cleaning). Construction is handled via the CNST category.
var nonTechPrefixes = []string{"56", "90"}

// Title or lead phrases indicating non-tech procurement.
var nonTechPhrases = []string{
	"office furniture",
	"commercial office furniture",
	"furniture and related",
	"gpu hardware",
	"hardware or equivalent",
	"hardware bundle",
	"flasharray hardware",
	"alternate transportation",
	"transportation services",
}

// HeuristicScorer is the deterministic default: a pure function of its
// input, so identical inputs always produce identical results.
type HeuristicScorer struct{}

func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

func (s *HeuristicScorer) Score(ctx context.Context, in Input) (models.ScoreResult, error) {
	opp := in.Opportunity
	content := in.EnrichmentText
	if content == "" {
		content = opp.Summary
	}

	score := baselineScore
	var reasons, risks []string

	if in.SimilarityScore != nil {
		bonus := int((*in.SimilarityScore - 0.5) * 30)
		if bonus > maxSimBonus {
			bonus = maxSimBonus
		}
		if bonus < -maxSimBonus {
			bonus = -maxSimBonus
		}
		score += bonus
		if bonus > 0 {
			reasons = append(reasons, "Similar to good-fit examples")
		}
	}

	if strings.Contains(in.EnrichmentText, "[Attachment:") {
		score += attachmentBonus
		reasons = append(reasons, "Attachment content available")
	}

	nonTechTitle := hasNonTechPhrase(opp.Title, content)
	if hasCategory(opp.Categories, catServices) && !nonTechTitle {
		score += servicesBonus
		reasons = append(reasons, "Category: Services (SRV)")
	}

	hits := 0
	for _, kw := range in.Profile.Keywords {
		if hits >= maxKeywordHits {
			break
		}
		if keywordInLead(opp.Title, content, kw) {
			score += keywordBonus
			reasons = append(reasons, fmt.Sprintf("Keyword in scope: %s", kw))
			hits++
		}
	}

	if hasCategory(opp.Categories, catConstruction) {
		score -= constructionPenalty
		risks = append(risks, "Category: Construction (CNST)")
	}
	if hasNonTechCommodity(opp.CommodityCodes) {
		score -= nonTechPenalty
		risks = append(risks, "Category/commodity: non-tech")
	}
	if nonTechTitle {
		score -= nonTechPenalty
		risks = append(risks, "Title/scope: non-tech procurement")
	}

	confidence := confidenceFromContent(opp, content, in.EnrichmentText)
	if eligibilityUnknown(opp, in.Profile) {
		confidence = degradeConfidence(confidence)
	}
	score += confidencePenalty(confidence)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "Heuristic baseline (no positive signals)")
	}

	return models.ScoreResult{
		Score:      score,
		Reasons:    reasons,
		Risks:      risks,
		Evidence:   evidenceSnippets(opp, content),
		Confidence: confidence,
	}, nil
}

func keywordInLead(title, content, keyword string) bool {
	lead := content
	if len(lead) > leadChars {
		lead = lead[:leadChars]
	}
	return match.Keyword(title, keyword) || match.Keyword(lead, keyword)
}

func hasCategory(categories []string, want string) bool {
	for _, c := range categories {
		if strings.EqualFold(strings.TrimSpace(c), want) {
			return true
		}
	}
	return false
}

func hasNonTechCommodity(codes []string) bool {
	for _, code := range codes {
		code = strings.TrimSpace(strings.ReplaceAll(code, "*", ""))
		for _, prefix := range nonTechPrefixes {
			if strings.HasPrefix(code, prefix) {
				return true
			}
		}
	}
	return false
}

func hasNonTechPhrase(title, content string) bool {
	lead := content
	if len(lead) > leadChars {
		lead = lead[:leadChars]
	}
	text := strings.ToLower(title + " " + lead)
	for _, phrase := range nonTechPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// confidenceFromContent ties confidence to extraction quality. A
// record with attachments but no extracted text is the worst case:
// the real scope lives in a document nobody read.
func confidenceFromContent(opp models.Opportunity, content, enrichmentText string) models.Confidence {
	if strings.Contains(enrichmentText, "[Attachment:") {
		if len(content) > 500 {
			return models.ConfidenceMedium
		}
		return models.ConfidenceLow
	}
	if len(opp.Attachments) > 0 && enrichmentText == "" {
		return models.ConfidenceInsufficientText
	}
	if len(content) > 200 {
		return models.ConfidenceMedium
	}
	return models.ConfidenceLow
}

func eligibilityUnknown(opp models.Opportunity, profile models.UserProfile) bool {
	profileSet := profile.CitizenshipRequired != nil || profile.SecurityClearance != nil || profile.LocalVendorOnly != nil
	oppSet := opp.CitizenshipRequired != nil || opp.SecurityClearance != nil || opp.LocalVendorOnly != nil
	return profileSet && !oppSet
}

func degradeConfidence(c models.Confidence) models.Confidence {
	switch c {
	case models.ConfidenceHigh:
		return models.ConfidenceMedium
	case models.ConfidenceMedium:
		return models.ConfidenceLow
	default:
		return c
	}
}

func confidencePenalty(c models.Confidence) int {
	switch c {
	case models.ConfidenceHigh:
		return 0
	case models.ConfidenceMedium:
		return -3
	case models.ConfidenceLow:
		return -8
	case models.ConfidenceInsufficientText:
		return -15
	default:
		return -5
	}
}

func evidenceSnippets(opp models.Opportunity, content string) []string {
	var evidence []string
	if opp.Title != "" && opp.Title != "Untitled" {
		evidence = append(evidence, truncateRunes(opp.Title, 100))
	}
	if content != "" {
		snippet := content
		truncated := false
		if len(snippet) > 150 {
			snippet = truncateRunes(snippet, 150)
			truncated = true
		}
		snippet = strings.TrimSpace(strings.ReplaceAll(snippet, "\n", " "))
		if truncated {
			snippet += "..."
		}
		evidence = append(evidence, snippet)
	}
	if len(evidence) > 3 {
		evidence = evidence[:3]
	}
	return evidence
}

// truncateRunes cuts s to at most n bytes without splitting a
// multi-byte rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
