package scoring

import (
	"regexp"
	"strings"

	"github.com/maplebid/rfp-finder/internal/models"
)

var tokenPattern = regexp.MustCompile(`\b[a-z0-9]{2,}\b`)

type termFreq map[string]int

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func tf(text string) termFreq {
	freq := make(termFreq)
	for _, token := range tokenize(text) {
		freq[token]++
	}
	return freq
}

func (f termFreq) total() int {
	n := 0
	for _, c := range f {
		n += c
	}
	return n
}

// overlapScore measures how much a query overlaps good examples versus
// bad ones. 0.5 is neutral; bad overlap is penalized harder than good
// overlap is rewarded so one noisy good example cannot mask a clear
// bad-fit signal.
func overlapScore(query termFreq, positives, negatives []termFreq) float64 {
	if len(positives) == 0 && len(negatives) == 0 {
		return 0.5
	}

	avg := func(examples []termFreq) float64 {
		if len(examples) == 0 {
			return 0
		}
		sum := 0.0
		for _, ex := range examples {
			common := 0
			for token, count := range query {
				if exCount, ok := ex[token]; ok {
					common += count * exCount
				}
			}
			total := ex.total()
			if total == 0 {
				total = 1
			}
			sum += float64(common) / float64(total)
		}
		return sum / float64(len(examples))
	}

	raw := avg(positives) - avg(negatives)*1.5
	score := 0.5 + raw
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// SimilarityScores computes the 0..1 example-overlap score for each
// opportunity, comparing title, summary and categories against a
// profile's labelled good and bad examples.
func SimilarityScores(opps []models.Opportunity, goodTexts, badTexts []string) []float64 {
	var positives, negatives []termFreq
	for _, text := range goodTexts {
		if strings.TrimSpace(text) != "" {
			positives = append(positives, tf(text))
		}
	}
	for _, text := range badTexts {
		if strings.TrimSpace(text) != "" {
			negatives = append(negatives, tf(text))
		}
	}

	scores := make([]float64, len(opps))
	for i, opp := range opps {
		scores[i] = overlapScore(tf(similarityText(opp)), positives, negatives)
	}
	return scores
}

func similarityText(opp models.Opportunity) string {
	parts := []string{opp.Title, opp.Summary}
	parts = append(parts, opp.Categories...)
	return strings.Join(parts, " ")
}
