// Package match holds the keyword matching shared by filtering and
// scoring, so both stages agree on what counts as a hit.
package match

import (
	"regexp"
	"strings"
)

func wordInText(text, word string) bool {
	if word == "" || text == "" {
		return false
	}
	pattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(word)) + `\b`)
	if err != nil {
		return false
	}
	return pattern.MatchString(strings.ToLower(text))
}

// Keyword matches a profile keyword against searchable text. Single
// words match on a word boundary so "print" does not hit "blueprint".
// Multi-word keywords match as a full phrase, or when at least two of
// their significant words appear.
func Keyword(text, keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return false
	}
	words := strings.Fields(kw)
	if len(words) == 1 {
		return wordInText(text, words[0])
	}
	if strings.Contains(strings.ToLower(text), kw) {
		return true
	}
	need := 2
	if len(words) < need {
		need = len(words)
	}
	hits := 0
	for _, w := range words {
		if len(w) > 2 && wordInText(text, w) {
			hits++
			if hits >= need {
				return true
			}
		}
	}
	return false
}

// ExcludeKeyword matches a deal-breaker keyword as a standalone word.
// A hit preceded by a hyphen is rejected so "printing" does not
// exclude "non-printing".
func ExcludeKeyword(text, keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" || text == "" {
		return false
	}
	pattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	if err != nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, loc := range pattern.FindAllStringIndex(lower, -1) {
		if loc[0] > 0 && lower[loc[0]-1] == '-' {
			continue
		}
		return true
	}
	return false
}
