package alerts

import (
	"strings"

	"threatlog/pkg/models"
)

const (
	highScore   = 70
	mediumScore = 40
)

// keyword is one additive scoring signal. Any of the terms matches.
type keyword struct {
	terms  []string
	points int
	reason string
}

var vocabulary = []keyword{
	{terms: []string{"failed"}, points: 30, reason: "Failed action detected"},
	{terms: []string{"login"}, points: 30, reason: "Login related event"},
	{terms: []string{"brute", "attack"}, points: 40, reason: "Attack keyword detected"},
}

// Score assesses one event text. It is pure: the same text always yields the
// same result, and empty text scores 0/LOW with no reasons.
func Score(text string) models.Assessment {
	lower := strings.ToLower(text)
	score := 0
	reasons := make([]string, 0, len(vocabulary))

	for _, kw := range vocabulary {
		if containsAny(lower, kw.terms) {
			score += kw.points
			reasons = append(reasons, kw.reason)
		}
	}

	return models.Assessment{
		Severity: severityFor(score),
		Score:    score,
		Reasons:  reasons,
	}
}

// severityFor never returns CRITICAL; that level is reserved for rule output.
func severityFor(score int) models.Severity {
	switch {
	case score >= highScore:
		return models.SeverityHigh
	case score >= mediumScore:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func containsAny(s string, terms []string) bool {
	if s == "" {
		return false
	}
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
