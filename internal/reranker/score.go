package reranker

import (
	"regexp"
	"strconv"
)

const (
	// neutralScore is used when the LLM response contains no parseable
	// number. The chunk stays in the ranking at the midpoint rather than
	// being discarded.
	neutralScore = 5.0

	// maxScore is the top of the LLM relevance scale.
	maxScore = 10.0
)

// numberPattern matches the first integer or decimal token in free text.
var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseRelevanceScore extracts a 0-10 relevance score from a free-text LLM
// response. The first decimal number found is used; values outside [0, 10]
// are clamped. A response with no number yields the neutral midpoint 5.0.
func ParseRelevanceScore(response string) float64 {
	match := numberPattern.FindString(response)
	if match == "" {
		return neutralScore
	}

	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return neutralScore
	}

	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
