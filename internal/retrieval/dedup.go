package retrieval

import (
	"strings"

	"github.com/policyassist/rag/internal/vectorstore"
)

// DefaultDedupThreshold is the Jaccard word-overlap ratio above which two
// chunks are considered duplicates.
const DefaultDedupThreshold = 0.7

// deduplicate removes chunks with highly similar content to reduce
// redundancy, keeping the earlier (higher-ranked) of each duplicate pair.
func deduplicate(results []vectorstore.SearchResult, threshold float64) []vectorstore.SearchResult {
	if len(results) <= 1 {
		return results
	}

	wordSets := make([]map[string]struct{}, len(results))
	for i, result := range results {
		wordSets[i] = contentWords(result.Content)
	}

	keep := make([]bool, len(results))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(results); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(results); j++ {
			if !keep[j] {
				continue
			}
			if jaccard(wordSets[i], wordSets[j]) >= threshold {
				// Results arrive score-descending, so the earlier one wins.
				keep[j] = false
			}
		}
	}

	deduplicated := make([]vectorstore.SearchResult, 0, len(results))
	for i, result := range results {
		if keep[i] {
			deduplicated = append(deduplicated, result)
		}
	}

	return deduplicated
}

// contentWords converts content into a set of lowercase words for similarity
// comparison, stripping common punctuation and very short tokens.
func contentWords(content string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(content))
	wordSet := make(map[string]struct{}, len(words))
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'()[]{}=<>")
		if len(word) > 2 {
			wordSet[word] = struct{}{}
		}
	}
	return wordSet
}

// jaccard computes the Jaccard similarity between two word sets.
func jaccard(set1, set2 map[string]struct{}) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for word := range set1 {
		if _, exists := set2[word]; exists {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection

	return float64(intersection) / float64(union)
}
