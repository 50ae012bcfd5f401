package reranker

import (
	"context"
	"sort"
	"strings"

	"github.com/policyassist/rag/internal/vectorstore"
)

const (
	// vectorWeight and keywordWeight are fixed design constants: vector
	// similarity dominates, exact term overlap breaks near-ties.
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// SimpleReranker combines the original vector similarity with exact keyword
// overlap between query and chunk. It needs no external calls, so it is the
// default strategy for latency-sensitive tenants.
type SimpleReranker struct{}

// NewSimpleReranker creates a hybrid keyword/vector reranker.
func NewSimpleReranker() *SimpleReranker {
	return &SimpleReranker{}
}

// Rerank re-orders results by 0.7*vector_score + 0.3*keyword_overlap and
// returns the topK. Ties keep their original relative order.
func (r *SimpleReranker) Rerank(_ context.Context, query string, results []vectorstore.SearchResult, topK int) ([]ScoredResult, error) {
	if len(results) == 0 {
		return []ScoredResult{}, nil
	}

	queryWords := wordSet(query)

	scored := make([]ScoredResult, len(results))
	for i, result := range results {
		keywordScore := overlapRatio(queryWords, wordSet(result.Content))
		scored[i] = ScoredResult{
			SearchResult: result,
			RerankScore:  vectorWeight*float64(result.Score) + keywordWeight*keywordScore,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankScore > scored[j].RerankScore
	})

	return scored[:clampTopK(topK, len(scored))], nil
}

// wordSet lowercases text and splits it on whitespace into a set.
func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// overlapRatio is the fraction of query words that appear in the chunk,
// guarded against empty queries.
func overlapRatio(queryWords, chunkWords map[string]struct{}) float64 {
	denom := len(queryWords)
	if denom < 1 {
		denom = 1
	}

	matched := 0
	for w := range queryWords {
		if _, ok := chunkWords[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(denom)
}

// Ensure SimpleReranker implements Reranker interface.
var _ Reranker = (*SimpleReranker)(nil)
