// Package reranker provides re-ranking strategies for RAG retrieval results.
//
// Three interchangeable strategies share one interface:
//
//   - llm: cross-encoder style scoring, one LLM call per candidate
//   - simple: hybrid of vector similarity and exact keyword overlap
//   - mmr: Maximum Marginal Relevance diversity selection over embeddings
//
// # Trade-offs
//
// LLM reranking adds 1-3 seconds per query and roughly doubles token usage;
// it pays off when the top vector results have near-identical scores. The
// simple strategy is free and latency-neutral. MMR costs one embedding call
// per candidate (cheap when fronted by the embedding cache) and trades a
// little relevance for diversity among the selected chunks.
//
// All strategies treat their input as immutable: they return derived records
// that carry the original result, its metadata, and the strategy's score.
package reranker

import (
	"context"
	"fmt"

	"github.com/policyassist/rag/internal/embedder"
	"github.com/policyassist/rag/internal/llm"
	"github.com/policyassist/rag/internal/vectorstore"
)

// ScoredResult represents a search result with the score the strategy
// assigned to it. Consumers read the field matching the strategy invoked:
// RerankScore for llm and simple, MMRScore for mmr.
type ScoredResult struct {
	vectorstore.SearchResult

	// RerankScore is the llm strategy's 0-10 relevance score, or the simple
	// strategy's combined vector/keyword score.
	RerankScore float64

	// MMRScore is the marginal-relevance score at the moment the chunk was
	// selected. It is a snapshot: later selections do not update it.
	MMRScore float64
}

// Reranker defines the interface for re-ranking search results.
type Reranker interface {
	// Rerank takes a query and search results, and returns them re-ordered
	// by relevance with updated scores. The topK parameter limits the output.
	// Input results are never mutated.
	Rerank(ctx context.Context, query string, results []vectorstore.SearchResult, topK int) ([]ScoredResult, error)
}

// Strategy identifies a reranking strategy.
type Strategy string

const (
	// StrategyLLM scores each chunk with an LLM relevance judgment.
	StrategyLLM Strategy = "llm"

	// StrategySimple combines vector similarity with keyword overlap.
	StrategySimple Strategy = "simple"

	// StrategyMMR selects for relevance and diversity over embeddings.
	StrategyMMR Strategy = "mmr"
)

// New constructs the reranker for a strategy identifier. The llm strategy
// requires llmClient; mmr requires embed.
func New(strategy Strategy, llmClient llm.LLM, embed embedder.Embedder) (Reranker, error) {
	switch strategy {
	case StrategyLLM:
		if llmClient == nil {
			return nil, fmt.Errorf("llm strategy requires an LLM client")
		}
		return NewLLMReranker(llmClient), nil
	case StrategySimple:
		return NewSimpleReranker(), nil
	case StrategyMMR:
		if embed == nil {
			return nil, fmt.Errorf("mmr strategy requires an embedder")
		}
		return NewMMRReranker(embed), nil
	default:
		return nil, fmt.Errorf("unknown rerank strategy %q", strategy)
	}
}

// clampTopK bounds topK to the number of available results.
func clampTopK(topK, available int) int {
	if topK < 0 {
		return 0
	}
	if topK > available {
		return available
	}
	return topK
}

// passthrough returns the first topK results in their original order,
// unscored. It is the shared degrade path when a strategy fails wholesale.
func passthrough(results []vectorstore.SearchResult, topK int) []ScoredResult {
	n := clampTopK(topK, len(results))
	out := make([]ScoredResult, n)
	for i := 0; i < n; i++ {
		out[i] = ScoredResult{SearchResult: results[i]}
	}
	return out
}
