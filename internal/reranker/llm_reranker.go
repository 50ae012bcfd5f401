package reranker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/policyassist/rag/internal/llm"
	"github.com/policyassist/rag/internal/vectorstore"
)

const (
	// maxChunkChars truncates chunk text before scoring to bound prompt size.
	maxChunkChars = 500

	// DefaultScoringConcurrency bounds concurrent per-chunk scoring calls.
	DefaultScoringConcurrency = 4
)

// LLMReranker uses an LLM to re-score query-document pairs for improved
// relevance. Each chunk is scored independently on a 0-10 scale, so the
// scoring calls run concurrently under a bounded worker pool.
//
// Precondition: the fallback score for a failed call is the chunk's vector
// similarity rescaled by 10, which assumes vector scores are normalized to
// [0, 1]. Qdrant cosine scores in this deployment satisfy that; normalize
// upstream scores before this boundary if the store changes.
type LLMReranker struct {
	llmClient   llm.LLM
	model       string
	concurrency int
	logger      *slog.Logger
}

// LLMRerankerOption is a functional option for configuring LLMReranker.
type LLMRerankerOption func(*LLMReranker)

// WithModel sets the model to use for reranking.
func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.model = model
	}
}

// WithScoringConcurrency bounds the number of concurrent scoring calls.
func WithScoringConcurrency(n int) LLMRerankerOption {
	return func(r *LLMReranker) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRerankerLogger sets the logger.
func WithRerankerLogger(logger *slog.Logger) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.logger = logger
	}
}

// NewLLMReranker creates a new LLM-based reranker.
func NewLLMReranker(llmClient llm.LLM, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{
		llmClient:   llmClient,
		concurrency: DefaultScoringConcurrency,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Rerank scores each result against the query and returns the topK results
// in descending score order. Ties keep their original relative order.
//
// A single failed scoring call substitutes the chunk's rescaled vector score
// so all chunks stay on the same 0-10 scale. If every call fails, the first
// topK results are returned unscored in their original order.
func (r *LLMReranker) Rerank(ctx context.Context, query string, results []vectorstore.SearchResult, topK int) ([]ScoredResult, error) {
	if len(results) == 0 {
		return []ScoredResult{}, nil
	}

	scores := make([]float64, len(results))
	failed := make([]bool, len(results))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, r.concurrency)

	for i := range results {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				// Same rescaled fallback as a failed call, so chunks
				// skipped by cancellation stay on the 0-10 scale.
				scores[idx] = float64(results[idx].Score) * 10
				failed[idx] = true
				return
			}

			score, err := r.scoreChunk(ctx, query, results[idx].Content)
			if err != nil {
				// Rescale the vector score onto the 0-10 range so this
				// chunk stays comparable with successfully scored ones.
				scores[idx] = float64(results[idx].Score) * 10
				failed[idx] = true
				r.logger.Warn("chunk scoring failed, using rescaled vector score",
					"index", idx, "error", err)
				return
			}
			scores[idx] = score
		}(i)
	}

	wg.Wait()

	allFailed := true
	for _, f := range failed {
		if !f {
			allFailed = false
			break
		}
	}
	if allFailed {
		r.logger.Warn("reranking failed for every chunk, returning original order")
		return passthrough(results, topK), nil
	}

	scored := make([]ScoredResult, len(results))
	for i, result := range results {
		scored[i] = ScoredResult{
			SearchResult: result,
			RerankScore:  scores[i],
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankScore > scored[j].RerankScore
	})

	return scored[:clampTopK(topK, len(scored))], nil
}

// scoreChunk asks the LLM for a 0-10 relevance judgment of one chunk.
func (r *LLMReranker) scoreChunk(ctx context.Context, query, content string) (float64, error) {
	if len(content) > maxChunkChars {
		content = content[:maxChunkChars]
	}

	prompt := fmt.Sprintf(`Rate how relevant the document is to the query on a scale from 0 to 10.
0 means completely irrelevant, 10 means directly answers the query.

Query: %s

Document: %s

Respond with a single number between 0 and 10:`, query, content)

	response, err := r.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0, // Deterministic scoring
		MaxTokens:   16,
	})
	if err != nil {
		return 0, fmt.Errorf("scoring chunk: %w", err)
	}

	return ParseRelevanceScore(response), nil
}

// Ensure LLMReranker implements Reranker interface.
var _ Reranker = (*LLMReranker)(nil)
