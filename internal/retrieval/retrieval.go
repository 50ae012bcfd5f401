// Package retrieval composes the retrieval quality pipeline: query expansion,
// per-variant vector search, candidate merging and deduplication, reranking,
// and final top-k selection.
//
// The pipeline is request-scoped and degrades gracefully: a failed expansion
// falls back to the original query, a failed variant search drops that
// variant, and a failed rerank falls back to vector-similarity order. Only a
// failure to embed or search the original query fails the request.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/policyassist/rag/internal/embedder"
	"github.com/policyassist/rag/internal/query"
	"github.com/policyassist/rag/internal/reranker"
	"github.com/policyassist/rag/internal/vectorstore"
)

// candidateMultiplier oversamples the vector search so deduplication and
// reranking have enough candidates to choose from.
const candidateMultiplier = 3

// Options controls a single retrieval request.
type Options struct {
	// TopK is the number of chunks to return.
	TopK int

	// MinScore drops vector matches below this similarity.
	MinScore float32

	// Strategy selects the reranking strategy. Empty disables reranking.
	Strategy reranker.Strategy

	// ExpandQuery enables LLM query expansion before search.
	ExpandQuery bool

	// DocumentIDs restricts the search to specific documents.
	DocumentIDs []string
}

// Pipeline runs retrieval for one tenant corpus. All collaborators are
// injected; tests substitute fakes.
type Pipeline struct {
	processor *query.Processor
	embed     embedder.Embedder
	store     vectorstore.VectorStore
	rerankers map[reranker.Strategy]reranker.Reranker
	logger    *slog.Logger
}

// PipelineOption is a functional option for configuring Pipeline.
type PipelineOption func(*Pipeline)

// WithProcessor enables query expansion through the given processor.
func WithProcessor(p *query.Processor) PipelineOption {
	return func(pl *Pipeline) {
		pl.processor = p
	}
}

// WithReranker registers a reranker under a strategy identifier.
func WithReranker(strategy reranker.Strategy, r reranker.Reranker) PipelineOption {
	return func(pl *Pipeline) {
		pl.rerankers[strategy] = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(pl *Pipeline) {
		pl.logger = logger
	}
}

// NewPipeline creates a retrieval pipeline over the given embedder and
// vector store.
func NewPipeline(embed embedder.Embedder, store vectorstore.VectorStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		embed:     embed,
		store:     store,
		rerankers: make(map[reranker.Strategy]reranker.Reranker),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Retrieve returns the topK most relevant chunks for q from the tenant's
// corpus.
func (p *Pipeline) Retrieve(ctx context.Context, tenantID, q string, opts Options) ([]reranker.ScoredResult, error) {
	if opts.TopK <= 0 {
		return []reranker.ScoredResult{}, nil
	}

	variants := []string{q}
	if opts.ExpandQuery && p.processor != nil {
		variants = p.processor.Expand(ctx, q)
	}

	candidates, err := p.searchVariants(ctx, tenantID, variants, opts)
	if err != nil {
		return nil, err
	}

	candidates = deduplicate(candidates, DefaultDedupThreshold)

	return p.rerank(ctx, q, candidates, opts), nil
}

// searchVariants embeds each query variant and merges the per-variant search
// results. A candidate found by several variants keeps its highest score.
// Failures on expanded variants are logged and skipped; a failure on the
// original query (variant 0) fails the retrieval.
func (p *Pipeline) searchVariants(ctx context.Context, tenantID string, variants []string, opts Options) ([]vectorstore.SearchResult, error) {
	filter := vectorstore.Filter{DocumentIDs: opts.DocumentIDs}
	fetchK := opts.TopK * candidateMultiplier

	merged := make([]vectorstore.SearchResult, 0, fetchK)
	seen := make(map[string]int) // chunk ID -> index in merged

	for i, variant := range variants {
		vec, err := p.embed.Embed(ctx, variant)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("embedding query: %w", err)
			}
			p.logger.Warn("embedding query variant failed, skipping", "variant", i, "error", err)
			continue
		}

		results, err := p.store.Search(ctx, tenantID, vec, filter, fetchK, opts.MinScore)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("searching vectors: %w", err)
			}
			p.logger.Warn("variant search failed, skipping", "variant", i, "error", err)
			continue
		}

		for _, result := range results {
			if idx, ok := seen[result.ID]; ok {
				if result.Score > merged[idx].Score {
					merged[idx].Score = result.Score
				}
				continue
			}
			seen[result.ID] = len(merged)
			merged = append(merged, result)
		}
	}

	// Merging across variants can interleave scores; restore descending
	// order before dedup so the higher-scored duplicate survives.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	return merged, nil
}

// rerank applies the selected strategy, degrading to vector-similarity order
// when the strategy is unknown, unregistered, or fails.
func (p *Pipeline) rerank(ctx context.Context, q string, candidates []vectorstore.SearchResult, opts Options) []reranker.ScoredResult {
	if opts.Strategy != "" {
		if r, ok := p.rerankers[opts.Strategy]; ok {
			scored, err := r.Rerank(ctx, q, candidates, opts.TopK)
			if err == nil {
				return scored
			}
			p.logger.Warn("reranking failed, falling back to vector order",
				"strategy", opts.Strategy, "error", err)
		} else {
			p.logger.Warn("no reranker registered for strategy, using vector order",
				"strategy", opts.Strategy)
		}
	}

	n := opts.TopK
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]reranker.ScoredResult, n)
	for i := 0; i < n; i++ {
		out[i] = reranker.ScoredResult{SearchResult: candidates[i]}
	}
	return out
}
