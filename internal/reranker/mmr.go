package reranker

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/policyassist/rag/internal/embedder"
	"github.com/policyassist/rag/internal/vectorstore"
)

// DefaultDiversity is the default MMR lambda: mostly relevance with a
// moderate redundancy penalty.
const DefaultDiversity = 0.3

// MMR selects topK results by Maximum Marginal Relevance. embeddings must be
// parallel to results (same length and order); passing mismatched lists is a
// contract violation and returns an error. diversity is the lambda in [0, 1]:
// 0 selects purely by query relevance, 1 purely by dissimilarity to already
// selected chunks. Values outside the range are clamped.
//
// At each step the candidate maximizing
//
//	(1-lambda)*relevance(i) - lambda*max_selected_similarity(i)
//
// is chosen; the redundancy term is zero for the first pick, and ties go to
// the earliest candidate in scan order. Each selected result carries the
// MMR score it won with, a snapshot that later selections do not revise.
//
// If results or embeddings is empty, up to topK results are returned
// unchanged with no MMR score attached.
func MMR(queryVec []float32, results []vectorstore.SearchResult, embeddings [][]float32, topK int, diversity float64) ([]ScoredResult, error) {
	if len(results) == 0 {
		return []ScoredResult{}, nil
	}
	if len(embeddings) == 0 {
		return passthrough(results, topK), nil
	}
	if len(embeddings) != len(results) {
		return nil, fmt.Errorf("mismatched inputs: %d results but %d embeddings", len(results), len(embeddings))
	}

	lambda := diversity
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	n := len(results)
	limit := clampTopK(topK, n)
	if limit == 0 {
		return []ScoredResult{}, nil
	}

	qn := normalize(queryVec)
	docs := make([][]float64, n)
	for i, vec := range embeddings {
		docs[i] = normalize(vec)
	}

	relevance := make([]float64, n)
	for i := range docs {
		relevance[i] = dot(qn, docs[i])
	}

	selected := make([]int, 0, limit)
	chosen := make([]bool, n)
	out := make([]ScoredResult, 0, limit)

	for len(selected) < limit {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i := 0; i < n; i++ {
			if chosen[i] {
				continue
			}

			redundancy := 0.0
			for _, j := range selected {
				if sim := dot(docs[i], docs[j]); sim > redundancy {
					redundancy = sim
				}
			}

			score := (1-lambda)*relevance[i] - lambda*redundancy
			// Strict comparison: the earliest max in scan order wins ties.
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		chosen[bestIdx] = true
		selected = append(selected, bestIdx)
		out = append(out, ScoredResult{
			SearchResult: results[bestIdx],
			MMRScore:     bestScore,
		})
	}

	return out, nil
}

// normalize returns v scaled to unit L2 norm as float64. A zero vector is
// returned as-is.
func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		out[i] = float64(x)
		sum += out[i] * out[i]
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i := range out {
		out[i] /= norm
	}
	return out
}

// dot computes the inner product over the shared prefix of a and b.
func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// MMRReranker satisfies the Reranker interface by embedding the query and
// each chunk, then delegating to MMR. Fronting the embedder with the cache
// gateway makes repeat reranks of the same corpus cheap.
type MMRReranker struct {
	embed     embedder.Embedder
	diversity float64
	logger    *slog.Logger
}

// MMRRerankerOption is a functional option for configuring MMRReranker.
type MMRRerankerOption func(*MMRReranker)

// WithDiversity sets the MMR lambda.
func WithDiversity(diversity float64) MMRRerankerOption {
	return func(r *MMRReranker) {
		r.diversity = diversity
	}
}

// WithMMRLogger sets the logger.
func WithMMRLogger(logger *slog.Logger) MMRRerankerOption {
	return func(r *MMRReranker) {
		r.logger = logger
	}
}

// NewMMRReranker creates an embedding-based diversity reranker.
func NewMMRReranker(embed embedder.Embedder, opts ...MMRRerankerOption) *MMRReranker {
	r := &MMRReranker{
		embed:     embed,
		diversity: DefaultDiversity,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank embeds the query and chunk texts, then selects topK by MMR. On
// embedding failure it degrades to the original order rather than failing
// the retrieval.
func (r *MMRReranker) Rerank(ctx context.Context, query string, results []vectorstore.SearchResult, topK int) ([]ScoredResult, error) {
	if len(results) == 0 {
		return []ScoredResult{}, nil
	}

	queryVec, err := r.embed.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, skipping MMR", "error", err)
		return passthrough(results, topK), nil
	}

	texts := make([]string, len(results))
	for i, result := range results {
		texts[i] = result.Content
	}

	embeddings, err := r.embed.EmbedBatch(ctx, texts)
	if err != nil {
		r.logger.Warn("chunk embedding failed, skipping MMR", "error", err)
		return passthrough(results, topK), nil
	}

	return MMR(queryVec, results, embeddings, topK, r.diversity)
}

// Ensure MMRReranker implements Reranker interface.
var _ Reranker = (*MMRReranker)(nil)
