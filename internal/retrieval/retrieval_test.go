package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/policyassist/rag/internal/reranker"
	"github.com/policyassist/rag/internal/vectorstore"
)

// fakeEmbedder maps texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 2 }
func (f *fakeEmbedder) ModelName() string { return "fake" }

// fakeStore returns scripted results per search call, in call order.
type fakeStore struct {
	batches  [][]vectorstore.SearchResult
	calls    int
	filters  []vectorstore.Filter
	failFrom int // fail calls with index >= failFrom; -1 disables
}

func (f *fakeStore) Search(_ context.Context, _ string, _ []float32, filter vectorstore.Filter, _ int, _ float32) ([]vectorstore.SearchResult, error) {
	idx := f.calls
	f.calls++
	f.filters = append(f.filters, filter)
	if f.failFrom >= 0 && idx >= f.failFrom {
		return nil, errors.New("store down")
	}
	if idx < len(f.batches) {
		return f.batches[idx], nil
	}
	return nil, nil
}

func (f *fakeStore) CreateCollection(context.Context, string, int) error { return nil }
func (f *fakeStore) DeleteCollection(context.Context, string) error      { return nil }
func (f *fakeStore) CollectionExists(context.Context, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) Upsert(context.Context, string, []vectorstore.Chunk) error { return nil }
func (f *fakeStore) Delete(context.Context, string, string) error              { return nil }
func (f *fakeStore) DeleteByIDs(context.Context, string, []string) error       { return nil }

func chunk(id, content string, score float32) vectorstore.SearchResult {
	return vectorstore.SearchResult{ID: id, Content: content, Score: score, Metadata: map[string]string{}}
}

func newStore(batches ...[]vectorstore.SearchResult) *fakeStore {
	return &fakeStore{batches: batches, failFrom: -1}
}

func TestPipeline_VectorOrderWithoutReranker(t *testing.T) {
	store := newStore([]vectorstore.SearchResult{
		chunk("a", "remote work rules for employees", 0.9),
		chunk("b", "office attendance requirements each week", 0.7),
		chunk("c", "completely different parking guidance text", 0.5),
	})
	p := NewPipeline(&fakeEmbedder{}, store)

	got, err := p.Retrieve(context.Background(), "t1", "remote work", Options{TopK: 2})
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("expected vector order a,b; got %s,%s", got[0].ID, got[1].ID)
	}
}

func TestPipeline_MergesVariantsKeepingMaxScore(t *testing.T) {
	store := newStore(
		[]vectorstore.SearchResult{
			chunk("a", "remote work policy for all staff members", 0.6),
			chunk("b", "travel reimbursement procedure and limits", 0.5),
		},
		[]vectorstore.SearchResult{
			chunk("a", "remote work policy for all staff members", 0.8),
			chunk("c", "equipment allowance details for home offices", 0.4),
		},
	)
	emb := &fakeEmbedder{}
	p := NewPipeline(emb, store)

	// Two variants via a pre-split query list: simulate expansion by calling
	// searchVariants directly.
	merged, err := p.searchVariants(context.Background(), "t1",
		[]string{"remote work", "working from home"}, Options{TopK: 3})
	if err != nil {
		t.Fatalf("searchVariants failed: %v", err)
	}

	if len(merged) != 3 {
		t.Fatalf("expected 3 merged candidates, got %d", len(merged))
	}
	if merged[0].ID != "a" || merged[0].Score != 0.8 {
		t.Errorf("expected chunk a first with max score 0.8, got %s %v", merged[0].ID, merged[0].Score)
	}
}

func TestPipeline_VariantFailureOnlyDropsVariant(t *testing.T) {
	store := &fakeStore{
		batches: [][]vectorstore.SearchResult{
			{chunk("a", "vacation accrual schedule by tenure", 0.9)},
		},
		failFrom: 1, // second variant's search fails
	}
	p := NewPipeline(&fakeEmbedder{}, store)

	merged, err := p.searchVariants(context.Background(), "t1",
		[]string{"vacation days", "paid time off"}, Options{TopK: 2})
	if err != nil {
		t.Fatalf("expected variant failure to be absorbed: %v", err)
	}
	if len(merged) != 1 || merged[0].ID != "a" {
		t.Errorf("expected original variant results to survive, got %v", merged)
	}
}

func TestPipeline_OriginalQueryFailureFails(t *testing.T) {
	store := &fakeStore{failFrom: 0}
	p := NewPipeline(&fakeEmbedder{}, store)

	if _, err := p.Retrieve(context.Background(), "t1", "query", Options{TopK: 2}); err == nil {
		t.Error("expected error when the original query search fails")
	}

	p = NewPipeline(&fakeEmbedder{fail: true}, newStore())
	if _, err := p.Retrieve(context.Background(), "t1", "query", Options{TopK: 2}); err == nil {
		t.Error("expected error when embedding the original query fails")
	}
}

func TestPipeline_DeduplicatesNearIdenticalChunks(t *testing.T) {
	store := newStore([]vectorstore.SearchResult{
		chunk("a", "employees accrue vacation days monthly based on tenure", 0.9),
		chunk("b", "employees accrue vacation days monthly based on tenure.", 0.8),
		chunk("c", "expense reports are due within thirty days of travel", 0.7),
	})
	p := NewPipeline(&fakeEmbedder{}, store)

	got, err := p.Retrieve(context.Background(), "t1", "vacation", Options{TopK: 3})
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected near-duplicate to be dropped, got %d results", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("expected a,c; got %s,%s", got[0].ID, got[1].ID)
	}
}

func TestPipeline_RerankStrategyApplied(t *testing.T) {
	store := newStore([]vectorstore.SearchResult{
		chunk("a", "unrelated parking rules text entirely", 0.9),
		chunk("b", "the expense deadline policy is strict", 0.85),
	})
	p := NewPipeline(&fakeEmbedder{}, store,
		WithReranker(reranker.StrategySimple, reranker.NewSimpleReranker()))

	got, err := p.Retrieve(context.Background(), "t1", "expense deadline policy", Options{
		TopK:     2,
		Strategy: reranker.StrategySimple,
	})
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if got[0].ID != "b" {
		t.Errorf("expected keyword overlap to promote b, got %s first", got[0].ID)
	}
	if got[0].RerankScore == 0 {
		t.Error("expected a rerank score on strategy output")
	}
}

// errorReranker always fails, to exercise the degrade path.
type errorReranker struct{}

func (errorReranker) Rerank(context.Context, string, []vectorstore.SearchResult, int) ([]reranker.ScoredResult, error) {
	return nil, errors.New("rerank broke")
}

func TestPipeline_RerankFailureFallsBackToVectorOrder(t *testing.T) {
	store := newStore([]vectorstore.SearchResult{
		chunk("a", "first by vector score entirely", 0.9),
		chunk("b", "second by vector score entirely different", 0.8),
	})
	p := NewPipeline(&fakeEmbedder{}, store,
		WithReranker(reranker.StrategyLLM, errorReranker{}))

	got, err := p.Retrieve(context.Background(), "t1", "query", Options{
		TopK:     2,
		Strategy: reranker.StrategyLLM,
	})
	if err != nil {
		t.Fatalf("expected degrade, not error: %v", err)
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("expected vector order fallback, got %s,%s", got[0].ID, got[1].ID)
	}
}

func TestPipeline_DocumentFilterPassedThrough(t *testing.T) {
	store := newStore(nil)
	p := NewPipeline(&fakeEmbedder{}, store)

	_, err := p.Retrieve(context.Background(), "t1", "query", Options{
		TopK:        2,
		DocumentIDs: []string{"doc-1", "doc-2"},
	})
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(store.filters) != 1 || len(store.filters[0].DocumentIDs) != 2 {
		t.Errorf("expected document filter to reach the store, got %v", store.filters)
	}
}

func TestPipeline_ZeroTopK(t *testing.T) {
	store := newStore()
	p := NewPipeline(&fakeEmbedder{}, store)

	got, err := p.Retrieve(context.Background(), "t1", "query", Options{TopK: 0})
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results for topK=0, got %d", len(got))
	}
	if store.calls != 0 {
		t.Errorf("expected no store calls for topK=0, got %d", store.calls)
	}
}

func TestDeduplicate(t *testing.T) {
	results := []vectorstore.SearchResult{
		chunk("a", "the quick brown fox jumps over the lazy dog", 0.9),
		chunk("b", "the quick brown fox jumps over the lazy dog!", 0.8),
		chunk("c", "entirely unrelated content about compliance audits", 0.7),
	}

	got := deduplicate(results, DefaultDedupThreshold)
	if len(got) != 2 {
		t.Fatalf("expected 2 after dedup, got %d", len(got))
	}
	if got[0].ID != "a" {
		t.Errorf("expected the higher-ranked duplicate to survive, got %s", got[0].ID)
	}

	// Single and empty inputs pass through untouched.
	if got := deduplicate(results[:1], DefaultDedupThreshold); len(got) != 1 {
		t.Errorf("single input should pass through, got %d", len(got))
	}
	if got := deduplicate(nil, DefaultDedupThreshold); got != nil {
		t.Errorf("nil input should pass through, got %v", got)
	}
}
