package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/policyassist/rag/internal/config"
	"github.com/policyassist/rag/internal/llm"
	"github.com/policyassist/rag/internal/repository"
	"github.com/policyassist/rag/internal/vectorstore"
)

// Shared test fakes for the service package.

func testConfig() *config.Config {
	return &config.Config{
		OllamaEmbeddingModel:  "nomic-embed-text",
		OllamaLLMModel:        "llama3.2",
		DefaultChunkMethod:    "sentence",
		DefaultChunkOverlap:   50,
		DefaultTopK:           4,
		DefaultMinScore:       0.35,
		DefaultRerankStrategy: "simple",
		DefaultMMRDiversity:   0.3,
	}
}

type fakeTenantRepo struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*repository.Tenant

	createErr error
	updated   int
	deleted   []uuid.UUID
}

func newFakeTenantRepo(tenants ...*repository.Tenant) *fakeTenantRepo {
	r := &fakeTenantRepo{tenants: make(map[uuid.UUID]*repository.Tenant)}
	for _, t := range tenants {
		r.tenants[t.ID] = t
	}
	return r
}

func (r *fakeTenantRepo) Create(_ context.Context, tenant *repository.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *fakeTenantRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *fakeTenantRepo) GetByAPIKey(_ context.Context, apiKey string) (*repository.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.APIKey == apiKey {
			copied := *t
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeTenantRepo) List(_ context.Context, limit, offset int) ([]*repository.Tenant, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*repository.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (r *fakeTenantRepo) Update(_ context.Context, tenant *repository.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[tenant.ID]; !ok {
		return repository.ErrNotFound
	}
	r.tenants[tenant.ID] = tenant
	r.updated++
	return nil
}

func (r *fakeTenantRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.tenants, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeTenantRepo) UpdateAPIKey(_ context.Context, id uuid.UUID, newAPIKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.APIKey = newAPIKey
	return nil
}

func (r *fakeTenantRepo) UpdateUsage(_ context.Context, id uuid.UUID, usage repository.TenantUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Usage = usage
	return nil
}

var _ repository.TenantRepository = (*fakeTenantRepo)(nil)

type createdCollection struct {
	tenantID  string
	dimension int
}

type fakeVectorStore struct {
	created       []createdCollection
	deletedColls  []string
	deletedDocs   []string
	upserted      []vectorstore.Chunk
	searchResults []vectorstore.SearchResult

	createErr error
	searchErr error
}

func (s *fakeVectorStore) CreateCollection(_ context.Context, tenantID string, dimension int) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, createdCollection{tenantID, dimension})
	return nil
}

func (s *fakeVectorStore) DeleteCollection(_ context.Context, tenantID string) error {
	s.deletedColls = append(s.deletedColls, tenantID)
	return nil
}

func (s *fakeVectorStore) CollectionExists(context.Context, string) (bool, error) {
	return true, nil
}

func (s *fakeVectorStore) Upsert(_ context.Context, _ string, chunks []vectorstore.Chunk) error {
	s.upserted = append(s.upserted, chunks...)
	return nil
}

func (s *fakeVectorStore) Search(context.Context, string, []float32, vectorstore.Filter, int, float32) ([]vectorstore.SearchResult, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.searchResults, nil
}

func (s *fakeVectorStore) Delete(_ context.Context, _ string, documentID string) error {
	s.deletedDocs = append(s.deletedDocs, documentID)
	return nil
}

func (s *fakeVectorStore) DeleteByIDs(context.Context, string, []string) error { return nil }

var _ vectorstore.VectorStore = (*fakeVectorStore)(nil)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimension() int    { return 2 }
func (fakeEmbedder) ModelName() string { return "fake" }

type fakeLLM struct {
	response string
	tokens   []string
	err      error

	prompts []string
	opts    []llm.GenerateOptions
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) GenerateStream(_ context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, tok := range f.tokens {
			ch <- llm.StreamChunk{Token: tok}
		}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

var _ llm.LLM = (*fakeLLM)(nil)

type fakeAuditRepo struct {
	mu     sync.Mutex
	audits []*repository.QueryAudit
	err    error
}

func (r *fakeAuditRepo) Create(_ context.Context, audit *repository.QueryAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.audits = append(r.audits, audit)
	return nil
}

func (r *fakeAuditRepo) List(_ context.Context, tenantID uuid.UUID, _, _ int) ([]*repository.QueryAudit, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.QueryAudit
	for _, a := range r.audits {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (r *fakeAuditRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audits)
}

var _ repository.AuditRepository = (*fakeAuditRepo)(nil)
