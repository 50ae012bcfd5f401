package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/policyassist/rag/internal/repository"
)

type fakeDocumentRepo struct {
	mu     sync.Mutex
	docs   map[uuid.UUID]*repository.Document
	chunks map[uuid.UUID][]*repository.DocumentChunk

	// updated receives a signal on every document update, so tests can
	// wait for the async processing goroutine.
	updated chan string

	chunksDeleted []uuid.UUID
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{
		docs:    make(map[uuid.UUID]*repository.Document),
		chunks:  make(map[uuid.UUID][]*repository.DocumentChunk),
		updated: make(chan string, 8),
	}
}

func (r *fakeDocumentRepo) Create(_ context.Context, doc *repository.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *doc
	r.docs[doc.ID] = &copied
	return nil
}

func (r *fakeDocumentRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (r *fakeDocumentRepo) GetByHash(_ context.Context, tenantID uuid.UUID, hash string) (*repository.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		if doc.TenantID == tenantID && doc.ContentHash == hash {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeDocumentRepo) List(_ context.Context, tenantID uuid.UUID, status string, _, _ int) ([]*repository.Document, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.Document
	for _, doc := range r.docs {
		if doc.TenantID == tenantID && (status == "" || doc.Status == status) {
			out = append(out, doc)
		}
	}
	return out, len(out), nil
}

func (r *fakeDocumentRepo) Update(_ context.Context, doc *repository.Document) error {
	r.mu.Lock()
	copied := *doc
	r.docs[doc.ID] = &copied
	r.mu.Unlock()
	r.updated <- doc.Status
	return nil
}

func (r *fakeDocumentRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *fakeDocumentRepo) CreateChunks(_ context.Context, chunks []*repository.DocumentChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range chunks {
		r.chunks[c.DocumentID] = append(r.chunks[c.DocumentID], c)
	}
	return nil
}

func (r *fakeDocumentRepo) GetChunks(_ context.Context, documentID uuid.UUID, _, _ int) ([]*repository.DocumentChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks[documentID], nil
}

func (r *fakeDocumentRepo) DeleteChunks(_ context.Context, documentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, documentID)
	r.chunksDeleted = append(r.chunksDeleted, documentID)
	return nil
}

var _ repository.DocumentRepository = (*fakeDocumentRepo)(nil)

// waitForStatus blocks until the repo sees an update to the given status.
func (r *fakeDocumentRepo) waitForStatus(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case status := <-r.updated:
			if status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for document status %s", want)
		}
	}
}

func docTenant() *repository.Tenant {
	return &repository.Tenant{
		ID: uuid.New(),
		Config: repository.TenantConfig{
			EmbeddingModel: "nomic-embed-text",
			LLMModel:       "llama3.2",
			Chunker: repository.ChunkerConfig{
				Method:     "sentence",
				TargetSize: 50,
				MaxSize:    100,
				Overlap:    5,
			},
		},
	}
}

const policyText = "Employees accrue fifteen vacation days per year. Unused days roll over up to a maximum of five. Requests must be submitted two weeks in advance."

func TestIngest_ProcessesAsynchronously(t *testing.T) {
	tenant := docTenant()
	docRepo := newFakeDocumentRepo()
	tenantRepo := newFakeTenantRepo(tenant)
	store := &fakeVectorStore{}
	svc := NewDocumentService(docRepo, tenantRepo, fakeEmbedder{}, store, nil)

	result, err := svc.Ingest(context.Background(), IngestParams{
		TenantID: tenant.ID.String(),
		Title:    "PTO Policy",
		Content:  policyText,
		Metadata: map[string]string{"department": "hr"},
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if result.Status != "PROCESSING" || result.Duplicate {
		t.Errorf("expected PROCESSING non-duplicate, got %+v", result)
	}

	docRepo.waitForStatus(t, "READY")

	doc, err := svc.GetDocument(context.Background(), result.DocumentID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Status != "READY" || doc.ChunkCount == 0 {
		t.Errorf("expected READY with chunks, got %+v", doc)
	}
	if doc.Title != "PTO Policy" {
		t.Errorf("unexpected title: %s", doc.Title)
	}

	chunks, err := svc.GetChunks(context.Background(), result.DocumentID, 20, 0)
	if err != nil || len(chunks) != doc.ChunkCount {
		t.Errorf("expected %d stored chunks, got %d (%v)", doc.ChunkCount, len(chunks), err)
	}

	// Vectors carry the document identity for filtered retrieval.
	if len(store.upserted) != doc.ChunkCount {
		t.Fatalf("expected %d vectors upserted, got %d", doc.ChunkCount, len(store.upserted))
	}
	first := store.upserted[0]
	if first.DocumentID != doc.ID.String() || first.Metadata["title"] != "PTO Policy" {
		t.Errorf("unexpected vector chunk: %+v", first)
	}
	if first.Metadata["department"] != "hr" {
		t.Error("provided metadata should reach the vector store")
	}
}

func TestIngest_Validation(t *testing.T) {
	tenant := docTenant()
	svc := NewDocumentService(newFakeDocumentRepo(), newFakeTenantRepo(tenant), fakeEmbedder{}, &fakeVectorStore{}, nil)

	cases := []IngestParams{
		{Content: "text"},
		{TenantID: tenant.ID.String()},
		{TenantID: "not-a-uuid", Content: "text"},
	}
	for i, params := range cases {
		if _, err := svc.Ingest(context.Background(), params); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("case %d: expected ErrInvalidArgument, got %v", i, err)
		}
	}

	_, err := svc.Ingest(context.Background(), IngestParams{TenantID: uuid.New().String(), Content: "text"})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown tenant, got %v", err)
	}
}

func TestIngest_DetectsDuplicates(t *testing.T) {
	tenant := docTenant()
	docRepo := newFakeDocumentRepo()
	svc := NewDocumentService(docRepo, newFakeTenantRepo(tenant), fakeEmbedder{}, &fakeVectorStore{}, nil)

	params := IngestParams{
		TenantID: tenant.ID.String(),
		Source:   "hr-handbook",
		Content:  policyText,
	}
	first, err := svc.Ingest(context.Background(), params)
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	docRepo.waitForStatus(t, "READY")

	second, err := svc.Ingest(context.Background(), params)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if !second.Duplicate || second.DocumentID != first.DocumentID {
		t.Errorf("expected duplicate of %s, got %+v", first.DocumentID, second)
	}

	// Same content under a different source is a new document.
	params.Source = "legal-handbook"
	third, err := svc.Ingest(context.Background(), params)
	if err != nil {
		t.Fatalf("third ingest failed: %v", err)
	}
	if third.Duplicate {
		t.Error("different source should not be a duplicate")
	}
	docRepo.waitForStatus(t, "READY")
}

func TestDeleteDocument_RemovesVectorsAndChunks(t *testing.T) {
	tenant := docTenant()
	docRepo := newFakeDocumentRepo()
	store := &fakeVectorStore{}
	svc := NewDocumentService(docRepo, newFakeTenantRepo(tenant), fakeEmbedder{}, store, nil)

	result, err := svc.Ingest(context.Background(), IngestParams{
		TenantID: tenant.ID.String(),
		Content:  policyText,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	docRepo.waitForStatus(t, "READY")

	if err := svc.DeleteDocument(context.Background(), result.DocumentID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if len(store.deletedDocs) != 1 || store.deletedDocs[0] != result.DocumentID {
		t.Errorf("expected vectors deleted for %s, got %v", result.DocumentID, store.deletedDocs)
	}
	if len(docRepo.chunksDeleted) != 1 {
		t.Errorf("expected chunks deleted, got %v", docRepo.chunksDeleted)
	}
	if _, err := svc.GetDocument(context.Background(), result.DocumentID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("document should be gone, got %v", err)
	}
}

func TestListDocuments_InvalidTenantID(t *testing.T) {
	svc := NewDocumentService(newFakeDocumentRepo(), newFakeTenantRepo(), fakeEmbedder{}, &fakeVectorStore{}, nil)

	_, _, err := svc.ListDocuments(context.Background(), "nope", "", 20, 0)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
