package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/policyassist/rag/internal/embedder"
	"github.com/policyassist/rag/internal/ingestion"
	"github.com/policyassist/rag/internal/repository"
	"github.com/policyassist/rag/internal/vectorstore"
)

// DocumentService handles policy document ingestion and lifecycle
type DocumentService struct {
	docRepo    repository.DocumentRepository
	tenantRepo repository.TenantRepository
	embedder   embedder.Embedder
	vectorDB   vectorstore.VectorStore
	logger     *slog.Logger
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(
	docRepo repository.DocumentRepository,
	tenantRepo repository.TenantRepository,
	embed embedder.Embedder,
	vectorDB vectorstore.VectorStore,
	logger *slog.Logger,
) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		docRepo:    docRepo,
		tenantRepo: tenantRepo,
		embedder:   embed,
		vectorDB:   vectorDB,
		logger:     logger,
	}
}

// IngestParams holds inputs for document ingestion
type IngestParams struct {
	TenantID string
	Title    string
	Source   string
	Content  string
	Metadata map[string]string
}

// IngestResult reports the accepted document and its processing status
type IngestResult struct {
	DocumentID string
	Status     string
	Duplicate  bool
}

// Ingest accepts a policy document and processes it asynchronously:
// chunk, embed through the cache gateway, upsert vectors, persist chunks.
// Returns immediately with status PROCESSING; poll GetDocument for READY
// or FAILED.
func (s *DocumentService) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	if params.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidArgument)
	}
	if params.Content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}

	tenantID, err := uuid.Parse(params.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tenant_id format", ErrInvalidArgument)
	}

	tenant, err := s.tenantRepo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// Source participates in the hash so re-issuing the same policy text
	// under a different source is not treated as a duplicate.
	contentHash := ingestion.HashContent(params.Source + "\n" + params.Content)

	if existing, err := s.docRepo.GetByHash(ctx, tenantID, contentHash); err == nil && existing != nil {
		return &IngestResult{
			DocumentID: existing.ID.String(),
			Status:     existing.Status,
			Duplicate:  true,
		}, nil
	}

	now := time.Now()
	doc := &repository.Document{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Source:      params.Source,
		Title:       params.Title,
		ContentHash: contentHash,
		Status:      "PROCESSING",
		Metadata:    params.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if doc.Title == "" {
		doc.Title = "Untitled Document"
	}
	if doc.Source == "" {
		doc.Source = "direct-upload"
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	go s.processDocument(context.Background(), doc, params.Content, tenant)

	return &IngestResult{
		DocumentID: doc.ID.String(),
		Status:     doc.Status,
	}, nil
}

// GetDocument retrieves a document by ID
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*repository.Document, error) {
	docID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid document ID format", ErrInvalidArgument)
	}
	return s.docRepo.GetByID(ctx, docID)
}

// ListDocuments lists a tenant's documents with optional status filter
func (s *DocumentService) ListDocuments(ctx context.Context, tenantID, statusFilter string, pageSize, offset int) ([]*repository.Document, int, error) {
	id, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: invalid tenant_id format", ErrInvalidArgument)
	}

	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if offset < 0 {
		offset = 0
	}

	return s.docRepo.List(ctx, id, statusFilter, pageSize, offset)
}

// GetChunks retrieves stored chunks for a document
func (s *DocumentService) GetChunks(ctx context.Context, documentID string, pageSize, offset int) ([]*repository.DocumentChunk, error) {
	docID, err := uuid.Parse(documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid document ID format", ErrInvalidArgument)
	}

	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if offset < 0 {
		offset = 0
	}

	return s.docRepo.GetChunks(ctx, docID, pageSize, offset)
}

// DeleteDocument removes a document, its chunks, and its vectors
func (s *DocumentService) DeleteDocument(ctx context.Context, id string) error {
	docID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: invalid document ID format", ErrInvalidArgument)
	}

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		return err
	}

	if err := s.vectorDB.Delete(ctx, doc.TenantID.String(), doc.ID.String()); err != nil {
		s.logger.Warn("failed to delete vectors",
			"document_id", doc.ID.String(),
			"error", err)
	}
	if err := s.docRepo.DeleteChunks(ctx, docID); err != nil {
		s.logger.Warn("failed to delete chunks",
			"document_id", doc.ID.String(),
			"error", err)
	}

	return s.docRepo.Delete(ctx, docID)
}

// processDocument runs the ingestion pipeline for one document
func (s *DocumentService) processDocument(ctx context.Context, doc *repository.Document, content string, tenant *repository.Tenant) {
	pipeline := ingestion.NewPipeline(ingestion.PipelineConfig{
		Chunker: tenant.Config.Chunker,
		DefaultMetadata: map[string]string{
			"source": doc.Source,
			"title":  doc.Title,
		},
	})

	result, err := pipeline.Process(ctx, content, doc.Metadata)
	if err != nil {
		s.markDocumentFailed(ctx, doc, fmt.Sprintf("chunking failed: %v", err))
		return
	}

	docChunks := ingestion.ChunksToDocumentChunks(result.Chunks, doc.ID)
	if err := s.docRepo.CreateChunks(ctx, docChunks); err != nil {
		s.markDocumentFailed(ctx, doc, fmt.Sprintf("failed to store chunks: %v", err))
		return
	}

	chunkContents := make([]string, len(result.Chunks))
	for i, chunk := range result.Chunks {
		chunkContents[i] = chunk.Content
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, chunkContents)
	if err != nil {
		s.markDocumentFailed(ctx, doc, fmt.Sprintf("embedding failed: %v", err))
		return
	}

	vectorChunks := make([]vectorstore.Chunk, len(docChunks))
	for i, chunk := range docChunks {
		metadata := make(map[string]string, len(chunk.Metadata)+3)
		for k, v := range chunk.Metadata {
			metadata[k] = v
		}
		metadata["document_id"] = doc.ID.String()
		metadata["title"] = doc.Title
		metadata["source"] = doc.Source

		vectorChunks[i] = vectorstore.Chunk{
			ID:         chunk.ID.String(),
			DocumentID: doc.ID.String(),
			TenantID:   doc.TenantID.String(),
			Content:    chunk.Content,
			Vector:     embeddings[i],
			Metadata:   metadata,
		}
	}

	if err := s.vectorDB.Upsert(ctx, doc.TenantID.String(), vectorChunks); err != nil {
		s.markDocumentFailed(ctx, doc, fmt.Sprintf("vector storage failed: %v", err))
		return
	}

	doc.Status = "READY"
	doc.ChunkCount = len(docChunks)
	doc.UpdatedAt = time.Now()
	if err := s.docRepo.Update(ctx, doc); err != nil {
		s.logger.Error("failed to mark document ready",
			"document_id", doc.ID.String(),
			"error", err)
		return
	}

	if err := s.tenantRepo.UpdateUsage(ctx, doc.TenantID, repository.TenantUsage{
		DocumentCount: 1,
		ChunkCount:    len(docChunks),
	}); err != nil {
		s.logger.Warn("failed to update tenant usage",
			"tenant_id", doc.TenantID.String(),
			"error", err)
	}

	s.logger.Info("document ingested",
		"document_id", doc.ID.String(),
		"tenant_id", doc.TenantID.String(),
		"chunks", len(docChunks))
}

// markDocumentFailed marks a document as failed with an error message
func (s *DocumentService) markDocumentFailed(ctx context.Context, doc *repository.Document, errorMsg string) {
	doc.Status = "FAILED"
	doc.ErrorMessage = errorMsg
	doc.UpdatedAt = time.Now()
	if err := s.docRepo.Update(ctx, doc); err != nil {
		s.logger.Error("failed to mark document failed",
			"document_id", doc.ID.String(),
			"error", err)
	}
	s.logger.Warn("document ingestion failed",
		"document_id", doc.ID.String(),
		"reason", errorMsg)
}
