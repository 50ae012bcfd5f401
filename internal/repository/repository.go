// Package repository defines domain models and data access interfaces for
// tenants, policy documents, and the query audit log.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Tenant represents a tenant in the system
type Tenant struct {
	ID        uuid.UUID
	Name      string
	APIKey    string
	Config    TenantConfig
	Usage     TenantUsage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantConfig holds tenant-specific configuration
type TenantConfig struct {
	EmbeddingModel string        `json:"embedding_model"`
	LLMModel       string        `json:"llm_model"`
	Chunker        ChunkerConfig `json:"chunker"`
	TopK           int           `json:"top_k"`
	MinScore       float32       `json:"min_score"`
	SystemPrompt   string        `json:"system_prompt"`

	// RerankStrategy selects the reranking strategy for retrieval
	// ("llm", "simple", "mmr"). Empty disables reranking.
	RerankStrategy string `json:"rerank_strategy"`

	// MMRDiversity is the lambda for the mmr strategy, in [0, 1].
	MMRDiversity float64 `json:"mmr_diversity"`

	// ExpandQueries enables LLM query expansion before retrieval.
	ExpandQueries bool `json:"expand_queries"`
}

// ChunkerConfig holds chunking configuration
type ChunkerConfig struct {
	Method     string `json:"method"`      // fixed, sentence
	TargetSize int    `json:"target_size"` // target words per chunk
	MaxSize    int    `json:"max_size"`    // max words per chunk
	Overlap    int    `json:"overlap"`     // overlap words
}

// TenantUsage holds tenant usage statistics
type TenantUsage struct {
	DocumentCount   int   `json:"document_count"`
	ChunkCount      int   `json:"chunk_count"`
	QueryCountMonth int64 `json:"query_count_month"`
}

// Document represents an ingested policy document
type Document struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Source       string
	Title        string
	ContentHash  string
	ChunkCount   int
	Status       string
	ErrorMessage string
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentChunk represents a chunk of a document
type DocumentChunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	ChunkIndex int
	Content    string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// QueryAudit records one answered question for compliance review.
type QueryAudit struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	SessionID      string
	Query          string
	Answer         string
	RerankStrategy string
	ChunksUsed     int
	RetrievalMS    int64
	GenerationMS   int64
	CreatedAt      time.Time
}

// TenantRepository defines operations for tenant persistence
type TenantRepository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
	Update(ctx context.Context, tenant *Tenant) error
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateAPIKey(ctx context.Context, id uuid.UUID, newAPIKey string) error
	UpdateUsage(ctx context.Context, id uuid.UUID, usage TenantUsage) error
}

// DocumentRepository defines operations for document persistence
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	GetByHash(ctx context.Context, tenantID uuid.UUID, hash string) (*Document, error)
	List(ctx context.Context, tenantID uuid.UUID, status string, limit, offset int) ([]*Document, int, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Chunk operations
	CreateChunks(ctx context.Context, chunks []*DocumentChunk) error
	GetChunks(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*DocumentChunk, error)
	DeleteChunks(ctx context.Context, documentID uuid.UUID) error
}

// AuditRepository defines operations for the query audit log
type AuditRepository interface {
	Create(ctx context.Context, audit *QueryAudit) error
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*QueryAudit, int, error)
}
