// Package service implements business logic for tenant management, document
// ingestion, and policy question answering.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/policyassist/rag/internal/config"
	"github.com/policyassist/rag/internal/embedder"
	"github.com/policyassist/rag/internal/repository"
	"github.com/policyassist/rag/internal/vectorstore"
)

// TenantService manages tenants and their retrieval configuration
type TenantService struct {
	repo        repository.TenantRepository
	vectorStore vectorstore.VectorStore
	cfg         *config.Config
	logger      *slog.Logger
}

// NewTenantService creates a new TenantService
func NewTenantService(repo repository.TenantRepository, vectorStore vectorstore.VectorStore, cfg *config.Config, logger *slog.Logger) *TenantService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantService{
		repo:        repo,
		vectorStore: vectorStore,
		cfg:         cfg,
		logger:      logger,
	}
}

// TenantConfigPatch carries partial tenant config updates. Zero values
// leave the existing setting unchanged; pointer fields distinguish
// "unset" from a deliberate zero.
type TenantConfigPatch struct {
	EmbeddingModel string
	LLMModel       string
	TopK           int
	MinScore       float32
	SystemPrompt   string
	RerankStrategy *string
	MMRDiversity   *float64
	ExpandQueries  *bool
	Chunker        *repository.ChunkerConfig
}

// CreateTenantParams holds inputs for CreateTenant
type CreateTenantParams struct {
	// ID is optional; a new UUID is generated when empty.
	ID     string
	Name   string
	Config *TenantConfigPatch
}

// CreateTenant creates a new tenant with default configuration
func (s *TenantService) CreateTenant(ctx context.Context, params CreateTenantParams) (*repository.Tenant, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	tenantConfig := s.defaultTenantConfig()
	if params.Config != nil {
		tenantConfig = applyConfigPatch(tenantConfig, params.Config)
	}
	if err := validateTenantConfig(tenantConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	tenantID := uuid.New()
	if params.ID != "" {
		tenantID, err = uuid.Parse(params.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid tenant ID format", ErrInvalidArgument)
		}
	}

	now := time.Now()
	tenant := &repository.Tenant{
		ID:        tenantID,
		Name:      params.Name,
		APIKey:    apiKey,
		Config:    tenantConfig,
		Usage:     repository.TenantUsage{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	// Create the tenant's vector collection up front. Failure is not
	// fatal; the collection is created lazily on first upsert.
	dimension := embedder.GetModelConfig(tenantConfig.EmbeddingModel).Dimension
	if err := s.vectorStore.CreateCollection(ctx, tenant.ID.String(), dimension); err != nil {
		s.logger.Warn("failed to create vector collection",
			"tenant_id", tenant.ID.String(),
			"error", err)
	}

	return tenant, nil
}

// GetTenant retrieves a tenant by ID
func (s *TenantService) GetTenant(ctx context.Context, id string) (*repository.Tenant, error) {
	tenantID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tenant ID format", ErrInvalidArgument)
	}
	return s.repo.GetByID(ctx, tenantID)
}

// ListTenants lists tenants with pagination
func (s *TenantService) ListTenants(ctx context.Context, pageSize, offset int) ([]*repository.Tenant, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, pageSize, offset)
}

// UpdateTenant updates tenant name and/or configuration
func (s *TenantService) UpdateTenant(ctx context.Context, id, name string, patch *TenantConfigPatch) (*repository.Tenant, error) {
	tenantID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tenant ID format", ErrInvalidArgument)
	}

	tenant, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if name != "" {
		tenant.Name = name
	}
	if patch != nil {
		newConfig := applyConfigPatch(tenant.Config, patch)
		if err := validateTenantConfig(newConfig); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		tenant.Config = newConfig
	}
	tenant.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	return tenant, nil
}

// DeleteTenant deletes a tenant and its vector collection
func (s *TenantService) DeleteTenant(ctx context.Context, id string) error {
	tenantID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: invalid tenant ID format", ErrInvalidArgument)
	}

	if err := s.vectorStore.DeleteCollection(ctx, tenantID.String()); err != nil {
		s.logger.Warn("failed to delete vector collection",
			"tenant_id", tenantID.String(),
			"error", err)
	}

	return s.repo.Delete(ctx, tenantID)
}

// RegenerateAPIKey generates and stores a new API key for a tenant
func (s *TenantService) RegenerateAPIKey(ctx context.Context, id string) (string, error) {
	tenantID, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: invalid tenant ID format", ErrInvalidArgument)
	}

	if _, err := s.repo.GetByID(ctx, tenantID); err != nil {
		return "", err
	}

	newAPIKey, err := generateAPIKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}

	if err := s.repo.UpdateAPIKey(ctx, tenantID, newAPIKey); err != nil {
		return "", fmt.Errorf("failed to update API key: %w", err)
	}

	return newAPIKey, nil
}

// generateAPIKey generates a new API key with format "rag_" + 32 random hex chars
func generateAPIKey() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "rag_" + hex.EncodeToString(bytes), nil
}

// defaultTenantConfig builds a tenant config from server defaults
func (s *TenantService) defaultTenantConfig() repository.TenantConfig {
	modelCfg := embedder.GetModelConfig(s.cfg.OllamaEmbeddingModel)

	return repository.TenantConfig{
		EmbeddingModel: s.cfg.OllamaEmbeddingModel,
		LLMModel:       s.cfg.OllamaLLMModel,
		Chunker: repository.ChunkerConfig{
			Method:     s.cfg.DefaultChunkMethod,
			TargetSize: modelCfg.TargetChunkWords,
			MaxSize:    modelCfg.MaxChunkWords,
			Overlap:    s.cfg.DefaultChunkOverlap,
		},
		TopK:           s.cfg.DefaultTopK,
		MinScore:       s.cfg.DefaultMinScore,
		SystemPrompt:   defaultSystemPrompt,
		RerankStrategy: s.cfg.DefaultRerankStrategy,
		MMRDiversity:   s.cfg.DefaultMMRDiversity,
		ExpandQueries:  s.cfg.DefaultExpandQueries,
	}
}

// applyConfigPatch merges a patch onto an existing config
func applyConfigPatch(existing repository.TenantConfig, patch *TenantConfigPatch) repository.TenantConfig {
	if patch.EmbeddingModel != "" {
		existing.EmbeddingModel = patch.EmbeddingModel
		// Chunk limits follow the embedding model's context window
		modelCfg := embedder.GetModelConfig(patch.EmbeddingModel)
		existing.Chunker.TargetSize = modelCfg.TargetChunkWords
		existing.Chunker.MaxSize = modelCfg.MaxChunkWords
	}
	if patch.LLMModel != "" {
		existing.LLMModel = patch.LLMModel
	}
	if patch.TopK > 0 {
		existing.TopK = patch.TopK
	}
	if patch.MinScore > 0 {
		existing.MinScore = patch.MinScore
	}
	if patch.SystemPrompt != "" {
		existing.SystemPrompt = patch.SystemPrompt
	}
	if patch.RerankStrategy != nil {
		existing.RerankStrategy = *patch.RerankStrategy
	}
	if patch.MMRDiversity != nil {
		existing.MMRDiversity = *patch.MMRDiversity
	}
	if patch.ExpandQueries != nil {
		existing.ExpandQueries = *patch.ExpandQueries
	}

	if patch.Chunker != nil {
		if patch.Chunker.Method != "" {
			existing.Chunker.Method = patch.Chunker.Method
		}
		if patch.Chunker.TargetSize > 0 {
			existing.Chunker.TargetSize = patch.Chunker.TargetSize
		}
		if patch.Chunker.MaxSize > 0 {
			existing.Chunker.MaxSize = patch.Chunker.MaxSize
		}
		if patch.Chunker.Overlap > 0 {
			existing.Chunker.Overlap = patch.Chunker.Overlap
		}
	}

	return existing
}

// validateTenantConfig validates the tenant configuration
func validateTenantConfig(config repository.TenantConfig) error {
	if config.EmbeddingModel == "" {
		return fmt.Errorf("embedding_model is required")
	}
	if config.LLMModel == "" {
		return fmt.Errorf("llm_model is required")
	}

	switch config.Chunker.Method {
	case "", "fixed", "sentence":
	default:
		return fmt.Errorf("invalid chunker method: %s", config.Chunker.Method)
	}
	if config.Chunker.TargetSize < 0 {
		return fmt.Errorf("chunker target_size cannot be negative")
	}
	if config.Chunker.MaxSize < 0 {
		return fmt.Errorf("chunker max_size cannot be negative")
	}
	if config.Chunker.TargetSize > 0 && config.Chunker.MaxSize > 0 && config.Chunker.TargetSize > config.Chunker.MaxSize {
		return fmt.Errorf("chunker target_size cannot be greater than max_size")
	}
	if config.Chunker.Overlap < 0 {
		return fmt.Errorf("chunker overlap cannot be negative")
	}

	if config.TopK < 0 {
		return fmt.Errorf("top_k cannot be negative")
	}
	if config.MinScore < 0 || config.MinScore > 1 {
		return fmt.Errorf("min_score must be between 0 and 1")
	}

	switch config.RerankStrategy {
	case "", "llm", "simple", "mmr":
	default:
		return fmt.Errorf("invalid rerank_strategy: %s (valid: llm, simple, mmr)", config.RerankStrategy)
	}
	if config.MMRDiversity < 0 || config.MMRDiversity > 1 {
		return fmt.Errorf("mmr_diversity must be between 0 and 1")
	}

	return nil
}

const defaultSystemPrompt = `You are a policy and compliance assistant. Answer questions using ONLY the provided policy documents.

IMPORTANT: Be brief and direct. Most answers should be 2-5 sentences.

Rules:
- Give the direct answer first, then brief supporting details only if needed
- Cite the document a statement comes from when possible
- If the documents don't cover the topic, say "The policy documents don't cover this."
- Never invent policy requirements not in the provided documents`
