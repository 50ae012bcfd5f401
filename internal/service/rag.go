package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/policyassist/rag/internal/llm"
	"github.com/policyassist/rag/internal/memory"
	"github.com/policyassist/rag/internal/reranker"
	"github.com/policyassist/rag/internal/repository"
	"github.com/policyassist/rag/internal/retrieval"
)

// RAGService answers policy questions grounded in retrieved documents
type RAGService struct {
	tenantRepo repository.TenantRepository
	auditRepo  repository.AuditRepository
	pipeline   *retrieval.Pipeline
	llmClient  llm.LLM
	memory     *memory.Store
	logger     *slog.Logger
}

// RAGServiceOption is a functional option for configuring RAGService.
type RAGServiceOption func(*RAGService)

// WithAuditRepo enables query audit logging.
func WithAuditRepo(repo repository.AuditRepository) RAGServiceOption {
	return func(s *RAGService) {
		s.auditRepo = repo
	}
}

// WithMemory replaces the default conversation store.
func WithMemory(store *memory.Store) RAGServiceOption {
	return func(s *RAGService) {
		s.memory = store
	}
}

// WithRAGLogger sets the logger.
func WithRAGLogger(logger *slog.Logger) RAGServiceOption {
	return func(s *RAGService) {
		s.logger = logger
	}
}

// NewRAGService creates a new RAGService
func NewRAGService(
	tenantRepo repository.TenantRepository,
	pipeline *retrieval.Pipeline,
	llmClient llm.LLM,
	opts ...RAGServiceOption,
) *RAGService {
	s := &RAGService{
		tenantRepo: tenantRepo,
		pipeline:   pipeline,
		llmClient:  llmClient,
		memory:     memory.DefaultStore(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// QueryParams holds inputs for Query and QueryStream
type QueryParams struct {
	TenantID  string
	Query     string
	SessionID string
	Options   *QueryOverrides
}

// QueryOverrides are per-request overrides of the tenant's retrieval
// and generation configuration. Zero values fall back to tenant config.
type QueryOverrides struct {
	TopK           int
	MinScore       float32
	RerankStrategy *string
	ExpandQuery    *bool
	DocumentIDs    []string
	SystemPrompt   string
	Temperature    float32
	MaxTokens      int
}

// RetrievedChunk is a source chunk returned alongside an answer
type RetrievedChunk struct {
	DocumentID  string            `json:"document_id"`
	ChunkID     string            `json:"chunk_id"`
	Content     string            `json:"content"`
	Score       float32           `json:"score"`
	RerankScore float64           `json:"rerank_score,omitempty"`
	Source      string            `json:"source,omitempty"`
	Title       string            `json:"title,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// QueryMetadata reports timing and sizing for one answered query
type QueryMetadata struct {
	RetrievalTimeMs  int64  `json:"retrieval_time_ms"`
	GenerationTimeMs int64  `json:"generation_time_ms"`
	TotalTimeMs      int64  `json:"total_time_ms"`
	ChunksRetrieved  int    `json:"chunks_retrieved"`
	Model            string `json:"model"`
	RerankStrategy   string `json:"rerank_strategy,omitempty"`
}

// QueryResponse is the full answer to a policy question
type QueryResponse struct {
	Answer   string           `json:"answer"`
	Sources  []RetrievedChunk `json:"sources"`
	Metadata QueryMetadata    `json:"metadata"`
}

// StreamEvent is one event in a streaming answer. Exactly one field is
// set per event: a source chunk, a generated token, the final metadata,
// or a terminal error.
type StreamEvent struct {
	Source   *RetrievedChunk
	Token    string
	Metadata *QueryMetadata
	Err      error
}

// Query retrieves context and generates a grounded answer
func (s *RAGService) Query(ctx context.Context, params QueryParams) (*QueryResponse, error) {
	startTime := time.Now()

	tenant, options, err := s.resolve(ctx, params)
	if err != nil {
		return nil, err
	}

	retrievalStart := time.Now()
	scored, err := s.pipeline.Retrieve(ctx, tenant.ID.String(), params.Query, options.retrieval)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	retrievalTime := time.Since(retrievalStart)

	sources := toRetrievedChunks(scored)

	var history []memory.Message
	if params.SessionID != "" {
		history = s.memory.GetRecentHistory(params.SessionID, 10)
		s.memory.AddUserMessage(params.SessionID, params.Query)
	}

	generationStart := time.Now()
	prompt := buildPrompt(options.systemPrompt, sources, params.Query, history)

	answer, err := s.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:        options.model,
		SystemPrompt: options.systemPrompt,
		Temperature:  options.temperature,
		MaxTokens:    options.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	generationTime := time.Since(generationStart)

	if params.SessionID != "" {
		s.memory.AddAssistantMessage(params.SessionID, answer)
	}

	meta := QueryMetadata{
		RetrievalTimeMs:  retrievalTime.Milliseconds(),
		GenerationTimeMs: generationTime.Milliseconds(),
		TotalTimeMs:      time.Since(startTime).Milliseconds(),
		ChunksRetrieved:  len(sources),
		Model:            options.model,
		RerankStrategy:   string(options.retrieval.Strategy),
	}

	s.writeAudit(tenant.ID, params, answer, meta)

	return &QueryResponse{
		Answer:   answer,
		Sources:  sources,
		Metadata: meta,
	}, nil
}

// QueryStream retrieves context and streams the generated answer over a
// channel. The channel delivers source events first, then tokens, then
// final metadata, and closes. Cancel ctx to stop generation.
func (s *RAGService) QueryStream(ctx context.Context, params QueryParams) (<-chan StreamEvent, error) {
	startTime := time.Now()

	tenant, options, err := s.resolve(ctx, params)
	if err != nil {
		return nil, err
	}

	retrievalStart := time.Now()
	scored, err := s.pipeline.Retrieve(ctx, tenant.ID.String(), params.Query, options.retrieval)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	retrievalTime := time.Since(retrievalStart)

	sources := toRetrievedChunks(scored)

	var history []memory.Message
	if params.SessionID != "" {
		history = s.memory.GetRecentHistory(params.SessionID, 10)
		s.memory.AddUserMessage(params.SessionID, params.Query)
	}

	generationStart := time.Now()
	prompt := buildPrompt(options.systemPrompt, sources, params.Query, history)

	tokenChan, err := s.llmClient.GenerateStream(ctx, prompt, llm.GenerateOptions{
		Model:        options.model,
		SystemPrompt: options.systemPrompt,
		Temperature:  options.temperature,
		MaxTokens:    options.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start streaming: %w", err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		for i := range sources {
			select {
			case events <- StreamEvent{Source: &sources[i]}:
			case <-ctx.Done():
				return
			}
		}

		var fullResponse strings.Builder
		for chunk := range tokenChan {
			if chunk.Error != nil {
				select {
				case events <- StreamEvent{Err: chunk.Error}:
				case <-ctx.Done():
				}
				return
			}
			if chunk.Token != "" {
				fullResponse.WriteString(chunk.Token)
				select {
				case events <- StreamEvent{Token: chunk.Token}:
				case <-ctx.Done():
					return
				}
			}
		}

		answer := fullResponse.String()
		if params.SessionID != "" {
			s.memory.AddAssistantMessage(params.SessionID, answer)
		}

		meta := QueryMetadata{
			RetrievalTimeMs:  retrievalTime.Milliseconds(),
			GenerationTimeMs: time.Since(generationStart).Milliseconds(),
			TotalTimeMs:      time.Since(startTime).Milliseconds(),
			ChunksRetrieved:  len(sources),
			Model:            options.model,
			RerankStrategy:   string(options.retrieval.Strategy),
		}

		s.writeAudit(tenant.ID, params, answer, meta)

		select {
		case events <- StreamEvent{Metadata: &meta}:
		case <-ctx.Done():
		}
	}()

	return events, nil
}

// Retrieve runs retrieval only, without answer generation
func (s *RAGService) Retrieve(ctx context.Context, params QueryParams) ([]RetrievedChunk, QueryMetadata, error) {
	startTime := time.Now()

	tenant, options, err := s.resolve(ctx, params)
	if err != nil {
		return nil, QueryMetadata{}, err
	}

	scored, err := s.pipeline.Retrieve(ctx, tenant.ID.String(), params.Query, options.retrieval)
	if err != nil {
		return nil, QueryMetadata{}, fmt.Errorf("retrieval failed: %w", err)
	}

	sources := toRetrievedChunks(scored)
	meta := QueryMetadata{
		RetrievalTimeMs: time.Since(startTime).Milliseconds(),
		TotalTimeMs:     time.Since(startTime).Milliseconds(),
		ChunksRetrieved: len(sources),
		RerankStrategy:  string(options.retrieval.Strategy),
	}

	return sources, meta, nil
}

// resolvedOptions holds the per-query configuration after merging
// tenant config with request overrides
type resolvedOptions struct {
	retrieval    retrieval.Options
	systemPrompt string
	temperature  float32
	maxTokens    int
	model        string
}

func (s *RAGService) resolve(ctx context.Context, params QueryParams) (*repository.Tenant, resolvedOptions, error) {
	var zero resolvedOptions

	if params.TenantID == "" {
		return nil, zero, fmt.Errorf("%w: tenant_id is required", ErrInvalidArgument)
	}
	if params.Query == "" {
		return nil, zero, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}

	tenantID, err := uuid.Parse(params.TenantID)
	if err != nil {
		return nil, zero, fmt.Errorf("%w: invalid tenant_id format", ErrInvalidArgument)
	}

	tenant, err := s.tenantRepo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, zero, err
	}

	options := resolvedOptions{
		retrieval: retrieval.Options{
			TopK:        tenant.Config.TopK,
			MinScore:    tenant.Config.MinScore,
			Strategy:    reranker.Strategy(tenant.Config.RerankStrategy),
			ExpandQuery: tenant.Config.ExpandQueries,
		},
		systemPrompt: tenant.Config.SystemPrompt,
		temperature:  0.3,
		maxTokens:    2048,
		model:        tenant.Config.LLMModel,
	}

	if options.retrieval.TopK <= 0 {
		options.retrieval.TopK = 4
	}
	if options.retrieval.MinScore <= 0 {
		options.retrieval.MinScore = 0.35
	}
	if options.systemPrompt == "" {
		options.systemPrompt = defaultSystemPrompt
	}

	if opts := params.Options; opts != nil {
		if opts.TopK > 0 {
			options.retrieval.TopK = opts.TopK
		}
		if opts.MinScore > 0 {
			options.retrieval.MinScore = opts.MinScore
		}
		if opts.RerankStrategy != nil {
			options.retrieval.Strategy = reranker.Strategy(*opts.RerankStrategy)
		}
		if opts.ExpandQuery != nil {
			options.retrieval.ExpandQuery = *opts.ExpandQuery
		}
		if len(opts.DocumentIDs) > 0 {
			options.retrieval.DocumentIDs = opts.DocumentIDs
		}
		if opts.SystemPrompt != "" {
			options.systemPrompt = opts.SystemPrompt
		}
		if opts.Temperature > 0 {
			options.temperature = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			options.maxTokens = opts.MaxTokens
		}
	}

	return tenant, options, nil
}

// writeAudit records the answered query, best-effort
func (s *RAGService) writeAudit(tenantID uuid.UUID, params QueryParams, answer string, meta QueryMetadata) {
	if s.auditRepo == nil {
		return
	}

	audit := &repository.QueryAudit{
		ID:             uuid.New(),
		TenantID:       tenantID,
		SessionID:      params.SessionID,
		Query:          params.Query,
		Answer:         answer,
		RerankStrategy: meta.RerankStrategy,
		ChunksUsed:     meta.ChunksRetrieved,
		RetrievalMS:    meta.RetrievalTimeMs,
		GenerationMS:   meta.GenerationTimeMs,
		CreatedAt:      time.Now(),
	}

	// The request context may already be done; audit writes get their
	// own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Create(ctx, audit); err != nil {
		s.logger.Warn("failed to write query audit",
			"tenant_id", tenantID.String(),
			"error", err)
	}
}

func toRetrievedChunks(scored []reranker.ScoredResult) []RetrievedChunk {
	sources := make([]RetrievedChunk, len(scored))
	for i, r := range scored {
		sources[i] = RetrievedChunk{
			DocumentID:  r.DocumentID,
			ChunkID:     r.ID,
			Content:     r.Content,
			Score:       r.Score,
			RerankScore: r.RerankScore,
			Source:      r.Metadata["source"],
			Title:       r.Metadata["title"],
			Metadata:    r.Metadata,
		}
	}
	return sources
}

// buildPrompt constructs the grounded prompt: context documents, then
// conversation history, then the question.
func buildPrompt(systemPrompt string, chunks []RetrievedChunk, query string, history []memory.Message) string {
	var sb strings.Builder

	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("## Conversation History\n")
		sb.WriteString("(Previous exchanges in this session for context)\n\n")
		sb.WriteString(memory.FormatForPrompt(history))
		sb.WriteString("\n")
	}

	// Relevance scores are omitted to avoid biasing the model
	sb.WriteString("## Context Documents\n\n")
	for i, chunk := range chunks {
		sb.WriteString(fmt.Sprintf("[Doc %d]", i+1))
		if chunk.Title != "" {
			sb.WriteString(fmt.Sprintf(" (Title: %s)", chunk.Title))
		}
		if chunk.Source != "" {
			sb.WriteString(fmt.Sprintf(" (Source: %s)", chunk.Source))
		}
		sb.WriteString("\n")
		sb.WriteString(chunk.Content)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("## Answer (be brief and direct)\n")

	return sb.String()
}
