package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/policyassist/rag/internal/auth"
	"github.com/policyassist/rag/internal/repository"
	"github.com/policyassist/rag/internal/service"
)

type handlers struct {
	tenants   *service.TenantService
	documents *service.DocumentService
	rag       *service.RAGService
	audits    repository.AuditRepository
	jwt       *auth.JWTManager
	logger    *slog.Logger
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

// ----------------------------------------------------------------------------
// Tenants
// ----------------------------------------------------------------------------

type tenantConfigRequest struct {
	EmbeddingModel string                    `json:"embedding_model"`
	LLMModel       string                    `json:"llm_model"`
	TopK           int                       `json:"top_k"`
	MinScore       float32                   `json:"min_score"`
	SystemPrompt   string                    `json:"system_prompt"`
	RerankStrategy *string                   `json:"rerank_strategy"`
	MMRDiversity   *float64                  `json:"mmr_diversity"`
	ExpandQueries  *bool                     `json:"expand_queries"`
	Chunker        *repository.ChunkerConfig `json:"chunker"`
}

func (r *tenantConfigRequest) toPatch() *service.TenantConfigPatch {
	if r == nil {
		return nil
	}
	return &service.TenantConfigPatch{
		EmbeddingModel: r.EmbeddingModel,
		LLMModel:       r.LLMModel,
		TopK:           r.TopK,
		MinScore:       r.MinScore,
		SystemPrompt:   r.SystemPrompt,
		RerankStrategy: r.RerankStrategy,
		MMRDiversity:   r.MMRDiversity,
		ExpandQueries:  r.ExpandQueries,
		Chunker:        r.Chunker,
	}
}

type tenantResponse struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	APIKey    string                  `json:"api_key,omitempty"`
	Config    repository.TenantConfig `json:"config"`
	Usage     repository.TenantUsage  `json:"usage"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

func toTenantResponse(t *repository.Tenant, includeKey bool) tenantResponse {
	resp := tenantResponse{
		ID:        t.ID.String(),
		Name:      t.Name,
		Config:    t.Config,
		Usage:     t.Usage,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if includeKey {
		resp.APIKey = t.APIKey
	}
	return resp
}

func (h *handlers) createTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string               `json:"id"`
		Name   string               `json:"name"`
		Config *tenantConfigRequest `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body", service.ErrInvalidArgument))
		return
	}

	tenant, err := h.tenants.CreateTenant(r.Context(), service.CreateTenantParams{
		ID:     req.ID,
		Name:   req.Name,
		Config: req.Config.toPatch(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// The API key is shown once, on creation
	writeJSON(w, http.StatusCreated, toTenantResponse(tenant, true))
}

func (h *handlers) getTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.tenants.GetTenant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(tenant, false))
}

func (h *handlers) listTenants(w http.ResponseWriter, r *http.Request) {
	pageSize := queryInt(r, "page_size", 20)
	offset := queryInt(r, "offset", 0)

	tenants, total, err := h.tenants.ListTenants(r.Context(), pageSize, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]tenantResponse, len(tenants))
	for i, t := range tenants {
		items[i] = toTenantResponse(t, false)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenants": items,
		"total":   total,
	})
}

func (h *handlers) updateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string               `json:"name"`
		Config *tenantConfigRequest `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body", service.ErrInvalidArgument))
		return
	}

	tenant, err := h.tenants.UpdateTenant(r.Context(), chi.URLParam(r, "id"), req.Name, req.Config.toPatch())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(tenant, false))
}

func (h *handlers) deleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.tenants.DeleteTenant(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *handlers) regenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	apiKey, err := h.tenants.RegenerateAPIKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"api_key": apiKey})
}

// ----------------------------------------------------------------------------
// Documents
// ----------------------------------------------------------------------------

type documentResponse struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Source       string            `json:"source"`
	Title        string            `json:"title"`
	ContentHash  string            `json:"content_hash"`
	ChunkCount   int               `json:"chunk_count"`
	Status       string            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func toDocumentResponse(d *repository.Document) documentResponse {
	return documentResponse{
		ID:           d.ID.String(),
		TenantID:     d.TenantID.String(),
		Source:       d.Source,
		Title:        d.Title,
		ContentHash:  d.ContentHash,
		ChunkCount:   d.ChunkCount,
		Status:       d.Status,
		ErrorMessage: d.ErrorMessage,
		Metadata:     d.Metadata,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (h *handlers) ingestDocument(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing tenant context"})
		return
	}

	var req struct {
		Title    string            `json:"title"`
		Source   string            `json:"source"`
		Content  string            `json:"content"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body", service.ErrInvalidArgument))
		return
	}

	result, err := h.documents.Ingest(r.Context(), service.IngestParams{
		TenantID: tenant.ID.String(),
		Title:    req.Title,
		Source:   req.Source,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"document_id": result.DocumentID,
		"status":      result.Status,
		"duplicate":   result.Duplicate,
	})
}

func (h *handlers) getDocument(w http.ResponseWriter, r *http.Request) {
	tenant, _ := auth.TenantFromContext(r.Context())

	doc, err := h.documents.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if tenant == nil || doc.TenantID != tenant.ID {
		writeError(w, repository.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *handlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing tenant context"})
		return
	}

	docs, total, err := h.documents.ListDocuments(r.Context(),
		tenant.ID.String(),
		r.URL.Query().Get("status"),
		queryInt(r, "page_size", 20),
		queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]documentResponse, len(docs))
	for i, d := range docs {
		items[i] = toDocumentResponse(d)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents": items,
		"total":     total,
	})
}

func (h *handlers) getDocumentChunks(w http.ResponseWriter, r *http.Request) {
	tenant, _ := auth.TenantFromContext(r.Context())

	doc, err := h.documents.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if tenant == nil || doc.TenantID != tenant.ID {
		writeError(w, repository.ErrNotFound)
		return
	}

	chunks, err := h.documents.GetChunks(r.Context(), doc.ID.String(),
		queryInt(r, "page_size", 20),
		queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}

	type chunkResponse struct {
		ID         string            `json:"id"`
		ChunkIndex int               `json:"chunk_index"`
		Content    string            `json:"content"`
		Metadata   map[string]string `json:"metadata,omitempty"`
	}
	items := make([]chunkResponse, len(chunks))
	for i, c := range chunks {
		items[i] = chunkResponse{
			ID:         c.ID.String(),
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Metadata:   c.Metadata,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"chunks": items})
}

func (h *handlers) deleteDocument(w http.ResponseWriter, r *http.Request) {
	tenant, _ := auth.TenantFromContext(r.Context())

	doc, err := h.documents.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if tenant == nil || doc.TenantID != tenant.ID {
		writeError(w, repository.ErrNotFound)
		return
	}

	if err := h.documents.DeleteDocument(r.Context(), doc.ID.String()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ----------------------------------------------------------------------------
// Query
// ----------------------------------------------------------------------------

type queryRequest struct {
	Query          string   `json:"query"`
	SessionID      string   `json:"session_id"`
	TopK           int      `json:"top_k"`
	MinScore       float32  `json:"min_score"`
	RerankStrategy *string  `json:"rerank_strategy"`
	ExpandQuery    *bool    `json:"expand_query"`
	DocumentIDs    []string `json:"document_ids"`
	SystemPrompt   string   `json:"system_prompt"`
	Temperature    float32  `json:"temperature"`
	MaxTokens      int      `json:"max_tokens"`
}

func (req *queryRequest) toParams(tenantID string) service.QueryParams {
	return service.QueryParams{
		TenantID:  tenantID,
		Query:     req.Query,
		SessionID: req.SessionID,
		Options: &service.QueryOverrides{
			TopK:           req.TopK,
			MinScore:       req.MinScore,
			RerankStrategy: req.RerankStrategy,
			ExpandQuery:    req.ExpandQuery,
			DocumentIDs:    req.DocumentIDs,
			SystemPrompt:   req.SystemPrompt,
			Temperature:    req.Temperature,
			MaxTokens:      req.MaxTokens,
		},
	}
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing tenant context"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body", service.ErrInvalidArgument))
		return
	}

	resp, err := h.rag.Query(r.Context(), req.toParams(tenant.ID.String()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) retrieve(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing tenant context"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body", service.ErrInvalidArgument))
		return
	}

	chunks, meta, err := h.rag.Retrieve(r.Context(), req.toParams(tenant.ID.String()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunks":   chunks,
		"metadata": meta,
	})
}

// queryStream streams the answer as server-sent events: source events
// first, then token events, then a final metadata event.
func (h *handlers) queryStream(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing tenant context"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body", service.ErrInvalidArgument))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	events, err := h.rag.QueryStream(r.Context(), req.toParams(tenant.ID.String()))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeEvent := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			writeEvent("error", map[string]string{"message": ev.Err.Error()})
			return
		case ev.Source != nil:
			writeEvent("source", ev.Source)
		case ev.Metadata != nil:
			writeEvent("metadata", ev.Metadata)
		case ev.Token != "":
			writeEvent("token", map[string]string{"token": ev.Token})
		}
	}
}

// ----------------------------------------------------------------------------
// Auth
// ----------------------------------------------------------------------------

// issueToken exchanges a valid API key for a short-lived bearer JWT.
func (h *handlers) issueToken(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing tenant context"})
		return
	}
	if h.jwt == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "token auth not configured"})
		return
	}

	token, err := h.jwt.GenerateToken(tenant.ID, tenant.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	expiry, err := h.jwt.TokenExpiry(token)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiry,
	})
}

// ----------------------------------------------------------------------------
// Audits
// ----------------------------------------------------------------------------

func (h *handlers) listAudits(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing tenant context"})
		return
	}
	if h.audits == nil {
		writeJSON(w, http.StatusOK, map[string]any{"audits": []any{}, "total": 0})
		return
	}

	audits, total, err := h.audits.List(r.Context(), tenant.ID,
		queryInt(r, "page_size", 20),
		queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}

	type auditResponse struct {
		ID             string    `json:"id"`
		SessionID      string    `json:"session_id,omitempty"`
		Query          string    `json:"query"`
		Answer         string    `json:"answer"`
		RerankStrategy string    `json:"rerank_strategy,omitempty"`
		ChunksUsed     int       `json:"chunks_used"`
		RetrievalMS    int64     `json:"retrieval_ms"`
		GenerationMS   int64     `json:"generation_ms"`
		CreatedAt      time.Time `json:"created_at"`
	}
	items := make([]auditResponse, len(audits))
	for i, a := range audits {
		items[i] = auditResponse{
			ID:             a.ID.String(),
			SessionID:      a.SessionID,
			Query:          a.Query,
			Answer:         a.Answer,
			RerankStrategy: a.RerankStrategy,
			ChunksUsed:     a.ChunksUsed,
			RetrievalMS:    a.RetrievalMS,
			GenerationMS:   a.GenerationMS,
			CreatedAt:      a.CreatedAt,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audits": items,
		"total":  total,
	})
}
