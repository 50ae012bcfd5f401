package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/policyassist/rag/internal/repository"
)

// AuditRepo implements repository.AuditRepository
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new audit repository
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Create records a query audit entry
func (r *AuditRepo) Create(ctx context.Context, audit *repository.QueryAudit) error {
	query := `
		INSERT INTO query_audits (id, tenant_id, session_id, query, answer, rerank_strategy, chunks_used, retrieval_ms, generation_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		audit.ID, audit.TenantID, audit.SessionID, audit.Query, audit.Answer,
		audit.RerankStrategy, audit.ChunksUsed, audit.RetrievalMS, audit.GenerationMS,
		audit.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// List retrieves audit entries for a tenant with pagination, newest first
func (r *AuditRepo) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*repository.QueryAudit, int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM query_audits WHERE tenant_id = $1`, tenantID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `
		SELECT id, tenant_id, session_id, query, answer, rerank_strategy, chunks_used, retrieval_ms, generation_ms, created_at
		FROM query_audits
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var audits []*repository.QueryAudit
	for rows.Next() {
		var a repository.QueryAudit
		if err := rows.Scan(&a.ID, &a.TenantID, &a.SessionID, &a.Query, &a.Answer,
			&a.RerankStrategy, &a.ChunksUsed, &a.RetrievalMS, &a.GenerationMS,
			&a.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		audits = append(audits, &a)
	}

	return audits, total, nil
}

// Ensure AuditRepo implements the interface
var _ repository.AuditRepository = (*AuditRepo)(nil)
