// Package auth provides authentication middleware for API key and JWT-based
// tenant authentication.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/policyassist/rag/internal/repository"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader is the HTTP header for API key authentication
	APIKeyHeader = "X-API-Key"

	// tenantContextKey is the context key for storing tenant info
	tenantContextKey contextKey = "tenant"
)

// TenantInfo holds tenant information extracted from authentication
type TenantInfo struct {
	ID     uuid.UUID
	Name   string
	APIKey string
	Config repository.TenantConfig
}

// APIKeyAuthenticator validates tenant API keys on HTTP requests
type APIKeyAuthenticator struct {
	tenantRepo  repository.TenantRepository
	adminAPIKey string
	jwtManager  *JWTManager
}

// AuthenticatorOption is a functional option for APIKeyAuthenticator
type AuthenticatorOption func(*APIKeyAuthenticator)

// WithJWTManager additionally accepts bearer JWTs issued by the given
// manager as tenant credentials.
func WithJWTManager(m *JWTManager) AuthenticatorOption {
	return func(a *APIKeyAuthenticator) {
		a.jwtManager = m
	}
}

// NewAPIKeyAuthenticator creates a new API key authenticator
func NewAPIKeyAuthenticator(tenantRepo repository.TenantRepository, adminAPIKey string, opts ...AuthenticatorOption) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{
		tenantRepo:  tenantRepo,
		adminAPIKey: adminAPIKey,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Middleware validates the tenant credential and stores tenant info in the
// request context. Requests without a valid API key or JWT get 401.
func (a *APIKeyAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := extractAPIKey(r)
		if !ok {
			http.Error(w, "missing API key", http.StatusUnauthorized)
			return
		}

		tenant, err := a.resolveTenant(r.Context(), credential)
		if err != nil {
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		info := &TenantInfo{
			ID:     tenant.ID,
			Name:   tenant.Name,
			APIKey: tenant.APIKey,
			Config: tenant.Config,
		}
		ctx := context.WithValue(r.Context(), tenantContextKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveTenant looks the credential up as an API key first, then as a JWT.
func (a *APIKeyAuthenticator) resolveTenant(ctx context.Context, credential string) (*repository.Tenant, error) {
	tenant, err := a.tenantRepo.GetByAPIKey(ctx, credential)
	if err == nil {
		return tenant, nil
	}

	if a.jwtManager == nil || strings.Count(credential, ".") != 2 {
		return nil, err
	}

	claims, jwtErr := a.jwtManager.ValidateToken(credential)
	if jwtErr != nil {
		return nil, jwtErr
	}
	tenantID, jwtErr := claims.GetTenantID()
	if jwtErr != nil {
		return nil, jwtErr
	}
	return a.tenantRepo.GetByID(ctx, tenantID)
}

// AdminMiddleware requires the configured admin API key. Used for tenant
// management endpoints.
func (a *APIKeyAuthenticator) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminAPIKey == "" {
			http.Error(w, "admin API key not configured", http.StatusForbidden)
			return
		}

		apiKey, ok := extractAPIKey(r)
		if !ok {
			http.Error(w, "missing API key", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.adminAPIKey)) != 1 {
			http.Error(w, "invalid admin API key", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractAPIKey reads the API key from the X-API-Key header, falling back
// to a bearer token.
func extractAPIKey(r *http.Request) (string, bool) {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key, true
	}

	authz := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(authz, "Bearer "); ok {
		if key := strings.TrimSpace(after); key != "" {
			return key, true
		}
	}

	return "", false
}

// TenantFromContext extracts tenant info from context
func TenantFromContext(ctx context.Context) (*TenantInfo, bool) {
	tenant, ok := ctx.Value(tenantContextKey).(*TenantInfo)
	return tenant, ok
}

// ContextWithTenant stores tenant info in a context. Exposed for tests.
func ContextWithTenant(ctx context.Context, info *TenantInfo) context.Context {
	return context.WithValue(ctx, tenantContextKey, info)
}

// TenantIDFromContext extracts just the tenant ID from context
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	tenant, ok := TenantFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return tenant.ID, true
}
