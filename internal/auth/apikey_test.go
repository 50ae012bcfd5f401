package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/policyassist/rag/internal/repository"
)

// keyOnlyRepo resolves tenants by API key; everything else is unused.
type keyOnlyRepo struct {
	tenant *repository.Tenant
}

func (r *keyOnlyRepo) GetByAPIKey(_ context.Context, apiKey string) (*repository.Tenant, error) {
	if r.tenant != nil && r.tenant.APIKey == apiKey {
		return r.tenant, nil
	}
	return nil, repository.ErrNotFound
}

func (r *keyOnlyRepo) Create(context.Context, *repository.Tenant) error { return nil }
func (r *keyOnlyRepo) GetByID(context.Context, uuid.UUID) (*repository.Tenant, error) {
	return nil, repository.ErrNotFound
}
func (r *keyOnlyRepo) List(context.Context, int, int) ([]*repository.Tenant, int, error) {
	return nil, 0, nil
}
func (r *keyOnlyRepo) Update(context.Context, *repository.Tenant) error          { return nil }
func (r *keyOnlyRepo) Delete(context.Context, uuid.UUID) error                   { return nil }
func (r *keyOnlyRepo) UpdateAPIKey(context.Context, uuid.UUID, string) error     { return nil }
func (r *keyOnlyRepo) UpdateUsage(context.Context, uuid.UUID, repository.TenantUsage) error {
	return nil
}

var _ repository.TenantRepository = (*keyOnlyRepo)(nil)

func echoTenantHandler(t *testing.T, want uuid.UUID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := TenantFromContext(r.Context())
		if !ok {
			t.Error("tenant missing from context")
			return
		}
		if info.ID != want {
			t.Errorf("expected tenant %s in context, got %s", want, info.ID)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_ValidKey(t *testing.T) {
	tenant := &repository.Tenant{ID: uuid.New(), Name: "acme", APIKey: "rag_valid"}
	a := NewAPIKeyAuthenticator(&keyOnlyRepo{tenant: tenant}, "")
	handler := a.Middleware(echoTenantHandler(t, tenant.ID))

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set(APIKeyHeader, "rag_valid") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer rag_valid") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		set(req)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	}
}

func TestMiddleware_RejectsMissingAndInvalidKeys(t *testing.T) {
	tenant := &repository.Tenant{ID: uuid.New(), APIKey: "rag_valid"}
	a := NewAPIKeyAuthenticator(&keyOnlyRepo{tenant: tenant}, "")
	handler := a.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not run")
	}))

	cases := []func(*http.Request){
		func(*http.Request) {},
		func(r *http.Request) { r.Header.Set(APIKeyHeader, "rag_wrong") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") },
		func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
	}
	for i, set := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		set(req)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("case %d: expected 401, got %d", i, rec.Code)
		}
	}
}

func TestMiddleware_JWTCredential(t *testing.T) {
	tenant := &repository.Tenant{ID: uuid.New(), Name: "acme", APIKey: "rag_valid"}
	manager := NewJWTManager(DefaultJWTConfig("test-secret"))
	a := NewAPIKeyAuthenticator(&idAndKeyRepo{keyOnlyRepo{tenant: tenant}}, "", WithJWTManager(manager))
	handler := a.Middleware(echoTenantHandler(t, tenant.ID))

	token, err := manager.GenerateToken(tenant.ID, tenant.Name)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/query", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for valid JWT, got %d", rec.Code)
	}

	// A forged token is rejected.
	other := NewJWTManager(DefaultJWTConfig("other-secret"))
	forged, _ := other.GenerateToken(tenant.ID, tenant.Name)
	req = httptest.NewRequest(http.MethodGet, "/v1/query", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for forged JWT, got %d", rec.Code)
	}
}

// idAndKeyRepo extends keyOnlyRepo with ID lookup for JWT resolution.
type idAndKeyRepo struct {
	keyOnlyRepo
}

func (r *idAndKeyRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.Tenant, error) {
	if r.tenant != nil && r.tenant.ID == id {
		return r.tenant, nil
	}
	return nil, repository.ErrNotFound
}

func TestAdminMiddleware(t *testing.T) {
	a := NewAPIKeyAuthenticator(&keyOnlyRepo{}, "admin-key")
	ran := false
	handler := a.AdminMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		ran = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/tenants", nil)
	req.Header.Set(APIKeyHeader, "admin-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !ran {
		t.Errorf("expected admin request to pass, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/tenants", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for wrong admin key, got %d", rec.Code)
	}
}

func TestAdminMiddleware_Unconfigured(t *testing.T) {
	a := NewAPIKeyAuthenticator(&keyOnlyRepo{}, "")
	handler := a.AdminMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/tenants", nil)
	req.Header.Set(APIKeyHeader, "anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 when admin key unconfigured, got %d", rec.Code)
	}
}

func TestTenantFromContext(t *testing.T) {
	info := &TenantInfo{ID: uuid.New(), Name: "acme"}
	ctx := ContextWithTenant(context.Background(), info)

	got, ok := TenantFromContext(ctx)
	if !ok || got.ID != info.ID {
		t.Errorf("expected tenant info back, got %+v (%v)", got, ok)
	}

	id, ok := TenantIDFromContext(ctx)
	if !ok || id != info.ID {
		t.Errorf("expected tenant ID back, got %s (%v)", id, ok)
	}

	if _, ok := TenantFromContext(context.Background()); ok {
		t.Error("empty context should have no tenant")
	}
}
