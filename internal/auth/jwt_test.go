package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJWT_RoundTrip(t *testing.T) {
	manager := NewJWTManager(DefaultJWTConfig("test-secret"))
	tenantID := uuid.New()

	token, err := manager.GenerateToken(tenantID, "acme")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.TenantID != tenantID.String() || claims.TenantName != "acme" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	gotID, err := claims.GetTenantID()
	if err != nil || gotID != tenantID {
		t.Errorf("expected tenant ID %s, got %s (%v)", tenantID, gotID, err)
	}
}

func TestJWT_WrongSecret(t *testing.T) {
	manager := NewJWTManager(DefaultJWTConfig("secret-a"))
	other := NewJWTManager(DefaultJWTConfig("secret-b"))

	token, err := manager.GenerateToken(uuid.New(), "acme")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWT_Expired(t *testing.T) {
	manager := NewJWTManager(DefaultJWTConfig("test-secret"))

	token, err := manager.GenerateTokenWithExpiry(uuid.New(), "acme", -time.Minute)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := manager.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
	if !manager.IsTokenExpired(token) {
		t.Error("expected token to report expired")
	}
}

func TestJWT_RefreshExpiredToken(t *testing.T) {
	manager := NewJWTManager(DefaultJWTConfig("test-secret"))
	tenantID := uuid.New()

	expired, err := manager.GenerateTokenWithExpiry(tenantID, "acme", -time.Minute)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	refreshed, err := manager.RefreshToken(expired)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	claims, err := manager.ValidateToken(refreshed)
	if err != nil {
		t.Fatalf("refreshed token should validate: %v", err)
	}
	if claims.TenantID != tenantID.String() {
		t.Errorf("tenant ID lost on refresh: %s", claims.TenantID)
	}
}

func TestJWT_Garbage(t *testing.T) {
	manager := NewJWTManager(DefaultJWTConfig("test-secret"))

	if _, err := manager.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := manager.RefreshToken("not.a.token"); err == nil {
		t.Error("expected refresh of garbage to fail")
	}
}
