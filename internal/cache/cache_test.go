package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestKey_ModelSeparation(t *testing.T) {
	// Same text under different models must produce different keys.
	if Key("model-a", "hello") == Key("model-b", "hello") {
		t.Error("expected different keys for different models")
	}
	if Key("model-a", "hello") != Key("model-a", "hello") {
		t.Error("expected identical keys for identical inputs")
	}
	// The separator must prevent (model, text) boundary ambiguity.
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("expected key derivation to separate model from text")
	}
}

func TestMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, ok, err := c.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("unexpected error on miss: %v", err)
	}
	if ok {
		t.Error("expected miss for absent key")
	}

	vec := []float32{0.1, 0.2, 0.3}
	if err := c.Set(ctx, "k", vec); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error on hit: %v", err)
	}
	if !ok {
		t.Fatal("expected hit after set")
	}
	if len(got) != 3 || got[0] != 0.1 || got[1] != 0.2 || got[2] != 0.3 {
		t.Errorf("got %v, want %v", got, vec)
	}

	// Mutating the returned slice must not corrupt the cached copy.
	got[0] = 99
	again, _, _ := c.Get(ctx, "k")
	if again[0] != 0.1 {
		t.Error("cached vector was mutated through a returned slice")
	}
}

func TestRedisCache_RoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedisCache(ctx, RedisConfig{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	defer c.Close()

	_, ok, err := c.Get(ctx, "absent")
	if err != nil {
		t.Fatalf("unexpected error on miss: %v", err)
	}
	if ok {
		t.Error("expected miss for absent key")
	}

	vec := []float32{1.5, -2.25, 0}
	if err := c.Set(ctx, "k", vec); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected hit after set")
	}
	if len(got) != len(vec) {
		t.Fatalf("got %d dims, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("dim %d: got %v, want %v", i, got[i], vec[i])
		}
	}
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedisCache(ctx, RedisConfig{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	defer c.Close()

	if err := c.Set(ctx, "k", []float32{1}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	srv.FastForward(DefaultRedisTTL + 1)

	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Error("expected entry to expire after TTL")
	}
}

func TestDecodeVector_BadLength(t *testing.T) {
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated vector blob")
	}
}
