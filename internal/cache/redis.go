package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultRedisTTL is the default expiry for cached embeddings.
	DefaultRedisTTL = 24 * time.Hour

	// redisKeyPrefix namespaces embedding entries in a shared Redis instance.
	redisKeyPrefix = "emb:"
)

// RedisCache is a Cache backed by Redis with TTL-based eviction. Vectors are
// stored as little-endian float32 blobs.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds configuration for the Redis cache backend.
type RedisConfig struct {
	// Addr is the Redis address (host:port).
	Addr string

	// Password is the optional Redis password.
	Password string

	// DB is the Redis database number.
	DB int

	// TTL is the expiry for cached vectors (default: 24h).
	TTL time.Duration
}

// NewRedisCache creates a Redis-backed embedding cache and verifies
// connectivity with a ping.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get returns the cached vector for key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	vec, err := decodeVector(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding cached vector: %w", err)
	}
	return vec, true, nil
}

// Set stores a vector under key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, vector []float32) error {
	if err := c.client.Set(ctx, redisKeyPrefix+key, encodeVector(vector), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// Ensure RedisCache implements Cache interface.
var _ Cache = (*RedisCache)(nil)
