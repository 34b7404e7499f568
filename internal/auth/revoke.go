package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Revoker remembers revoked token ids until the token would have expired anyway.
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevoker keeps revocations in process. Entries expire after maxTTL,
// which must be at least the longest token lifetime.
type MemoryRevoker struct {
	cache *expirable.LRU[string, time.Time]
	now   func() time.Time
}

// NewMemoryRevoker builds a revoker whose entries outlive any token issued with ttl <= maxTTL.
func NewMemoryRevoker(maxTTL time.Duration) *MemoryRevoker {
	return &MemoryRevoker{
		cache: expirable.NewLRU[string, time.Time](0, nil, maxTTL),
		now:   time.Now,
	}
}

func (m *MemoryRevoker) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	m.cache.Add(jti, m.now().Add(ttl))
	return nil
}

func (m *MemoryRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	until, ok := m.cache.Get(jti)
	if !ok {
		return false, nil
	}
	if m.now().After(until) {
		m.cache.Remove(jti)
		return false, nil
	}
	return true, nil
}

// Len reports how many revocations are currently held.
func (m *MemoryRevoker) Len() int { return m.cache.Len() }

const revokedKeyPrefix = "casedesk:revoked:"

// RedisRevoker stores revocations as keys with a native TTL.
type RedisRevoker struct {
	client *redis.Client
}

// NewRedisRevoker connects to url (redis://host:port/db) and verifies the connection.
func NewRedisRevoker(url string) (*RedisRevoker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisRevoker{client: client}, nil
}

func (r *RedisRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedKeyPrefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// Ping checks connectivity for readiness probes.
func (r *RedisRevoker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *RedisRevoker) Close() error { return r.client.Close() }
