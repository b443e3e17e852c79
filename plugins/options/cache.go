package options

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/YJPM/ti-options/plugins/options/llm"
	"github.com/redis/go-redis/v9"
)

// SuggestionCache remembers parsed suggestions per request fingerprint so an
// unchanged chat does not trigger a second completion.
type SuggestionCache interface {
	Get(ctx context.Context, key string) ([]string, bool, error)
	Set(ctx context.Context, key string, suggestions []string, ttl time.Duration) error
}

// CacheKey fingerprints everything that determines a completion.
func CacheKey(cfg llm.Config, history []llm.Message, prompt string) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	enc.Encode([]any{cfg.APIType, cfg.BaseURL, cfg.Model, history, prompt})
	return "ti-options:suggestions:" + hex.EncodeToString(h.Sum(nil))
}

// ── memory ──

type memoryEntry struct {
	value   []string
	expires time.Time
}

// MemoryCache is an in-process SuggestionCache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]string(nil), e.value...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, suggestions []string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{value: append([]string(nil), suggestions...), expires: now.Add(ttl)}
	return nil
}

// ── redis ──

// RedisCache stores suggestions as JSON strings in Redis.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisCache{rdb: rdb}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []string
	if err := json.Unmarshal(val, &out); err != nil {
		return nil, false, fmt.Errorf("decode cached suggestions: %w", err)
	}
	return out, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, suggestions []string, ttl time.Duration) error {
	b, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
