// Package cache keeps list query results keyed by entity. Any write to an entity
// invalidates every cached list of that entity.
//
// Every entity carries a generation that invalidation bumps. Readers take the
// generation before loading and store under it, so a load that raced with a
// write lands under a generation nobody reads again.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL 未配置时的列表缓存有效期
const DefaultTTL = 5 * time.Minute

// Cache 列表缓存
type Cache interface {
	// Generation returns the entity's current generation.
	Generation(ctx context.Context, entity string) (int64, error)
	// GetList decodes a list cached under gen into dest. found is false on a miss.
	GetList(ctx context.Context, entity string, gen int64, key string, dest interface{}) (found bool, err error)
	// SetList stores a list loaded under gen. Stale generations are never served.
	SetList(ctx context.Context, entity string, gen int64, key string, value interface{}) error
	// InvalidateEntity bumps the generation of the given entities and drops their lists.
	InvalidateEntity(ctx context.Context, entities ...string) error
}

const keyPrefix = "supply:list:"

func listKey(entity string, gen int64, key string) string {
	return keyPrefix + entity + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

func indexKey(entity string) string {
	return "supply:list-index:" + entity
}

func genKey(entity string) string {
	return "supply:list-gen:" + entity
}

// RedisCache Redis 实现
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a redis backed cache. ttl <= 0 falls back to DefaultTTL.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Generation(ctx context.Context, entity string) (int64, error) {
	gen, err := c.rdb.Get(ctx, genKey(entity)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation: %w", err)
	}
	return gen, nil
}

func (c *RedisCache) GetList(ctx context.Context, entity string, gen int64, key string, dest interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, listKey(entity, gen, key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode cached list: %w", err)
	}
	return true, nil
}

func (c *RedisCache) SetList(ctx context.Context, entity string, gen int64, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode list: %w", err)
	}
	k := listKey(entity, gen, key)
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, k, raw, c.ttl)
	pipe.SAdd(ctx, indexKey(entity), k)
	pipe.Expire(ctx, indexKey(entity), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateEntity(ctx context.Context, entities ...string) error {
	for _, entity := range entities {
		if err := c.rdb.Incr(ctx, genKey(entity)).Err(); err != nil {
			return fmt.Errorf("redis incr generation: %w", err)
		}
		idx := indexKey(entity)
		keys, err := c.rdb.SMembers(ctx, idx).Result()
		if err != nil {
			return fmt.Errorf("redis smembers: %w", err)
		}
		keys = append(keys, idx)
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

type memEntry struct {
	raw     []byte
	expires time.Time
}

// MemoryCache 进程内实现，用于本地开发和测试
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	gens    map[string]int64
	entries map[string]map[string]memEntry
}

// NewMemoryCache creates an in-process cache. ttl <= 0 falls back to DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		gens:    make(map[string]int64),
		entries: make(map[string]map[string]memEntry),
	}
}

func (c *MemoryCache) Generation(_ context.Context, entity string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[entity], nil
}

func (c *MemoryCache) GetList(_ context.Context, entity string, gen int64, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[entity][key]
	current := c.gens[entity]
	if ok && c.now().After(e.expires) {
		delete(c.entries[entity], key)
		ok = false
	}
	c.mu.Unlock()
	if !ok || gen != current {
		return false, nil
	}
	if err := json.Unmarshal(e.raw, dest); err != nil {
		return false, fmt.Errorf("decode cached list: %w", err)
	}
	return true, nil
}

func (c *MemoryCache) SetList(_ context.Context, entity string, gen int64, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode list: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gens[entity] {
		return nil
	}
	if c.entries[entity] == nil {
		c.entries[entity] = make(map[string]memEntry)
	}
	c.entries[entity][key] = memEntry{raw: raw, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) InvalidateEntity(_ context.Context, entities ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entities {
		c.gens[e]++
		delete(c.entries, e)
	}
	return nil
}

// Noop never hits.
type Noop struct{}

func (Noop) Generation(context.Context, string) (int64, error)                         { return 0, nil }
func (Noop) GetList(context.Context, string, int64, string, interface{}) (bool, error) { return false, nil }
func (Noop) SetList(context.Context, string, int64, string, interface{}) error         { return nil }
func (Noop) InvalidateEntity(context.Context, ...string) error                         { return nil }
