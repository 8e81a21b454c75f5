// Package redisclient implements internal/cache.Cache on top of Redis,
// the production backend the ONTOLOGY_REDIS_* environment knobs configure.
// Keys are namespaced per syn_id so invalidation is a SCAN whose MATCH
// pattern selects only that syn_id's keys.
package redisclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skywalkerx28/nexus/internal/cache"
)

// Config holds Redis connection parameters, field names mirroring the
// ONTOLOGY_REDIS_* environment variables the config package loads.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	KeyPrefix string
}

// Cache is the Redis-backed cache.Cache implementation.
type Cache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string

	// hits/misses are read and incremented from concurrent requests
	// sharing this Cache, which must stay internally synchronized, so
	// they're atomic counters rather than plain int64 fields.
	hits, misses atomic.Int64
}

// New connects to Redis and returns a Cache. The connection is lazy
// (go-redis dials on first use); callers that want to fail fast should
// call Ping.
func New(cfg Config) *Cache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ontology"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:       ttl,
		keyPrefix: prefix,
	}
}

// Ping verifies connectivity, surfacing the kind of reachability
// failure callers should treat as Unavailable, at their discretion.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) entryKey(synID, viewShape string) string {
	h := sha256.New()
	h.Write([]byte(viewShape))
	return c.keyPrefix + ":" + synID + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

func (c *Cache) prefixPattern(synID string) string {
	return c.keyPrefix + ":" + synID + ":*"
}

// Get fetches a cached view. Under the safe-degradation rule, any Redis
// error (not just a miss) is treated as a miss: the caller falls
// through to the store rather than failing.
func (c *Cache) Get(ctx context.Context, synID, viewShape string) ([]byte, bool) {
	val, err := c.client.Get(ctx, c.entryKey(synID, viewShape)).Bytes()
	if err != nil {
		c.misses.Add(1)
		if err != redis.Nil {
			log.Printf("cache: get %s/%s: %v", synID, viewShape, err)
		}
		return nil, false
	}
	c.hits.Add(1)
	return val, true
}

// Set stores value with a jittered TTL. Failures are logged and
// swallowed; a cache write never fails the caller's write.
func (c *Cache) Set(ctx context.Context, synID, viewShape string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	jitter := time.Duration(rand.Int63n(int64(cache.JitterWindow)))
	if err := c.client.Set(ctx, c.entryKey(synID, viewShape), value, ttl+jitter).Err(); err != nil {
		log.Printf("cache: set %s/%s: %v", synID, viewShape, err)
	}
}

// Invalidate drops every cached view for synID via a SCAN over its key
// prefix: a wildcard match on the syn_id prefix regardless of view shape.
func (c *Cache) Invalidate(ctx context.Context, synID string) {
	pattern := c.prefixPattern(synID)
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			log.Printf("cache: scan %s: %v", pattern, err)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				log.Printf("cache: del %v: %v", keys, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Stats reports hit/miss counters tracked locally (Redis INFO doesn't
// expose per-prefix stats) plus ontology key count and approximate
// memory use pulled from Redis's own INFO memory section.
func (c *Cache) Stats() cache.Stats {
	ctx := context.Background()
	var entryCount int
	var approxBytes int64

	if keys, err := c.client.Keys(ctx, c.keyPrefix+":*").Result(); err == nil {
		entryCount = len(keys)
	}
	if info, err := c.client.Info(ctx, "memory").Result(); err == nil {
		approxBytes = parseUsedMemory(info)
	}

	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return cache.Stats{
		Hits:        hits,
		Misses:      misses,
		HitRate:     rate,
		EntryCount:  entryCount,
		ApproxBytes: approxBytes,
	}
}

func parseUsedMemory(info string) int64 {
	const key = "used_memory:"
	idx := indexOf(info, key)
	if idx < 0 {
		return 0
	}
	start := idx + len(key)
	end := start
	for end < len(info) && info[end] != '\r' && info[end] != '\n' {
		end++
	}
	var n int64
	for _, r := range info[start:end] {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int64(r-'0')
	}
	return n
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

var _ cache.Cache = (*Cache)(nil)
