// Package cache is a fingerprinted result cache with per-class TTLs. It
// fails open when the backend is unreachable, and carries a namespace
// version that is bumped whenever tunable search weights change so stale
// entries become unreachable instead of requiring eager invalidation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Class identifies which TTL and invalidation rules apply to an entry.
type Class string

const (
	ClassSearch    Class = "search"
	ClassEmbedding Class = "embedding"
	ClassRerank    Class = "rerank"
)

// Config configures the cache's backend and per-class TTLs.
type Config struct {
	URL          string
	SearchTTL    time.Duration
	EmbeddingTTL time.Duration
	RerankTTL    time.Duration
}

// Cache is a Redis-backed, fail-open result cache holding fingerprinted,
// versioned, per-class entries.
type Cache struct {
	client  redis.UniversalClient
	ttl     map[Class]time.Duration
	version atomic.Int64
	log     zerolog.Logger
}

// New connects to Redis if cfg.URL is set. When the URL is empty or
// invalid, or the ping fails, the returned Cache has no backend: every
// lookup reports a miss and every store is a no-op. Get, Set, Available
// and Close are also safe to call on a nil *Cache.
func New(cfg Config, log zerolog.Logger) *Cache {
	c := &Cache{
		ttl: map[Class]time.Duration{
			ClassSearch:    orDefault(cfg.SearchTTL, 5*time.Minute),
			ClassEmbedding: orDefault(cfg.EmbeddingTTL, 24*time.Hour),
			ClassRerank:    orDefault(cfg.RerankTTL, 10*time.Minute),
		},
		log: log.With().Str("component", "cache").Logger(),
	}
	if cfg.URL == "" {
		return c
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		c.log.Warn().Err(err).Msg("cache_url_invalid_operating_fail_open")
		return c
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		c.log.Warn().Err(err).Msg("cache_unreachable_operating_fail_open")
		return c
	}
	c.client = client
	return c
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// BumpVersion invalidates every cached entry by advancing the namespace
// version, so old keys (built with the prior version) become unreachable.
// Called whenever tunable search weights change.
func (c *Cache) BumpVersion() {
	c.version.Add(1)
}

// Fingerprint hashes (class, version, normalized inputs) into a stable
// cache key.
func (c *Cache) Fingerprint(class Class, parts ...any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:", class, c.version.Load())
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return string(class) + ":" + hex.EncodeToString(h.Sum(nil))
}

// Get looks up a cached JSON payload and unmarshals it into dest. Returns
// false on miss or when the cache is unreachable/unconfigured.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c == nil || c.client == nil {
		return false
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Str("key", key).Msg("cache_get_error")
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache_unmarshal_error")
		return false
	}
	return true
}

// Set stores value under key with the TTL for class. A no-op when the
// cache is unreachable/unconfigured.
func (c *Cache) Set(ctx context.Context, class Class, key string, value any) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Debug().Err(err).Msg("cache_marshal_error")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl[class]).Err(); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache_set_error")
	}
}

// Available reports whether a live backend is connected; false means the
// cache is running fail-open.
func (c *Cache) Available() bool {
	return c != nil && c.client != nil
}

// Close releases the underlying Redis client, if any.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
