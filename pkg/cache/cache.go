// Package cache implements the layered context cache: an in-process LRU in
// front of an optional redis layer in front of disk JSON files. Reads walk
// the layers in that order and promote hits upward; a TTL is enforced at
// every layer and expired entries are removed as they are encountered.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/logger"
	"github.com/nestorlabs/nestor/pkg/metrics"
)

type entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e entry) expired() bool { return time.Now().After(e.ExpiresAt) }

// ContextCache is the layered cache. All layers are optional except the LRU.
type ContextCache struct {
	lru     *lru.Cache[string, entry]
	redis   *redis.Client
	dir     string
	ttl     time.Duration
	metrics *metrics.Set
	log     *slog.Logger
}

// New builds the cache from config. The redis layer is attached only when
// configured and reachable; an unreachable redis degrades to LRU + disk with
// a warning.
func New(cfg *config.CacheConfig, m *metrics.Set) (*ContextCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[cache] config is required")
	}
	l, err := lru.New[string, entry](cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("[cache] failed to create LRU: %w", err)
	}
	if m == nil {
		m = metrics.Default()
	}

	c := &ContextCache{
		lru:     l,
		dir:     filepath.Join(cfg.Dir, "context"),
		ttl:     time.Duration(cfg.TTL) * time.Second,
		metrics: m,
		log:     logger.Component("cache"),
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("[cache] failed to create cache directory: %w", err)
	}

	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			c.log.Warn("redis unreachable, continuing without remote layer", "addr", cfg.Redis.Addr, "error", err)
			_ = client.Close()
		} else {
			c.redis = client
		}
	}
	return c, nil
}

// Fingerprint derives a stable cache key from its parts.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Get walks LRU → redis → disk and promotes hits to the layers above.
func (c *ContextCache) Get(ctx context.Context, key string) (string, bool) {
	if e, ok := c.lru.Get(key); ok {
		if !e.expired() {
			c.metrics.CacheHits.WithLabelValues("lru").Inc()
			return e.Value, true
		}
		c.lru.Remove(key)
	}
	c.metrics.CacheMisses.WithLabelValues("lru").Inc()

	if c.redis != nil {
		if e, ok := c.redisGet(ctx, key); ok {
			c.metrics.CacheHits.WithLabelValues("redis").Inc()
			c.lru.Add(key, e)
			return e.Value, true
		}
		c.metrics.CacheMisses.WithLabelValues("redis").Inc()
	}

	if e, ok := c.diskGet(key); ok {
		c.metrics.CacheHits.WithLabelValues("disk").Inc()
		c.lru.Add(key, e)
		if c.redis != nil {
			c.redisSet(ctx, key, e)
		}
		return e.Value, true
	}
	c.metrics.CacheMisses.WithLabelValues("disk").Inc()
	return "", false
}

// Set writes the entry through every layer. Layer failures are logged and
// swallowed; the LRU write always succeeds.
func (c *ContextCache) Set(ctx context.Context, key, value string) {
	e := entry{Value: value, ExpiresAt: time.Now().Add(c.ttl)}
	c.lru.Add(key, e)
	if c.redis != nil {
		c.redisSet(ctx, key, e)
	}
	c.diskSet(key, e)
}

// Delete removes the key from every layer.
func (c *ContextCache) Delete(ctx context.Context, key string) {
	c.lru.Remove(key)
	if c.redis != nil {
		if err := c.redis.Del(ctx, c.redisKey(key)).Err(); err != nil {
			c.log.Debug("redis delete failed", "error", err)
		}
	}
	_ = os.Remove(c.diskPath(key))
}

// Len reports the number of entries in the in-memory layer.
func (c *ContextCache) Len() int { return c.lru.Len() }

func (c *ContextCache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func (c *ContextCache) redisKey(key string) string { return "nestor:context:" + key }

func (c *ContextCache) redisGet(ctx context.Context, key string) (entry, bool) {
	raw, err := c.redis.Get(ctx, c.redisKey(key)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("redis read failed", "error", err)
		}
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil || e.expired() {
		return entry{}, false
	}
	return e, true
}

func (c *ContextCache) redisSet(ctx context.Context, key string, e entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	// Redis expires the key itself, but the entry keeps its own stamp so a
	// promoted copy stays consistent across layers.
	if err := c.redis.Set(ctx, c.redisKey(key), raw, time.Until(e.ExpiresAt)).Err(); err != nil {
		c.log.Debug("redis write failed", "error", err)
	}
}

func (c *ContextCache) diskPath(key string) string {
	// Keys are hex fingerprints, but guard against path separators anyway.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(c.dir, safe+".json")
}

func (c *ContextCache) diskGet(key string) (entry, bool) {
	raw, err := os.ReadFile(c.diskPath(key))
	if err != nil {
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		_ = os.Remove(c.diskPath(key))
		return entry{}, false
	}
	if e.expired() {
		_ = os.Remove(c.diskPath(key))
		return entry{}, false
	}
	return e, true
}

func (c *ContextCache) diskSet(key string, e entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := os.WriteFile(c.diskPath(key), raw, 0o644); err != nil {
		c.log.Debug("disk cache write failed", "error", err)
	}
}
