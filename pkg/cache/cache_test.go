package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/metrics"
)

func newTestCache(t *testing.T, redisAddr string, ttlSeconds int) (*ContextCache, *metrics.Set) {
	t.Helper()
	cfg := &config.CacheConfig{
		MaxEntries: 4,
		TTL:        ttlSeconds,
		Dir:        t.TempDir(),
	}
	if redisAddr != "" {
		cfg.Redis = &config.RedisConfig{Addr: redisAddr}
	}
	m := metrics.New()
	c, err := New(cfg, m)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, m
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("query", "4000", "true")
	b := Fingerprint("query", "4000", "true")
	c := Fingerprint("query", "4000", "false")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, m := newTestCache(t, "", 60)

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "k", "assembled context")
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "assembled context", got)

	snap := m.Snapshot()
	assert.Equal(t, 1.0, snap["nestor_cache_hits_total"])
}

func TestDiskLayerSurvivesLRUEviction(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, "", 60)

	c.Set(ctx, "old", "v-old")
	// Overflow the 4-entry LRU so "old" is evicted from memory.
	for _, k := range []string{"a", "b", "c", "d"} {
		c.Set(ctx, k, "v")
	}
	_, inMemory := c.lru.Get("old")
	require.False(t, inMemory)

	got, ok := c.Get(ctx, "old")
	require.True(t, ok, "disk layer should serve evicted entries")
	assert.Equal(t, "v-old", got)

	// The hit was promoted back into the LRU.
	_, inMemory = c.lru.Get("old")
	assert.True(t, inMemory)
}

func TestRedisLayer(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	c, _ := newTestCache(t, srv.Addr(), 60)

	c.Set(ctx, "k", "v")
	require.True(t, srv.Exists("nestor:context:k"))

	// Drop the entry from memory; the redis layer should serve it.
	c.lru.Remove("k")
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	c.Delete(ctx, "k")
	assert.False(t, srv.Exists("nestor:context:k"))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestUnreachableRedisDegrades(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, "127.0.0.1:1", 60)

	assert.Nil(t, c.redis)
	c.Set(ctx, "k", "v")
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, "", 60)

	c.Set(ctx, "k", "v")
	// Force expiry in every layer by rewriting the stamps.
	expired := entry{Value: "v", ExpiresAt: time.Now().Add(-time.Minute)}
	c.lru.Add("k", expired)
	c.diskSet("k", expired)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	// Opportunistic removal cleaned both layers.
	assert.Equal(t, 0, c.Len())
	_, onDisk := c.diskGet("k")
	assert.False(t, onDisk)
}
