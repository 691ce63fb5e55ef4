package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestCache(maxSize int, ttl time.Duration) (*Cache, *time.Time) {
	c := New(maxSize, ttl, zerolog.Nop())
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }
	return c, &current
}

func TestCacheSetGet(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)

	c.Set("analysis:INC-1:abc", "result")
	v, ok := c.Get("analysis:INC-1:abc")
	assert.True(t, ok)
	assert.Equal(t, "result", v)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestCacheExpiry(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)

	c.Set("k", "v")
	*clock = clock.Add(61 * time.Second)

	v, ok := c.Get("k")
	assert.False(t, ok)
	assert.Nil(t, v)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Misses, "an expired read counts as a miss")
	assert.Equal(t, 0, stats.Size, "expired entry is purged on read")
}

func TestCacheEviction(t *testing.T) {
	c, clock := newTestCache(20, time.Hour)

	for i := 0; i < 25; i++ {
		c.Set(fmt.Sprintf("k%02d", i), i)
		*clock = clock.Add(time.Second)
	}

	stats := c.GetStats()
	assert.LessOrEqual(t, stats.Size, 20, "size never exceeds max_size")

	// The oldest entries go first: k00 and k01 must be gone.
	_, ok := c.Get("k00")
	assert.False(t, ok)
	_, ok = c.Get("k24")
	assert.True(t, ok)
}

func TestCacheEvictionMinimumOne(t *testing.T) {
	c, _ := newTestCache(3, time.Hour)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Set("d", 4) // maxSize/10 rounds to 0; still evicts one

	assert.Equal(t, 3, c.GetStats().Size)
	_, ok := c.Get("d")
	assert.True(t, ok)
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)

	c.Set("analysis:INC-1:a", 1)
	c.Set("analysis:INC-1:b", 2)
	c.Set("analysis:INC-2:a", 3)

	removed := c.Invalidate("analysis:INC-1:")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("analysis:INC-2:a")
	assert.True(t, ok)
}

func TestCacheInvalidateAll(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)

	c.Set("a", 1)
	c.Set("b", 2)

	removed := c.Invalidate("")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, c.GetStats().Size)
}

func TestCacheHitRate(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)

	stats := c.GetStats()
	assert.Zero(t, stats.HitRate, "no requests yet")

	c.Set("k", "v")
	c.Get("k")
	c.Get("missing")

	stats = c.GetStats()
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}
