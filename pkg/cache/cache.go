package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache is a bounded, time-expiring key/value store with hit/miss accounting
// and prefix-based invalidation. Expired entries are purged lazily on read;
// capacity is enforced by evicting the oldest entries on write, never by
// refusing the write.
type Cache struct {
	entries map[string]entry
	maxSize int
	ttl     time.Duration
	hits    int64
	misses  int64
	logger  zerolog.Logger
	mu      sync.Mutex
	now     func() time.Time
}

type entry struct {
	value    interface{}
	storedAt time.Time
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Size    int           `json:"size"`
	MaxSize int           `json:"max_size"`
	Hits    int64         `json:"hits"`
	Misses  int64         `json:"misses"`
	HitRate float64       `json:"hit_rate"`
	TTL     time.Duration `json:"ttl"`
}

// New creates a cache holding at most maxSize entries, each valid for ttl.
func New(maxSize int, ttl time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger.With().Str("component", "analysis_cache").Logger(),
		now:     time.Now,
	}
}

// Get returns the value stored under key if it is present and unexpired. An
// expired entry counts as a miss and is removed.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key, evicting the oldest tenth of entries first if
// the cache is full.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = entry{value: value, storedAt: c.now()}
}

// evictOldest removes max(1, maxSize/10) entries ranked by insertion time.
// Caller must hold the mutex.
func (c *Cache) evictOldest() {
	n := c.maxSize / 10
	if n < 1 {
		n = 1
	}

	type aged struct {
		key      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, storedAt: e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].storedAt.Equal(all[j].storedAt) {
			return all[i].key < all[j].key
		}
		return all[i].storedAt.Before(all[j].storedAt)
	})

	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(c.entries, a.key)
	}
	c.logger.Debug().Int("evicted", n).Int("size", len(c.entries)).Msg("Cache eviction")
}

// Invalidate removes every entry whose key starts with prefix and returns the
// number removed. An empty prefix clears the whole cache.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix == "" {
		n := len(c.entries)
		c.entries = make(map[string]entry)
		return n
	}

	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// GetStats returns current cache statistics. HitRate is 0 before any request.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
		TTL:     c.ttl,
	}
}
