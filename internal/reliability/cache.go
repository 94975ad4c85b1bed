package reliability

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type CacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize: 128,
		TTL:     5 * time.Minute,
	}
}

type cacheEntry struct {
	value          json.RawMessage
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	accessCount    int64
}

// ResultCache caches results of idempotent read-scoped calls for one target.
// Recency eviction is delegated to the LRU (Get refreshes recency, Add evicts
// the least recently used entry first); TTL and stats are layered on top.
// Expired entries count as misses and are removed lazily.
type ResultCache struct {
	mu          sync.Mutex
	entries     *lru.Cache[string, *cacheEntry]
	ttl         time.Duration
	maxSize     int
	totalAccess int64
	hits        int64
	expired     int64

	now func() time.Time
}

func newResultCache(cfg CacheConfig) *ResultCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultCacheConfig().MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}

	entries, _ := lru.New[string, *cacheEntry](cfg.MaxSize)
	return &ResultCache{
		entries: entries,
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     time.Now,
	}
}

// Get returns the cached value when present and unexpired.
func (c *ResultCache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalAccess++

	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}

	now := c.now()
	if !now.Before(entry.expiresAt) {
		c.entries.Remove(key)
		c.expired++
		return nil, false
	}

	entry.lastAccessedAt = now
	entry.accessCount++
	c.hits++
	return entry.value, true
}

// Set stores value under key with the cache's TTL. When the cache is full the
// least recently accessed entry is evicted before the insert.
func (c *ResultCache) Set(key string, value json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries.Add(key, &cacheEntry{
		value:          value,
		createdAt:      now,
		expiresAt:      now.Add(c.ttl),
		lastAccessedAt: now,
	})
}

// Clear empties the cache. Stats counters survive; they describe lifetime
// behavior, not current contents.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// CacheStats is a read-only snapshot of one cache.
type CacheStats struct {
	Size         int     `json:"size"`
	MaxSize      int     `json:"maxSize"`
	TotalAccess  int64   `json:"totalAccess"`
	Hits         int64   `json:"hits"`
	HitRate      float64 `json:"hitRate"`
	ExpiredCount int64   `json:"expiredCount"`
}

func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:         c.entries.Len(),
		MaxSize:      c.maxSize,
		TotalAccess:  c.totalAccess,
		Hits:         c.hits,
		ExpiredCount: c.expired,
	}
	if c.totalAccess > 0 {
		stats.HitRate = float64(c.hits) / float64(c.totalAccess)
	}
	return stats
}

// CacheRegistry holds one result cache per target, created lazily.
type CacheRegistry struct {
	mu     sync.Mutex
	cfg    CacheConfig
	caches map[string]*ResultCache
}

func NewCacheRegistry(cfg CacheConfig) *CacheRegistry {
	return &CacheRegistry{
		cfg:    cfg,
		caches: make(map[string]*ResultCache),
	}
}

func (r *CacheRegistry) Get(name string) *ResultCache {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.caches[name]; ok {
		return c
	}
	c := newResultCache(r.cfg)
	r.caches[name] = c
	return c
}

// Clear empties one cache, or every cache when name is empty.
func (r *CacheRegistry) Clear(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name != "" {
		if c, ok := r.caches[name]; ok {
			c.Clear()
		}
		return
	}
	for _, c := range r.caches {
		c.Clear()
	}
}

func (r *CacheRegistry) Stats() map[string]CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]CacheStats, len(r.caches))
	for name, c := range r.caches {
		stats[name] = c.Stats()
	}
	return stats
}

// Fingerprint derives a deterministic cache key from server, tool, and the
// normalized argument object. encoding/json writes map keys sorted, so two
// argument objects with the same contents fingerprint identically.
func Fingerprint(serverName, toolName string, args json.RawMessage) string {
	normalized := args
	var decoded map[string]any
	if len(args) > 0 && json.Unmarshal(args, &decoded) == nil {
		if b, err := json.Marshal(decoded); err == nil {
			normalized = b
		}
	}

	h := sha256.New()
	h.Write([]byte(serverName))
	h.Write([]byte{0})
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(normalized)
	return hex.EncodeToString(h.Sum(nil))
}
