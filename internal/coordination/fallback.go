package coordination

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FallbackCache serves reads for already-cached keys when Redis is
// permanently unavailable, grounded on the teacher's
// internal/infra/llm/factory.go cache (generic lru.Cache plus a
// per-entry expiry wrapper checked at Get time).
type FallbackCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, fallbackEntry]
}

type fallbackEntry struct {
	value   string
	expires time.Time
}

// NewFallbackCache builds a cache holding up to size entries. size<=0
// disables the cache (Get always misses, Put is a no-op).
func NewFallbackCache(size int) *FallbackCache {
	if size <= 0 {
		return &FallbackCache{}
	}
	cache, err := lru.New[string, fallbackEntry](size)
	if err != nil {
		return &FallbackCache{}
	}
	return &FallbackCache{cache: cache}
}

// Put stores value under key with the same ttl the Redis write used.
func (f *FallbackCache) Put(key, value string, ttl time.Duration) {
	if f.cache == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache.Add(key, fallbackEntry{value: value, expires: ttlDeadline(ttl)})
}

// Get returns the cached value for key if present and not expired.
func (f *FallbackCache) Get(key string) (string, bool) {
	if f.cache == nil {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache.Get(key)
	if !ok {
		return "", false
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		f.cache.Remove(key)
		return "", false
	}
	return entry.value, true
}

// Remove evicts key, e.g. after an authoritative delete.
func (f *FallbackCache) Remove(key string) {
	if f.cache == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache.Remove(key)
}
