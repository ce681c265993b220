// Package nuccache caches authority validation verdicts so the same
// token presented twice inside the TTL window gets the same answer
// without a second round trip. Entries are keyed by a fingerprint of the
// request, never by the raw image hash.
package nuccache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Defaults for the cache configuration.
const (
	DefaultMaxEntries = 10_000
	DefaultTTL        = time.Hour
)

// Result is a cached validation verdict.
type Result struct {
	Valid        bool
	Message      string
	DeviceSerial string
	CachedAt     time.Time
	RequestCount int
}

// Stats is a point in time snapshot of the cache counters.
type Stats struct {
	Size       int     `json:"size"`
	MaxEntries int     `json:"max_entries"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	TTLSeconds int64   `json:"ttl_seconds"`
}

// Cache is a bounded LRU of validation verdicts with lazy TTL expiry.
// An expired entry found on read is evicted and counted as a miss.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, *Result]
	ttl    time.Duration
	max    int
	hits   uint64
	misses uint64
	now    func() time.Time
}

// New constructs a Cache with the specified bounds. Zero values select
// the defaults.
func New(maxEntries int, ttl time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	l, err := lru.New[string, *Result](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("constructing lru: %w", err)
	}

	return &Cache{
		lru: l,
		ttl: ttl,
		max: maxEntries,
		now: time.Now,
	}, nil
}

// Fingerprint derives the cache key from all the request fields. The
// raw fields never become the key themselves.
func Fingerprint(fields ...string) string {
	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{':'})
		}
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached verdict for the fingerprint, with false when
// the entry is absent or has expired.
func (c *Cache) Get(fingerprint string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, exists := c.lru.Get(fingerprint)
	if !exists {
		c.misses++
		return Result{}, false
	}

	if c.now().Sub(result.CachedAt) > c.ttl {
		c.lru.Remove(fingerprint)
		c.misses++
		return Result{}, false
	}

	result.RequestCount++
	c.hits++

	return *result, true
}

// Put stores a verdict under the fingerprint, evicting the least
// recently used entry when full.
func (c *Cache) Put(fingerprint string, valid bool, message string, deviceSerial string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(fingerprint, &Result{
		Valid:        valid,
		Message:      message,
		DeviceSerial: deviceSerial,
		CachedAt:     c.now(),
		RequestCount: 1,
	})
}

// Statistics returns the current cache counters.
func (c *Cache) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Size:       c.lru.Len(),
		MaxEntries: c.max,
		Hits:       c.hits,
		Misses:     c.misses,
		TTLSeconds: int64(c.ttl.Seconds()),
	}

	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total) * 100
	}

	return stats
}

// Purge drops every entry and resets the counters.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.hits = 0
	c.misses = 0
}
