// Package cache memoizes per-series point forecasts so repeated backtest
// passes over unchanged series skip the model round trip.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ForecastCache is a size-bounded, TTL-expiring cache of point forecasts,
// keyed by model identity and series content. Safe for concurrent use.
type ForecastCache struct {
	cache *lru.Cache[string, *entry]
	ttl   time.Duration

	mu     sync.RWMutex
	hits   uint64
	misses uint64
}

type entry struct {
	values    []float64
	expiresAt time.Time
}

// New creates a forecast cache holding at most size entries; ttl of 0
// disables expiration.
func New(size int, ttl time.Duration) (*ForecastCache, error) {
	c, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, err
	}
	return &ForecastCache{cache: c, ttl: ttl}, nil
}

// Key derives the cache key for a series forecast: the model variant, the
// entity key, the horizon, and a digest of the observation values. Any
// change to the series produces a different key.
func Key(model, seriesKey string, values []float64, horizon int) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(seriesKey))
	h.Write([]byte{0})

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(horizon))
	h.Write(buf[:])
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached point forecast, or false on miss or expiry.
// Takes the write lock: the lookup updates recency and the hit counters.
func (c *ForecastCache) Get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(key)
	if !ok || (c.ttl > 0 && time.Now().After(e.expiresAt)) {
		c.misses++
		return nil, false
	}

	c.hits++
	out := make([]float64, len(e.values))
	copy(out, e.values)
	return out, true
}

// Set stores a point forecast. The least recently used entry is evicted
// when the cache is full.
func (c *ForecastCache) Set(key string, values []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]float64, len(values))
	copy(stored, values)

	expiresAt := time.Time{}
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	c.cache.Add(key, &entry{values: stored, expiresAt: expiresAt})
}

// Len returns the number of cached entries.
func (c *ForecastCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache.Len()
}

// Stats reports hit/miss counters for observability.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current cache statistics.
func (c *ForecastCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Size:    c.cache.Len(),
		HitRate: hitRate,
	}
}

// Purge removes all entries.
func (c *ForecastCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
