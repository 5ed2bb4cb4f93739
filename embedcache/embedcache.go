// Package embedcache implements the bounded TTL embedding cache from
// §4.B: entries are keyed by the SHA-256 of normalized text, evicted by
// a last-read-time min-heap (least recently used first), and protected
// against stampedes with golang.org/x/sync/singleflight.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/engramhq/engram/utils/heap"
)

// Entry is a cached embedding plus the metadata needed for eviction and
// for the Pipeline's cache-hit reporting.
type Entry struct {
	Vector    []float32
	Provider  string
	CreatedAt time.Time
}

type entry struct {
	key        string
	value      Entry
	expiry     int64
	lastReadAt int64
	readCount  int64
}

// Config configures the cache's capacity and default TTL.
type Config struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultConfig matches §6's cache.{ttl_seconds, max_entries} defaults.
func DefaultConfig() Config {
	return Config{MaxEntries: 10_000, TTL: time.Hour}
}

// Cache is a bounded, TTL-expiring, LRU-evicted embedding cache with
// single-flight stampede protection.
type Cache struct {
	config Config
	clock  clock.Clock

	mu      sync.Mutex
	entries map[string]*entry
	byAge   *heap.MinHeap[*entry]

	group singleflight.Group
}

// New builds a Cache using the wall clock.
func New(config Config) *Cache {
	return NewWithClock(config, clock.New())
}

// NewWithClock builds a Cache with an injected clock, for deterministic
// TTL tests.
func NewWithClock(config Config, clk clock.Clock) *Cache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig().MaxEntries
	}
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	return &Cache{
		config:  config,
		clock:   clk,
		entries: make(map[string]*entry),
		byAge: heap.NewMinHeap(func(a, b *entry) bool {
			if a.lastReadAt != b.lastReadAt {
				return a.lastReadAt < b.lastReadAt
			}
			return a.key < b.key
		}),
	}
}

// Fingerprint normalizes text (trim, collapse whitespace) and returns
// its SHA-256 hex digest, used as the cache key. No Unicode
// normalization (NFC or otherwise) is applied, and case is preserved.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(normalize(text)))
	return hex.EncodeToString(sum[:])
}

func normalize(text string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(text), unicode.IsSpace)
	return strings.Join(fields, " ")
}

// Get looks up a cache entry by key. A miss returns ok=false.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists {
		return Entry{}, false
	}
	now := c.clock.Now().UnixNano()
	if e.expiry <= now {
		c.removeLocked(e)
		return Entry{}, false
	}
	e.lastReadAt = now
	e.readCount++
	c.byAge.Update(e)
	return e.value, true
}

// Put inserts or replaces an entry, evicting the least-recently used
// entries if the cache is at capacity.
func (c *Cache) Put(key string, value Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value)
}

func (c *Cache) putLocked(key string, value Entry) {
	now := c.clock.Now()
	if existing, exists := c.entries[key]; exists {
		c.byAge.Remove(existing)
		delete(c.entries, key)
	}
	for len(c.entries) >= c.config.MaxEntries {
		oldest, ok := c.byAge.Pop()
		if !ok {
			break
		}
		delete(c.entries, oldest.key)
	}
	e := &entry{
		key:        key,
		value:      value,
		expiry:     now.Add(c.config.TTL).UnixNano(),
		lastReadAt: now.UnixNano(),
		readCount:  1,
	}
	c.entries[key] = e
	c.byAge.Push(e)
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.byAge.Remove(e)
}

// Len reports the number of live (not-yet-expired-and-swept) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrCompute is the single-flight entry point used by the Embedding
// Pipeline: concurrent misses for the same key coalesce into exactly
// one call to compute (§4.B, §8 round-trip property).
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (Entry, error)) (Entry, bool, error) {
	if e, ok := c.Get(key); ok {
		return e, true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under single-flight: another goroutine may have
		// populated the cache between our miss above and acquiring
		// the flight slot.
		if e, ok := c.Get(key); ok {
			return e, nil
		}
		computed, err := compute(ctx)
		if err != nil {
			return Entry{}, err
		}
		c.Put(key, computed)
		return computed, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return v.(Entry), false, nil
}
