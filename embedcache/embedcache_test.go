package embedcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_NormalizesWhitespace(t *testing.T) {
	assert.Equal(t, Fingerprint("hello   world"), Fingerprint("hello world"))
	assert.Equal(t, Fingerprint("  hello world  "), Fingerprint("hello world"))
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := New(DefaultConfig())
	key := Fingerprint("remember this")
	c.Put(key, Entry{Vector: []float32{1, 2, 3}, Provider: "local"})

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got.Vector)
}

func TestCache_TTLExpiry(t *testing.T) {
	clk := clock.NewMock()
	c := NewWithClock(Config{MaxEntries: 10, TTL: time.Minute}, clk)
	key := "k"
	c.Put(key, Entry{Vector: []float32{1}})

	clk.Add(2 * time.Minute)
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestCache_EvictsAtCapacity(t *testing.T) {
	clk := clock.NewMock()
	c := NewWithClock(Config{MaxEntries: 2, TTL: time.Hour}, clk)
	c.Put("a", Entry{Vector: []float32{1}})
	clk.Add(time.Second)
	c.Put("b", Entry{Vector: []float32{2}})
	clk.Add(time.Second)
	c.Put("c", Entry{Vector: []float32{3}})

	assert.LessOrEqual(t, c.Len(), 2)
	_, stillThere := c.Get("c")
	assert.True(t, stillThere)
}

func TestCache_GetOrCompute_SingleFlight(t *testing.T) {
	c := New(DefaultConfig())
	var calls int64

	var wg sync.WaitGroup
	results := make([]Entry, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			e, _, err := c.GetOrCompute(context.Background(), "shared-key", func(ctx context.Context) (Entry, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return Entry{Vector: []float32{42}}, nil
			})
			require.NoError(t, err)
			results[idx] = e
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for _, r := range results {
		assert.Equal(t, []float32{42}, r.Vector)
	}
}

func TestCache_GetOrCompute_CacheHitSkipsCompute(t *testing.T) {
	c := New(DefaultConfig())
	c.Put("k", Entry{Vector: []float32{7}})

	_, hit, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (Entry, error) {
		t.Fatal("compute should not run on a cache hit")
		return Entry{}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
}
