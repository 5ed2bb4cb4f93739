package embedpipeline

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/costtracker"
	"github.com/engramhq/engram/embedcache"
	"github.com/engramhq/engram/embedmetrics"
	"github.com/engramhq/engram/embedprovider"
	"github.com/engramhq/engram/embedrouter"
)

type fakeProvider struct {
	name   string
	vector []float32
	calls  int
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vector, nil
}
func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeProvider) Dimension() int      { return len(f.vector) }
func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) SupportsBatch() bool { return false }
func (f *fakeProvider) MaxBatchSize() int   { return 1 }

func newTestPipeline() (*Pipeline, *fakeProvider, int) {
	remote := &fakeProvider{name: "remote", vector: []float32{1, 0}}
	router := embedrouter.New(map[string]embedprovider.Provider{"remote": remote})
	cache := embedcache.New(embedcache.DefaultConfig())
	metrics := embedmetrics.NewCollector(nil)
	cost := costtracker.New()
	ids := 0
	p := NewWithClock(cache, router, metrics, cost, clock.New(), func() string {
		ids++
		return "id-1"
	})
	return p, remote, ids
}

func TestPipeline_MissDispatchesAndCachesAndCostsRemote(t *testing.T) {
	p, remote, _ := newTestPipeline()
	res, err := p.Embed(context.Background(), Request{Text: "hello world", Priority: embedrouter.High, FallbackEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, "remote", res.Provider)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.Equal(t, 1, remote.calls)
}

func TestPipeline_HitReturnsCacheHitTagAtZeroCost(t *testing.T) {
	p, remote, _ := newTestPipeline()
	ctx := context.Background()
	_, err := p.Embed(ctx, Request{Text: "hello world", Priority: embedrouter.High, FallbackEnabled: true})
	require.NoError(t, err)

	res, err := p.Embed(ctx, Request{Text: "hello world", Priority: embedrouter.High, FallbackEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, embedprovider.CacheHit, res.Provider)
	assert.Equal(t, 0.0, res.CostUSD)
	assert.Equal(t, 1, remote.calls, "second request must be served from cache, not re-dispatched")
}

func TestPipeline_EmbedBatchIteratesPerItem(t *testing.T) {
	p, remote, _ := newTestPipeline()
	results, err := p.EmbedBatch(context.Background(), []Request{
		{Text: "one", Priority: embedrouter.High, FallbackEnabled: true},
		{Text: "two", Priority: embedrouter.High, FallbackEnabled: true},
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, remote.calls)
}

func TestPipeline_ReportsLatency(t *testing.T) {
	p, _, _ := newTestPipeline()
	res, err := p.Embed(context.Background(), Request{Text: "timed", Priority: embedrouter.High, FallbackEnabled: true})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(0))
}
