// Package embedpipeline implements the Embedding Pipeline from §4.G:
// the single entry point that fingerprints text, consults the cache,
// dispatches through the Router on a miss, then records metrics and
// cost using a lookup-then-store orchestration.
package embedpipeline

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/engramhq/engram/costtracker"
	"github.com/engramhq/engram/embedcache"
	"github.com/engramhq/engram/embedmetrics"
	"github.com/engramhq/engram/embedprovider"
	"github.com/engramhq/engram/embedrouter"
)

// Request is one caller-facing embed request.
type Request struct {
	Text              string
	PreferredProvider string
	Priority          embedrouter.Priority
	FallbackEnabled   bool
}

// Result is the Pipeline's public response shape, per §4.G step 4.
type Result struct {
	ID        string
	Embedding []float32
	Provider  string
	LatencyMs int64
	CostUSD   float64
}

// Pipeline wires the Cache, Router, Metrics Collector, and Cost Tracker
// together behind embed/embed_batch.
type Pipeline struct {
	cache   *embedcache.Cache
	router  *embedrouter.Router
	metrics *embedmetrics.Collector
	cost    *costtracker.Tracker
	clock   clock.Clock
	newID   func() string
}

// New builds a Pipeline using the wall clock and uuid.NewString for ids.
func New(cache *embedcache.Cache, router *embedrouter.Router, metrics *embedmetrics.Collector, cost *costtracker.Tracker) *Pipeline {
	return &Pipeline{cache: cache, router: router, metrics: metrics, cost: cost, clock: clock.New(), newID: uuid.NewString}
}

// NewWithClock builds a Pipeline with an injected clock and id generator
// for deterministic tests.
func NewWithClock(cache *embedcache.Cache, router *embedrouter.Router, metrics *embedmetrics.Collector, cost *costtracker.Tracker, clk clock.Clock, newID func() string) *Pipeline {
	return &Pipeline{cache: cache, router: router, metrics: metrics, cost: cost, clock: clk, newID: newID}
}

// Embed implements §4.G's four-step flow for a single text.
func (p *Pipeline) Embed(ctx context.Context, req Request) (Result, error) {
	key := embedcache.Fingerprint(req.Text)
	start := p.clock.Now()

	entry, hit, err := p.cache.GetOrCompute(ctx, key, func(ctx context.Context) (embedcache.Entry, error) {
		res, err := p.router.Embed(ctx, embedrouter.Request{
			Text:              req.Text,
			PreferredProvider: req.PreferredProvider,
			Priority:          req.Priority,
			FallbackEnabled:   req.FallbackEnabled,
		}, func(provider string, failErr error) {
			p.metrics.RecordRequest(provider, embedmetrics.Failure, 0, 0)
		})
		if err != nil {
			return embedcache.Entry{}, err
		}
		return embedcache.Entry{Vector: res.Vector, Provider: res.Provider, CreatedAt: p.clock.Now()}, nil
	})
	if err != nil {
		return Result{}, err
	}

	latency := p.clock.Now().Sub(start)

	var costUSD float64
	provider := entry.Provider
	if hit {
		provider = embedprovider.CacheHit
		costUSD = 0
	} else {
		tokens := costtracker.EstimateTokens(req.Text)
		costUSD = costtracker.CalculateCost(entry.Provider, tokens)
		p.metrics.RecordRequest(entry.Provider, embedmetrics.Success, latency, costUSD)
		p.cost.Track(entry.Provider, costUSD, tokens, p.clock.Now())
	}

	return Result{
		ID:        p.newID(),
		Embedding: entry.Vector,
		Provider:  provider,
		LatencyMs: latency.Milliseconds(),
		CostUSD:   costUSD,
	}, nil
}

// EmbedBatch iterates per-item, per §4.G's explicit permission to do so
// rather than requiring true grouped batched dispatch.
func (p *Pipeline) EmbedBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		res, err := p.Embed(ctx, req)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}
