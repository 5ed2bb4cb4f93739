// Package embedmetrics implements the Metrics Collector from §4.D:
// per-provider request counters, a latency histogram, a cost counter,
// and an aggregate ProviderMetrics view with lazily-computed p95/p99.
// Prometheus vectors carry the externally-scraped view the way
// monitoring.PrometheusMonitor does; the percentile math is computed
// on read from an internal sample window, since prometheus histograms
// do not expose exact quantiles without a server-side query.
package embedmetrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result is whether a provider call succeeded or failed, used as a
// Prometheus label.
type Result string

const (
	Success Result = "success"
	Failure Result = "failure"
)

const maxLatencySamples = 1000

type providerSamples struct {
	latencies []time.Duration // ring buffer, most recent maxLatencySamples
	total     int64
	succeeded int64
	failed    int64
	costUSD   float64
}

// Collector is the Metrics Collector described in §4.D.
type Collector struct {
	mu      sync.Mutex
	samples map[string]*providerSamples

	requestsTotal *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	cost          *prometheus.CounterVec
}

// NewCollector builds a Collector and registers its Prometheus vectors
// against registry. A nil registry creates metrics unregistered (used
// in tests that only need the in-process percentile math).
func NewCollector(registry *prometheus.Registry) *Collector {
	c := &Collector{
		samples: make(map[string]*providerSamples),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engram",
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Total embedding requests by provider and result.",
		}, []string{"provider", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engram",
			Subsystem: "embedding",
			Name:      "request_duration_seconds",
			Help:      "Embedding provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engram",
			Subsystem: "embedding",
			Name:      "cost_usd_total",
			Help:      "Total embedding cost in USD by provider.",
		}, []string{"provider"}),
	}
	if registry != nil {
		registry.MustRegister(c.requestsTotal, c.latency, c.cost)
	}
	return c
}

// RecordRequest records one provider call outcome, its latency, and its
// cost. The Prometheus vectors are updated first, each on its own; the
// in-process aggregates are then updated under the Collector's mutex.
func (c *Collector) RecordRequest(provider string, result Result, latency time.Duration, costUSD float64) {
	c.requestsTotal.WithLabelValues(provider, string(result)).Inc()
	c.latency.WithLabelValues(provider).Observe(latency.Seconds())
	c.cost.WithLabelValues(provider).Add(costUSD)

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.samples[provider]
	if !ok {
		s = &providerSamples{}
		c.samples[provider] = s
	}
	s.total++
	if result == Success {
		s.succeeded++
	} else {
		s.failed++
	}
	s.costUSD += costUSD
	s.latencies = append(s.latencies, latency)
	if len(s.latencies) > maxLatencySamples {
		s.latencies = s.latencies[len(s.latencies)-maxLatencySamples:]
	}
}

// ProviderMetrics is the aggregate view returned by Snapshot.
type ProviderMetrics struct {
	Provider       string
	Total          int64
	Succeeded      int64
	Failed         int64
	AverageLatency time.Duration
	P95Latency     time.Duration
	P99Latency     time.Duration
	TotalCostUSD   float64
}

// Snapshot computes ProviderMetrics for one provider, lazily deriving
// p95/p99 from the recorded latency sample window (§4.D).
func (c *Collector) Snapshot(provider string) ProviderMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.samples[provider]
	if !ok {
		return ProviderMetrics{Provider: provider}
	}
	return ProviderMetrics{
		Provider:       provider,
		Total:          s.total,
		Succeeded:      s.succeeded,
		Failed:         s.failed,
		AverageLatency: average(s.latencies),
		P95Latency:     percentile(s.latencies, 0.95),
		P99Latency:     percentile(s.latencies, 0.99),
		TotalCostUSD:   s.costUSD,
	}
}

// Providers lists every provider with at least one recorded request.
func (c *Collector) Providers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.samples))
	for p := range c.samples {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func average(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	return sum / time.Duration(len(latencies))
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
