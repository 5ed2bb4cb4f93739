package embedmetrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollector_RecordRequestAggregates(t *testing.T) {
	c := NewCollector(nil)
	c.RecordRequest("remote", Success, 10*time.Millisecond, 0.01)
	c.RecordRequest("remote", Success, 20*time.Millisecond, 0.02)
	c.RecordRequest("remote", Failure, 30*time.Millisecond, 0.0)

	snap := c.Snapshot("remote")
	assert.Equal(t, int64(3), snap.Total)
	assert.Equal(t, int64(2), snap.Succeeded)
	assert.Equal(t, int64(1), snap.Failed)
	assert.InDelta(t, 0.03, snap.TotalCostUSD, 1e-9)
	assert.Equal(t, 20*time.Millisecond, snap.AverageLatency)
}

func TestCollector_PercentilesOverWindow(t *testing.T) {
	c := NewCollector(nil)
	for i := 1; i <= 100; i++ {
		c.RecordRequest("gpu", Success, time.Duration(i)*time.Millisecond, 0)
	}
	snap := c.Snapshot("gpu")
	assert.Equal(t, 95*time.Millisecond, snap.P95Latency)
	assert.Equal(t, 99*time.Millisecond, snap.P99Latency)
}

func TestCollector_UnknownProviderReturnsZeroValue(t *testing.T) {
	c := NewCollector(nil)
	snap := c.Snapshot("nonexistent")
	assert.Equal(t, int64(0), snap.Total)
	assert.Equal(t, time.Duration(0), snap.P95Latency)
}

func TestCollector_ProvidersListsDistinctSorted(t *testing.T) {
	c := NewCollector(nil)
	c.RecordRequest("local", Success, time.Millisecond, 0)
	c.RecordRequest("remote", Success, time.Millisecond, 0)
	c.RecordRequest("gpu", Success, time.Millisecond, 0)

	assert.Equal(t, []string{"gpu", "local", "remote"}, c.Providers())
}

func TestCollector_SampleWindowIsBounded(t *testing.T) {
	c := NewCollector(nil)
	for i := 0; i < maxLatencySamples+50; i++ {
		c.RecordRequest("remote", Success, time.Millisecond, 0)
	}
	snap := c.Snapshot("remote")
	assert.Equal(t, int64(maxLatencySamples+50), snap.Total)
}
