package costtracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_TotalsAndBreakdown(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.Track("remote", 0.01, 1000, now)
	tr.Track("remote", 0.02, 2000, now)
	tr.Track("gpu", 1e-5, 10, now)

	assert.InDelta(t, 0.03, tr.ProviderCost("remote"), 1e-9)
	assert.InDelta(t, 1e-5, tr.ProviderCost("gpu"), 1e-12)
	assert.InDelta(t, 0.03+1e-5, tr.TotalCost(), 1e-9)

	breakdown := tr.CostBreakdown()
	assert.Len(t, breakdown, 2)
}

func TestTracker_RecentEntriesLimitsAndOrders(t *testing.T) {
	tr := New()
	for i := 0; i < 5; i++ {
		tr.Track("local", 0, 1, time.Now())
	}
	recent := tr.RecentEntries(2)
	assert.Len(t, recent, 2)
}

func TestTracker_Clear(t *testing.T) {
	tr := New()
	tr.Track("remote", 1, 1, time.Now())
	tr.Clear()
	assert.Equal(t, 0.0, tr.TotalCost())
	assert.Empty(t, tr.RecentEntries(10))
}

func TestCalculateCost_PerProviderRates(t *testing.T) {
	assert.InDelta(t, 0.0001, CalculateCost("remote", 1000), 1e-12)
	assert.InDelta(t, GPUFixedCost, CalculateCost("gpu", 999999), 1e-12)
	assert.Equal(t, 0.0, CalculateCost("local", 999))
}
