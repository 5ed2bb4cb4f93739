package migration

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/memory"
	"github.com/engramhq/engram/repository"
)

func TestDecayClock_ProposesDemotionForDecayedMemory(t *testing.T) {
	mockClock := clock.NewMock()
	mockClock.Set(time.Now())
	repo := repository.NewWithClock(mockClock)

	m, err := repo.Create(context.Background(), memory.Spec{Content: "old fact", ImportanceScore: 0.1, DecayRate: 2.0})
	require.NoError(t, err)

	mockClock.Add(240 * time.Hour) // enough elapsed time to decay well past the cold threshold

	source := NewDecayClockWithClock(repo, mockClock)
	requests, err := source.Poll()
	require.NoError(t, err)

	require.NotEmpty(t, requests)
	found := false
	for _, r := range requests {
		if r.MemoryID == m.ID {
			found = true
			assert.Equal(t, memory.Working, r.FromTier)
			assert.Contains(t, []memory.Tier{memory.Warm, memory.Cold}, r.ToTier)
		}
	}
	assert.True(t, found)
}

func TestDecayClock_FreshMemoryNotProposed(t *testing.T) {
	mockClock := clock.NewMock()
	mockClock.Set(time.Now())
	repo := repository.NewWithClock(mockClock)

	_, err := repo.Create(context.Background(), memory.Spec{Content: "fresh fact", ImportanceScore: 0.9, DecayRate: 0.01})
	require.NoError(t, err)

	source := NewDecayClockWithClock(repo, mockClock)
	requests, err := source.Poll()
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestIsDemotion(t *testing.T) {
	assert.True(t, isDemotion(memory.Working, memory.Cold))
	assert.False(t, isDemotion(memory.Cold, memory.Working))
	assert.False(t, isDemotion(memory.Warm, memory.Warm))
}

func TestAccessPatternTracker_PromotesFrequentlyReaccessedColdMemory(t *testing.T) {
	ctx := context.Background()
	repo := repository.New()

	m, err := repo.Create(ctx, memory.Spec{Content: "rediscovered fact", ImportanceScore: 0.3})
	require.NoError(t, err)
	_, err = repo.Migrate(ctx, m.ID, memory.Cold, "seed")
	require.NoError(t, err)

	tracker := NewAccessPatternTracker(repo, 3)

	_, err = tracker.Poll()
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := repo.Get(ctx, m.ID)
		require.NoError(t, err)
	}

	requests, err := tracker.Poll()
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, m.ID, requests[0].MemoryID)
	assert.Equal(t, memory.Cold, requests[0].FromTier)
	assert.Equal(t, memory.Warm, requests[0].ToTier)
}

func TestAccessPatternTracker_NoPromotionBelowThreshold(t *testing.T) {
	ctx := context.Background()
	repo := repository.New()

	m, err := repo.Create(ctx, memory.Spec{Content: "rarely touched fact", ImportanceScore: 0.3})
	require.NoError(t, err)
	_, err = repo.Migrate(ctx, m.ID, memory.Cold, "seed")
	require.NoError(t, err)

	tracker := NewAccessPatternTracker(repo, 3)
	_, err = tracker.Poll()
	require.NoError(t, err)

	_, err = repo.Get(ctx, m.ID)
	require.NoError(t, err)

	requests, err := tracker.Poll()
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestMemoryPressureMonitor_DemotesWhenOverCapacity(t *testing.T) {
	ctx := context.Background()
	repo := repository.New()

	for i := 0; i < 10; i++ {
		_, err := repo.Create(ctx, memory.Spec{
			Content:         string(rune('a' + i)),
			ImportanceScore: float64(i) / 10,
		})
		require.NoError(t, err)
	}

	monitor := NewMemoryPressureMonitor(repo, 10, 0.5)
	requests, err := monitor.Poll()
	require.NoError(t, err)
	assert.NotEmpty(t, requests)
	for _, r := range requests {
		assert.Equal(t, memory.Working, r.FromTier)
		assert.Equal(t, memory.Warm, r.ToTier)
	}
}

func TestMemoryPressureMonitor_NoActionUnderCapacity(t *testing.T) {
	ctx := context.Background()
	repo := repository.New()

	_, err := repo.Create(ctx, memory.Spec{Content: "just one", ImportanceScore: 0.5})
	require.NoError(t, err)

	monitor := NewMemoryPressureMonitor(repo, 100, 0.8)
	requests, err := monitor.Poll()
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestEventTriggerSource_PromotesColdMemoryOnTriggerMatch(t *testing.T) {
	ctx := context.Background()
	repo := repository.New()

	m, err := repo.Create(ctx, memory.Spec{
		Content:         "a critical security vulnerability and exploit was found in the authentication flow",
		ImportanceScore: 0.4,
	})
	require.NoError(t, err)
	_, err = repo.Migrate(ctx, m.ID, memory.Cold, "seed")
	require.NoError(t, err)

	source := NewEventTriggerSource(repo)
	requests, err := source.Poll()
	require.NoError(t, err)

	require.Len(t, requests, 1)
	assert.Equal(t, m.ID, requests[0].MemoryID)
	assert.Equal(t, memory.Cold, requests[0].FromTier)
	assert.Equal(t, memory.Warm, requests[0].ToTier)
}

func TestEventTriggerSource_NoMatchNoProposal(t *testing.T) {
	ctx := context.Background()
	repo := repository.New()

	m, err := repo.Create(ctx, memory.Spec{Content: "an ordinary note about lunch plans", ImportanceScore: 0.4})
	require.NoError(t, err)
	_, err = repo.Migrate(ctx, m.ID, memory.Cold, "seed")
	require.NoError(t, err)

	source := NewEventTriggerSource(repo)
	requests, err := source.Poll()
	require.NoError(t, err)
	assert.Empty(t, requests)
}
