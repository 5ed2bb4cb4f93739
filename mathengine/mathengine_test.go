package mathengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecallProbability_Bounds(t *testing.T) {
	now := time.Now()
	lastAccessed := now.Add(-2 * time.Hour)

	result, err := RecallProbability(RecallParams{
		ConsolidationStrength: 1.5,
		DecayRate:             1.2,
		LastAccessedAt:        &lastAccessed,
		CreatedAt:             now.Add(-10 * time.Hour),
		AccessCount:           10,
		ImportanceScore:       0.7,
		Now:                   now,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.RecallProbability, 0.25)
	assert.LessOrEqual(t, result.RecallProbability, 0.35)
}

func TestRecallProbability_DeterministicBitEqual(t *testing.T) {
	now := time.Now()
	lastAccessed := now.Add(-2 * time.Hour)
	params := RecallParams{
		ConsolidationStrength: 1.5,
		DecayRate:             1.2,
		LastAccessedAt:        &lastAccessed,
		CreatedAt:             now.Add(-10 * time.Hour),
		AccessCount:           10,
		ImportanceScore:       0.7,
		Now:                   now,
	}

	a, err := RecallProbability(params)
	require.NoError(t, err)
	b, err := RecallProbability(params)
	require.NoError(t, err)
	assert.Equal(t, a.RecallProbability, b.RecallProbability)
}

func TestRecallProbability_InvariantAlwaysInUnitInterval(t *testing.T) {
	now := time.Now()
	cases := []RecallParams{
		{ConsolidationStrength: 1, DecayRate: 0.01, CreatedAt: now.Add(-10000 * time.Hour), Now: now},
		{ConsolidationStrength: 10, DecayRate: 5, CreatedAt: now, Now: now, ImportanceScore: 1, AccessCount: 1000},
		{ConsolidationStrength: 3, DecayRate: 0.5, CreatedAt: now.Add(-1 * time.Hour), Now: now, AccessCount: -5},
	}
	for _, c := range cases {
		r, err := RecallProbability(c)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.RecallProbability, 0.0)
		assert.LessOrEqual(t, r.RecallProbability, 1.0)
	}
}

func TestRecallProbability_InvalidParameter(t *testing.T) {
	_, err := RecallProbability(RecallParams{ConsolidationStrength: 0.5, DecayRate: 1, Now: time.Now()})
	require.Error(t, err)

	_, err = RecallProbability(RecallParams{ConsolidationStrength: 1, DecayRate: 0, Now: time.Now()})
	require.Error(t, err)
}

func TestUpdateConsolidation_MonotoneAndSaturating(t *testing.T) {
	g := 1.0
	for i := 0; i < 200; i++ {
		next, err := UpdateConsolidation(g, 24)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, next, g)
		g = next
	}
	assert.LessOrEqual(t, g, 10.0)
}

func TestClassifyByRecall_Thresholds(t *testing.T) {
	assert.Equal(t, TierFrozen, ClassifyByRecall(0.0))
	assert.Equal(t, TierFrozen, ClassifyByRecall(FrozenThreshold))
	assert.Equal(t, TierCold, ClassifyByRecall(FrozenThreshold+0.001))
	assert.Equal(t, TierCold, ClassifyByRecall(ColdThreshold))
	assert.Equal(t, TierWorking, ClassifyByRecall(ColdThreshold+0.001))
}

func TestCombinedScore_DefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	require.NoError(t, w.Validate())

	score, err := CombinedScore(w, 0.9, 0.5, 0.5, 20)
	require.NoError(t, err)
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestCombinedScore_RejectsBadWeights(t *testing.T) {
	bad := Weights{Similarity: 0.9, Temporal: 0.2, Importance: 0.2, Frequency: 0.1}
	_, err := CombinedScore(bad, 0.5, 0.5, 0.5, 1)
	require.Error(t, err)
}
