package triggers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngine_SecurityTriggerBoost(t *testing.T) {
	e := New()
	result := e.Analyze("Security vulnerability detected in authentication system", 0.5)
	assert.True(t, result.Triggered)
	assert.Equal(t, Security, result.TriggerType)
	assert.GreaterOrEqual(t, result.Confidence, 0.7)
	assert.Greater(t, result.BoostedImportance, 0.5)
}

func TestEngine_NoMatchLeavesImportanceUnchanged(t *testing.T) {
	e := New()
	result := e.Analyze("The weather today is mild with scattered clouds", 0.5)
	assert.False(t, result.Triggered)
	assert.Equal(t, 0.5, result.BoostedImportance)
}

func TestEngine_BoostClampsToOne(t *testing.T) {
	e := New()
	result := e.Analyze("Security vulnerability exploit unauthorized breach authentication", 0.9)
	assert.True(t, result.Triggered)
	assert.LessOrEqual(t, result.BoostedImportance, 1.0)
}

func TestEngine_HighestConfidenceWinsAmongMultipleMatches(t *testing.T) {
	e := New()
	// Contains both an error keyword and a decision keyword; error's
	// pattern has denser keyword coverage in this sentence.
	result := e.Analyze("We decided the error and exception traceback panic crash failure needs a fix", 0.4)
	assert.True(t, result.Triggered)
	assert.Equal(t, Error, result.TriggerType)
}

func TestPattern_ConfidenceIsWithinUnitInterval(t *testing.T) {
	for _, p := range DefaultPatterns() {
		conf := p.confidence("security vulnerability exploit authentication breach unauthorized")
		assert.GreaterOrEqual(t, conf, 0.0)
		assert.LessOrEqual(t, conf, 1.0)
	}
}
