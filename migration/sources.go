package migration

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/engramhq/engram/mathengine"
	"github.com/engramhq/engram/memory"
	"github.com/engramhq/engram/repository"
	"github.com/engramhq/engram/triggers"
)

// DecayClock is the first trigger source from §4.J's taxonomy: it
// polls Working, Warm, and Cold tier memories and requests a migration for
// any whose recall probability has dropped below the next tier's
// threshold.
type DecayClock struct {
	repo    repository.Repository
	weights mathengine.Weights
	clock   clock.Clock
	pageSize int
}

// NewDecayClock builds a DecayClock polling repo with the wall clock.
func NewDecayClock(repo repository.Repository) *DecayClock {
	return &DecayClock{repo: repo, weights: mathengine.DefaultWeights(), clock: clock.New(), pageSize: 500}
}

// NewDecayClockWithClock builds a DecayClock with an injected clock for
// deterministic tests.
func NewDecayClockWithClock(repo repository.Repository, clk clock.Clock) *DecayClock {
	return &DecayClock{repo: repo, weights: mathengine.DefaultWeights(), clock: clk, pageSize: 500}
}

// Name identifies this trigger source in logs.
func (d *DecayClock) Name() string { return "decay_clock" }

// Poll scans the first page (up to pageSize) of Working, Warm, and Cold
// tier memories and proposes a demotion for
// any whose recall probability has fallen to or below the tier
// appropriate for its current recall, per §4.A's ClassifyByRecall.
func (d *DecayClock) Poll() ([]UnitRequest, error) {
	ctx := context.Background()
	var requests []UnitRequest

	for _, tier := range []memory.Tier{memory.Working, memory.Warm, memory.Cold} {
		memories, err := d.repo.GetMemoriesByTier(ctx, tier, d.pageSize, 0)
		if err != nil {
			return nil, err
		}
		for _, m := range memories {
			result, err := mathengine.RecallProbability(mathengine.RecallParams{
				ConsolidationStrength: m.ConsolidationStrength,
				DecayRate:             m.DecayRate,
				LastAccessedAt:        m.LastAccessedAt,
				CreatedAt:             m.CreatedAt,
				AccessCount:           m.AccessCount,
				ImportanceScore:       m.ImportanceScore,
				Now:                   d.clock.Now(),
			})
			if err != nil {
				continue
			}

			target := recallTierToMemoryTier(mathengine.ClassifyByRecall(result.RecallProbability), tier)
			if !isDemotion(tier, target) {
				continue
			}
			requests = append(requests, UnitRequest{
				MemoryID: m.ID,
				FromTier: tier,
				ToTier:   target,
				Reason:   "decay_clock: recall probability below tier threshold",
			})
		}
	}
	return requests, nil
}

// recallTierToMemoryTier translates a recall-classified tier into the
// concrete migration target, respecting the one-way lattice's rule
// that Frozen is reachable only from Cold (§4.H): a memory that is not
// yet Cold but decays to frozen-level recall first lands in Cold.
func recallTierToMemoryTier(t mathengine.Tier, current memory.Tier) memory.Tier {
	switch t {
	case mathengine.TierFrozen:
		if current == memory.Cold {
			return memory.Frozen
		}
		return memory.Cold
	case mathengine.TierCold:
		return memory.Cold
	case mathengine.TierWarm:
		return memory.Warm
	default:
		return memory.Working
	}
}

var tierRank = map[memory.Tier]int{
	memory.Working: 0,
	memory.Warm:    1,
	memory.Cold:    2,
	memory.Frozen:  3,
}

func isDemotion(from, to memory.Tier) bool {
	return tierRank[to] > tierRank[from]
}

// AccessPatternTracker is the second trigger source from §4.J's
// taxonomy: a Cold-tier memory that gets re-accessed several times
// between polls is promoted back to Warm, since renewed access means a
// decayed memory has become relevant again.
type AccessPatternTracker struct {
	repo      repository.Repository
	threshold int64
	pageSize  int

	mu       sync.Mutex
	lastSeen map[string]int64
}

// NewAccessPatternTracker builds an AccessPatternTracker requiring at
// least threshold additional accesses between polls before promoting.
func NewAccessPatternTracker(repo repository.Repository, threshold int64) *AccessPatternTracker {
	return &AccessPatternTracker{repo: repo, threshold: threshold, pageSize: 500, lastSeen: make(map[string]int64)}
}

// Name identifies this trigger source in logs.
func (a *AccessPatternTracker) Name() string { return "access_pattern_tracker" }

// Poll scans Cold tier memories and proposes a Cold->Warm promotion for
// any whose access_count grew by at least threshold since the last
// poll. Memories no longer in Cold are dropped from the tracked set so
// it doesn't grow unbounded.
func (a *AccessPatternTracker) Poll() ([]UnitRequest, error) {
	ctx := context.Background()
	memories, err := a.repo.GetMemoriesByTier(ctx, memory.Cold, a.pageSize, 0)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]int64, len(memories))
	var requests []UnitRequest
	for _, m := range memories {
		prev, tracked := a.lastSeen[m.ID]
		seen[m.ID] = m.AccessCount
		if tracked && m.AccessCount-prev >= a.threshold {
			requests = append(requests, UnitRequest{
				MemoryID: m.ID,
				FromTier: memory.Cold,
				ToTier:   memory.Warm,
				Reason:   "access_pattern_tracker: frequent re-access",
			})
		}
	}
	a.lastSeen = seen
	return requests, nil
}

// MemoryPressureMonitor is the third trigger source from §4.J's
// taxonomy: once total memory count crosses a configured fraction of
// capacity, it demotes the lowest combined-score tail of the Working
// tier to Warm, one memory per unit of overage, mirroring a token-aware
// flush-at-threshold policy. Demotion does not change the total count,
// so the next poll sees the same overage.
type MemoryPressureMonitor struct {
	repo      repository.Repository
	weights   mathengine.Weights
	capacity  int
	threshold float64
}

// NewMemoryPressureMonitor builds a MemoryPressureMonitor that starts
// relieving pressure once total memory count reaches threshold
// (fraction of capacity, e.g. 0.8 for 80%).
func NewMemoryPressureMonitor(repo repository.Repository, capacity int, threshold float64) *MemoryPressureMonitor {
	return &MemoryPressureMonitor{repo: repo, weights: mathengine.DefaultWeights(), capacity: capacity, threshold: threshold}
}

// Name identifies this trigger source in logs.
func (p *MemoryPressureMonitor) Name() string { return "memory_pressure_monitor" }

// Poll checks total memory count against capacity*threshold and, if
// at or over it, proposes demoting the lowest-scoring Working memories
// to Warm: as many as the total exceeds the line by, capped at the
// Working population.
func (p *MemoryPressureMonitor) Poll() ([]UnitRequest, error) {
	ctx := context.Background()
	if p.capacity <= 0 {
		return nil, nil
	}

	stats, err := p.repo.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}
	line := float64(p.capacity) * p.threshold
	if float64(stats.TotalMemories) < line {
		return nil, nil
	}

	working, err := p.repo.GetMemoriesByTier(ctx, memory.Working, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(working) == 0 {
		return nil, nil
	}

	type scored struct {
		m     *memory.Memory
		score float64
	}
	ranked := make([]scored, 0, len(working))
	for _, m := range working {
		score, err := p.combinedScore(m)
		if err != nil {
			continue
		}
		ranked = append(ranked, scored{m: m, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })

	overage := int(float64(stats.TotalMemories) - line)
	if overage > len(ranked) {
		overage = len(ranked)
	}

	requests := make([]UnitRequest, 0, overage)
	for _, entry := range ranked[:overage] {
		requests = append(requests, UnitRequest{
			MemoryID: entry.m.ID,
			FromTier: memory.Working,
			ToTier:   memory.Warm,
			Reason:   "memory_pressure_monitor: capacity pressure relief",
		})
	}
	return requests, nil
}

func (p *MemoryPressureMonitor) combinedScore(m *memory.Memory) (float64, error) {
	consolidation := m.ConsolidationStrength
	if consolidation < 1 {
		consolidation = 1
	}
	recallResult, err := mathengine.RecallProbability(mathengine.RecallParams{
		ConsolidationStrength: consolidation,
		DecayRate:             m.DecayRate,
		LastAccessedAt:        m.LastAccessedAt,
		CreatedAt:             m.CreatedAt,
		AccessCount:           m.AccessCount,
		ImportanceScore:       m.ImportanceScore,
		Now:                   m.UpdatedAt,
	})
	if err != nil {
		return 0, err
	}
	return mathengine.CombinedScore(p.weights, 1.0, recallResult.RecallProbability, m.ImportanceScore, m.AccessCount)
}

// EventTriggerSource is the fourth trigger source from §4.J's taxonomy:
// content run back through the Event-Trigger Scoring engine (§4.M) that
// now boosts importance enough to justify promotion out of Cold is
// proposed for a Cold->Warm migration.
type EventTriggerSource struct {
	repo     repository.Repository
	engine   *triggers.Engine
	pageSize int
}

// NewEventTriggerSource builds an EventTriggerSource scanning Cold tier
// memories with triggers.New()'s default pattern taxonomy.
func NewEventTriggerSource(repo repository.Repository) *EventTriggerSource {
	return &EventTriggerSource{repo: repo, engine: triggers.New(), pageSize: 500}
}

// Name identifies this trigger source in logs.
func (e *EventTriggerSource) Name() string { return "event_trigger_source" }

// Poll re-scores Cold tier memory content against the trigger
// taxonomy; a fresh trigger match that clears its threshold promotes
// the memory to Warm, since re-surfacing a security/decision/milestone
// event means it is relevant again regardless of its decayed recall.
func (e *EventTriggerSource) Poll() ([]UnitRequest, error) {
	ctx := context.Background()
	memories, err := e.repo.GetMemoriesByTier(ctx, memory.Cold, e.pageSize, 0)
	if err != nil {
		return nil, err
	}

	var requests []UnitRequest
	for _, m := range memories {
		result := e.engine.Analyze(m.Content, m.ImportanceScore)
		if !result.Triggered {
			continue
		}
		requests = append(requests, UnitRequest{
			MemoryID: m.ID,
			FromTier: memory.Cold,
			ToTier:   memory.Warm,
			Reason:   "event_trigger_source: " + string(result.TriggerType),
		})
	}
	return requests, nil
}
