// Package tiering implements the Auto-Tiering Classifier from §4.I:
// periodic and on-demand reclassification of Working-tier memories,
// plus enforcement of the Working-tier capacity limit. Pattern
// matching follows security.PIIMasker's compiled-regexp-plus-metadata
// shape; the patterns and working-memory cap themselves are carried
// over exactly from original_source/src/memory/auto_tiering.rs.
package tiering

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/engramhq/engram/mathengine"
	"github.com/engramhq/engram/memory"
	"github.com/engramhq/engram/repository"
)

// MaxWorkingMemories is Miller's 7±2 capacity cap on the Working tier
// (auto_tiering.rs's MAX_WORKING_MEMORIES).
const MaxWorkingMemories = 9

var (
	testPattern = regexp.MustCompile(`(?i)(test|health check|concurrent.*thread|binary size)`)
	devPattern  = regexp.MustCompile(`(?i)(jira|story \d+|status:\s*completed|development.*summary|creating rust)`)
)

// Classification is the (tier, importance) pair classify_memory
// computes for one piece of content.
type Classification struct {
	Tier            memory.Tier
	ImportanceScore float64
	Changed         bool
}

// Classify implements §4.I's four-rule cascade against lowercased
// content, returning the memory's current tier/importance unchanged
// when no rule matches.
func Classify(m *memory.Memory) Classification {
	content := strings.ToLower(m.Content)

	switch {
	case testPattern.MatchString(content):
		return Classification{Tier: memory.Cold, ImportanceScore: 0.1, Changed: m.Tier != memory.Cold || m.ImportanceScore != 0.1}
	case devPattern.MatchString(content):
		return Classification{Tier: memory.Warm, ImportanceScore: 0.3, Changed: m.Tier != memory.Warm || m.ImportanceScore != 0.3}
	case isLowValue(content):
		return Classification{Tier: memory.Warm, ImportanceScore: 0.4, Changed: m.Tier != memory.Warm || m.ImportanceScore != 0.4}
	default:
		return Classification{Tier: m.Tier, ImportanceScore: m.ImportanceScore, Changed: false}
	}
}

// isLowValue covers §4.I rule 3's "other low-value heuristics":
// very short content, or the thread/item test-fixture shape the
// reference implementation also special-cases.
func isLowValue(content string) bool {
	if len(content) < 20 {
		return true
	}
	if strings.Contains(content, "thread") && strings.Contains(content, "item") {
		return true
	}
	return false
}

// Report summarizes one pass of Apply, mirroring the Rust reference's
// TieringReport.
type Report struct {
	MovedToWarm        int
	MovedToCold         int
	DemotedForCapacity  int
	WorkingMemoryCount  int
}

// Classifier runs the classification cascade plus capacity enforcement
// against a Repository.
type Classifier struct {
	repo    repository.Repository
	weights mathengine.Weights
}

// New builds a Classifier over repo using the default combined-score
// weights for capacity-enforcement ranking.
func New(repo repository.Repository) *Classifier {
	return &Classifier{repo: repo, weights: mathengine.DefaultWeights()}
}

// Apply runs one classification+capacity-enforcement pass over every
// Working-tier memory (§4.I).
func (c *Classifier) Apply(ctx context.Context) (Report, error) {
	working, err := c.repo.GetMemoriesByTier(ctx, memory.Working, 0, 0)
	if err != nil {
		return Report{}, err
	}

	report := Report{}
	for _, m := range working {
		result := Classify(m)
		if !result.Changed {
			continue
		}
		importance := result.ImportanceScore
		if _, err := c.repo.Update(ctx, m.ID, memory.Patch{ImportanceScore: &importance}); err != nil {
			return report, err
		}
		if _, err := c.repo.Migrate(ctx, m.ID, result.Tier, "auto_tiering_classification"); err != nil {
			return report, err
		}
		switch result.Tier {
		case memory.Warm:
			report.MovedToWarm++
		case memory.Cold:
			report.MovedToCold++
		}
	}

	demoted, err := c.enforceCapacity(ctx)
	if err != nil {
		return report, err
	}
	report.DemotedForCapacity = demoted

	remaining, err := c.repo.GetMemoriesByTier(ctx, memory.Working, 0, 0)
	if err != nil {
		return report, err
	}
	report.WorkingMemoryCount = len(remaining)
	return report, nil
}

// enforceCapacity demotes the combined-score tail of the Working tier
// to Warm once it exceeds MaxWorkingMemories, tie-breaking on
// importance descending (§4.I).
func (c *Classifier) enforceCapacity(ctx context.Context) (int, error) {
	working, err := c.repo.GetMemoriesByTier(ctx, memory.Working, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(working) <= MaxWorkingMemories {
		return 0, nil
	}

	type scored struct {
		m     *memory.Memory
		score float64
	}
	ranked := make([]scored, 0, len(working))
	for _, m := range working {
		score, err := c.combinedScore(m)
		if err != nil {
			return 0, err
		}
		ranked = append(ranked, scored{m: m, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].m.ImportanceScore > ranked[j].m.ImportanceScore
	})

	demoted := 0
	for _, entry := range ranked[MaxWorkingMemories:] {
		if _, err := c.repo.Migrate(ctx, entry.m.ID, memory.Warm, "working_capacity_exceeded"); err != nil {
			return demoted, err
		}
		demoted++
	}
	return demoted, nil
}

func (c *Classifier) combinedScore(m *memory.Memory) (float64, error) {
	recallResult, err := mathengine.RecallProbability(mathengine.RecallParams{
		ConsolidationStrength: clampFloor(m.ConsolidationStrength),
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
	similarity := 1.0 // capacity ranking has no query; a constant similarity adds the same amount to every score
	return mathengine.CombinedScore(c.weights, similarity, recallResult.RecallProbability, m.ImportanceScore, m.AccessCount)
}

func clampFloor(g float64) float64 {
	if g < 1 {
		return 1
	}
	return g
}
