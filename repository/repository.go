// Package repository defines the Repository adapter interface from
// §4.H that the core consumes, plus an in-memory implementation built
// on a mutex+map+clock pattern. A SQL-backed adapter is explicitly out
// of scope (§4 Non-goals); this package exists so the core has
// something concrete to run against.
package repository

import (
	"context"
	"time"

	"github.com/engramhq/engram/memory"
)

// SearchMode selects how Search ranks candidates.
type SearchMode string

const (
	Semantic SearchMode = "semantic"
	Temporal SearchMode = "temporal"
	Hybrid   SearchMode = "hybrid"
)

// SearchRequest is the input to Search.
type SearchRequest struct {
	Mode            SearchMode
	QueryEmbedding  []float32
	Tier            *memory.Tier
	Limit           int
	Offset          int
}

// SearchHit is one ranked result.
type SearchHit struct {
	Memory *memory.Memory
	Score  float64
}

// SearchResponse is the output of Search.
type SearchResponse struct {
	Hits  []SearchHit
	Total int
}

// Statistics is a snapshot of repository-wide counters, per §4.H.
type Statistics struct {
	TotalMemories int
	ByTier        map[memory.Tier]int
	ByStatus      map[memory.Status]int
	TotalAccesses int64
}

// MigrationHistoryEntry is one append-only record of a Migrate call,
// per §6's migration history log and §3 invariant 6 ("every migration
// produces exactly one entry"). Recorded for both successful and
// rejected (disallowed-transition) attempts; a Migrate call against an
// id that doesn't exist has no memory to attach the entry to and is
// not recorded.
type MigrationHistoryEntry struct {
	ID       string
	MemoryID string
	FromTier memory.Tier
	ToTier   memory.Tier
	Reason   string
	Success  bool
	At       time.Time
}

// Repository is the adapter interface the core depends on exclusively.
// Everything else in the core — Math Engine, Classifier, Migration
// Engine, transport handlers — only ever talks to this interface.
type Repository interface {
	Create(ctx context.Context, spec memory.Spec) (*memory.Memory, error)
	Get(ctx context.Context, id string) (*memory.Memory, error)
	Update(ctx context.Context, id string, patch memory.Patch) (*memory.Memory, error)
	Delete(ctx context.Context, id string) error
	GetMemoriesByTier(ctx context.Context, tier memory.Tier, limit, offset int) ([]*memory.Memory, error)
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
	Migrate(ctx context.Context, id string, toTier memory.Tier, reason string) (*memory.Memory, error)
	GetStatistics(ctx context.Context) (Statistics, error)
	// GetMigrationHistory returns the append-only migration log,
	// filtered to memoryID if non-empty, oldest first.
	GetMigrationHistory(ctx context.Context, memoryID string) ([]MigrationHistoryEntry, error)
}
