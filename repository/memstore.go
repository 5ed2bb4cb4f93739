package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/engramhq/engram/errs"
	"github.com/engramhq/engram/mathengine"
	"github.com/engramhq/engram/memory"
	"github.com/engramhq/engram/ringbuffer"
)

// MemStore is an in-memory Repository backed by a mutex-guarded map:
// every mutation happens under a single lock, since this implementation
// targets a single-process deployment (§5) rather than distributed
// storage.
type MemStore struct {
	mu       sync.RWMutex
	byID     map[string]*memory.Memory
	history  []MigrationHistoryEntry
	clock    clock.Clock
	weights  mathengine.Weights
	hotCache *ringbuffer.Buffer
}

// New builds an empty MemStore using the wall clock and the default
// combined-score weights.
func New() *MemStore {
	return NewWithClock(clock.New())
}

// NewWithClock builds an empty MemStore with an injected clock, for
// deterministic recall/consolidation tests.
func NewWithClock(clk clock.Clock) *MemStore {
	return &MemStore{byID: make(map[string]*memory.Memory), clock: clk, weights: mathengine.DefaultWeights()}
}

// NewWithHotCache builds a MemStore that additionally mirrors every
// created or updated Memory's serialized form into hotCache (§4.L): the
// Working-Memory Ring Buffer sits ahead of the map as a hot read cache
// for the most recently touched chunks. hotCache may be nil, in which
// case the mirror is skipped.
func NewWithHotCache(clk clock.Clock, hotCache *ringbuffer.Buffer) *MemStore {
	s := NewWithClock(clk)
	s.hotCache = hotCache
	return s
}

// mirrorToHotCacheLocked best-effort serializes m and appends it to the
// hot cache ring buffer. The buffer is a cache, not a source of truth
// (§3 Ownership), so TooLarge/Full and marshal errors are swallowed
// rather than surfaced to the caller.
func (s *MemStore) mirrorToHotCacheLocked(m *memory.Memory) {
	if s.hotCache == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	_, _ = s.hotCache.Write(data)
}

// Create rejects duplicate content within the same tier (§4.H). New
// memories always start in the Working tier (memory.New's invariant).
func (s *MemStore) Create(ctx context.Context, spec memory.Spec) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.Status != memory.Deleted && existing.Tier == memory.Working && existing.Content == spec.Content {
			return nil, errs.New(errs.DuplicateContent, "duplicate content within tier")
		}
	}
	if spec.ParentID != "" {
		// A brand-new memory can never close a cycle: its id does not
		// yet exist anywhere in the graph, so only existence needs
		// checking here. Re-parenting an existing memory (Update) is
		// where a cycle becomes possible.
		if _, ok := s.byID[spec.ParentID]; !ok {
			return nil, errs.New(errs.InvalidInput, "parent_id does not reference an existing memory")
		}
	}

	m, err := memory.New(spec, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.byID[m.ID] = m
	s.mirrorToHotCacheLocked(m)
	return cloneMemory(m), nil
}

// wouldCycleLocked reports whether newParentID is a descendant of
// target, i.e. whether newParentID's ancestor chain passes through
// target — making target its own ancestor if it is reparented under
// newParentID.
func (s *MemStore) wouldCycleLocked(newParentID, target string) bool {
	seen := map[string]bool{}
	id := newParentID
	for id != "" {
		if id == target {
			return true
		}
		if seen[id] {
			return false // pre-existing cycle elsewhere; not this call's concern
		}
		seen[id] = true
		m, ok := s.byID[id]
		if !ok {
			return false
		}
		id = m.ParentID
	}
	return false
}

// Get increments access_count and updates last_accessed_at atomically,
// then triggers a Math Engine consolidation update on the returned
// value (§4.H).
func (s *MemStore) Get(ctx context.Context, id string) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok || m.Status == memory.Deleted {
		return nil, errs.New(errs.NotFound, "memory not found")
	}

	now := s.clock.Now()
	var lastAccessed time.Time
	if m.LastAccessedAt != nil {
		lastAccessed = *m.LastAccessedAt
	}
	m.RecordAccess(now)
	if !lastAccessed.IsZero() {
		deltaHours := now.Sub(lastAccessed).Hours()
		if g, err := mathengine.UpdateConsolidation(m.ConsolidationStrength, deltaHours); err == nil {
			m.ConsolidationStrength = g
		}
	}
	return cloneMemory(m), nil
}

// Update applies patch and returns the updated Memory. A ParentID
// change is validated against the full parent graph before it is
// applied, since only the Repository can see every memory (§3).
func (s *MemStore) Update(ctx context.Context, id string, patch memory.Patch) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok || m.Status == memory.Deleted {
		return nil, errs.New(errs.NotFound, "memory not found")
	}
	if patch.ParentID != nil && *patch.ParentID != "" {
		if *patch.ParentID == id {
			return nil, errs.New(errs.InvalidInput, "parent_id would introduce a cycle")
		}
		if _, exists := s.byID[*patch.ParentID]; !exists {
			return nil, errs.New(errs.InvalidInput, "parent_id does not reference an existing memory")
		}
		if s.wouldCycleLocked(*patch.ParentID, id) {
			return nil, errs.New(errs.InvalidInput, "parent_id would introduce a cycle")
		}
	}
	if err := m.Apply(patch, s.clock.Now()); err != nil {
		return nil, err
	}
	s.mirrorToHotCacheLocked(m)
	return cloneMemory(m), nil
}

// Delete soft-deletes by setting status = Deleted (§4.H).
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return errs.New(errs.NotFound, "memory not found")
	}
	deleted := memory.Deleted
	return m.Apply(memory.Patch{Status: &deleted}, s.clock.Now())
}

// GetMemoriesByTier lists active memories in tier, newest-first, with
// offset/limit pagination.
func (s *MemStore) GetMemoriesByTier(ctx context.Context, tier memory.Tier, limit, offset int) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*memory.Memory
	for _, m := range s.byID {
		if m.Status == memory.Deleted || m.Tier != tier {
			continue
		}
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })

	return paginate(matches, limit, offset), nil
}

func paginate(items []*memory.Memory, limit, offset int) []*memory.Memory {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	out := make([]*memory.Memory, len(items))
	for i, m := range items {
		out[i] = cloneMemory(m)
	}
	return out
}

// Search ranks active memories per req.Mode (§4.H): Semantic uses
// cosine similarity on embeddings, Temporal uses the Math Engine's
// recall probability, Hybrid blends both through CombinedScore.
func (s *MemStore) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	var hits []SearchHit
	for _, m := range s.byID {
		if m.Status == memory.Deleted {
			continue
		}
		if req.Tier != nil && m.Tier != *req.Tier {
			continue
		}
		score, err := s.scoreLocked(m, req, now)
		if err != nil {
			continue
		}
		hits = append(hits, SearchHit{Memory: cloneMemory(m), Score: score})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	total := len(hits)
	paged := hits
	if req.Offset > 0 && req.Offset < len(paged) {
		paged = paged[req.Offset:]
	} else if req.Offset >= len(paged) {
		paged = nil
	}
	if req.Limit > 0 && req.Limit < len(paged) {
		paged = paged[:req.Limit]
	}
	return SearchResponse{Hits: paged, Total: total}, nil
}

func (s *MemStore) scoreLocked(m *memory.Memory, req SearchRequest, now time.Time) (float64, error) {
	recallResult, err := mathengine.RecallProbability(mathengine.RecallParams{
		ConsolidationStrength: max1(m.ConsolidationStrength),
		DecayRate:             m.DecayRate,
		LastAccessedAt:        m.LastAccessedAt,
		CreatedAt:             m.CreatedAt,
		AccessCount:           m.AccessCount,
		ImportanceScore:       m.ImportanceScore,
		Now:                   now,
	})
	if err != nil {
		return 0, err
	}
	recall := recallResult.RecallProbability

	switch req.Mode {
	case Temporal:
		return recall, nil
	case Semantic:
		return cosineSimilarity(req.QueryEmbedding, m.Embedding), nil
	default: // Hybrid
		similarity := cosineSimilarity(req.QueryEmbedding, m.Embedding)
		return mathengine.CombinedScore(s.weights, similarity, recall, m.ImportanceScore, m.AccessCount)
	}
}

func max1(g float64) float64 {
	if g < 1 {
		return 1
	}
	return g
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Migrate enforces allowed tier transitions (§4.H, memory.AllowedTransition)
// and appends exactly one entry to the migration history log (§3
// invariant 6, §6) for every attempt against an existing memory,
// whether it succeeds or is rejected for a disallowed transition.
func (s *MemStore) Migrate(ctx context.Context, id string, toTier memory.Tier, reason string) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok || m.Status == memory.Deleted {
		return nil, errs.New(errs.NotFound, "memory not found")
	}
	fromTier := m.Tier
	if !memory.AllowedTransition(fromTier, toTier) {
		s.recordMigrationLocked(id, fromTier, toTier, reason, false)
		return nil, errs.New(errs.InvalidInput, "tier transition not allowed")
	}
	m.Tier = toTier
	m.UpdatedAt = s.clock.Now()
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	if reason != "" {
		m.Metadata["last_migration_reason"] = reason
	}
	s.recordMigrationLocked(id, fromTier, toTier, reason, true)
	s.mirrorToHotCacheLocked(m)
	return cloneMemory(m), nil
}

func (s *MemStore) recordMigrationLocked(memoryID string, fromTier, toTier memory.Tier, reason string, success bool) {
	s.history = append(s.history, MigrationHistoryEntry{
		ID:       uuid.NewString(),
		MemoryID: memoryID,
		FromTier: fromTier,
		ToTier:   toTier,
		Reason:   reason,
		Success:  success,
		At:       s.clock.Now(),
	})
}

// GetMigrationHistory returns the append-only migration log, oldest
// first, filtered to memoryID when non-empty.
func (s *MemStore) GetMigrationHistory(ctx context.Context, memoryID string) ([]MigrationHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if memoryID == "" {
		out := make([]MigrationHistoryEntry, len(s.history))
		copy(out, s.history)
		return out, nil
	}
	var out []MigrationHistoryEntry
	for _, entry := range s.history {
		if entry.MemoryID == memoryID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// GetStatistics aggregates per-tier and per-status counts (§4.H).
func (s *MemStore) GetStatistics(ctx context.Context) (Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		ByTier:   make(map[memory.Tier]int),
		ByStatus: make(map[memory.Status]int),
	}
	for _, m := range s.byID {
		stats.TotalMemories++
		stats.ByTier[m.Tier]++
		stats.ByStatus[m.Status]++
		stats.TotalAccesses += m.AccessCount
	}
	return stats, nil
}

func cloneMemory(m *memory.Memory) *memory.Memory {
	clone := *m
	if m.Embedding != nil {
		clone.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.Metadata != nil {
		clone.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		clone.LastAccessedAt = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		clone.ExpiresAt = &t
	}
	return &clone
}

var _ Repository = (*MemStore)(nil)
