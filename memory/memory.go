// Package memory defines the central Memory entity and the invariants
// that every other component (Repository, Math Engine, Classifier,
// Migration Engine) must preserve when it reads or mutates one.
package memory

import (
	"time"

	"github.com/google/uuid"

	"github.com/engramhq/engram/errs"
)

// Tier is a coarse storage class governing retention priority and
// search prominence.
type Tier string

const (
	Working Tier = "working"
	Warm    Tier = "warm"
	Cold    Tier = "cold"
	Frozen  Tier = "frozen" // terminal archival state
)

// Status is the lifecycle state of a Memory.
type Status string

const (
	Active  Status = "active"
	Expired Status = "expired"
	Deleted Status = "deleted"
)

// Memory is the central entity of the store. Values are owned
// exclusively by the Repository; every other component holds a copy or
// a transient borrowed view (§3 Ownership).
type Memory struct {
	ID                    string
	Content               string
	Embedding             []float32
	EmbeddingDim          int
	Tier                  Tier
	Status                Status
	ImportanceScore       float64
	ConsolidationStrength float64
	DecayRate             float64
	AccessCount           int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
	LastAccessedAt        *time.Time
	ExpiresAt             *time.Time
	Metadata              map[string]any
	ParentID              string
}

// Spec is the input to Repository.Create: everything the caller may
// choose, before the Repository assigns id/timestamps.
type Spec struct {
	Content         string
	Embedding       []float32
	ImportanceScore float64
	DecayRate       float64
	Metadata        map[string]any
	ParentID        string
	ExpiresAt       *time.Time
}

// DefaultDecayRate is used when a Spec omits one.
const DefaultDecayRate = 0.1

// MaxConsolidationStrength is the saturation point from §4.A.
const MaxConsolidationStrength = 10.0

// New builds a fresh Memory from a Spec, assigning id and timestamps.
// It does not validate acyclicity — that is the Repository's job since
// only the Repository can see the full parent chain.
func New(spec Spec, now time.Time) (*Memory, error) {
	if spec.Content == "" {
		return nil, errs.New(errs.InvalidInput, "content must not be empty")
	}
	importance := spec.ImportanceScore
	if importance < 0 || importance > 1 {
		return nil, errs.New(errs.InvalidInput, "importance_score must be in [0,1]")
	}
	decay := spec.DecayRate
	if decay == 0 {
		decay = DefaultDecayRate
	}
	if decay <= 0 {
		return nil, errs.New(errs.InvalidInput, "decay_rate must be > 0")
	}
	m := &Memory{
		ID:                    uuid.NewString(),
		Content:               spec.Content,
		Embedding:             spec.Embedding,
		EmbeddingDim:          len(spec.Embedding),
		Tier:                  Working,
		Status:                Active,
		ImportanceScore:       importance,
		ConsolidationStrength: 1.0,
		DecayRate:             decay,
		AccessCount:           0,
		CreatedAt:             now,
		UpdatedAt:             now,
		Metadata:              spec.Metadata,
		ParentID:              spec.ParentID,
		ExpiresAt:             spec.ExpiresAt,
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	return m, nil
}

// Patch carries the fields Repository.Update may change. A nil pointer
// field means "leave unchanged".
type Patch struct {
	Content         *string
	Embedding       []float32
	ImportanceScore *float64
	DecayRate       *float64
	Metadata        map[string]any
	ExpiresAt       *time.Time
	Status          *Status
	ParentID        *string
}

// Apply mutates m in place per patch, bumping UpdatedAt. Embedding
// dimension is immutable after creation (§3 invariant 4): a patch that
// tries to change the dimension is rejected.
func (m *Memory) Apply(patch Patch, now time.Time) error {
	if patch.Embedding != nil && len(patch.Embedding) != m.EmbeddingDim && m.EmbeddingDim != 0 {
		return errs.New(errs.InvalidInput, "embedding dimension is immutable after creation")
	}
	if patch.Content != nil {
		if *patch.Content == "" {
			return errs.New(errs.InvalidInput, "content must not be empty")
		}
		m.Content = *patch.Content
	}
	if patch.Embedding != nil {
		m.Embedding = patch.Embedding
		if m.EmbeddingDim == 0 {
			m.EmbeddingDim = len(patch.Embedding)
		}
	}
	if patch.ImportanceScore != nil {
		if *patch.ImportanceScore < 0 || *patch.ImportanceScore > 1 {
			return errs.New(errs.InvalidInput, "importance_score must be in [0,1]")
		}
		m.ImportanceScore = *patch.ImportanceScore
	}
	if patch.DecayRate != nil {
		if *patch.DecayRate <= 0 {
			return errs.New(errs.InvalidInput, "decay_rate must be > 0")
		}
		m.DecayRate = *patch.DecayRate
	}
	if patch.Metadata != nil {
		m.Metadata = patch.Metadata
	}
	if patch.ExpiresAt != nil {
		m.ExpiresAt = patch.ExpiresAt
	}
	if patch.Status != nil {
		m.Status = *patch.Status
	}
	if patch.ParentID != nil {
		m.ParentID = *patch.ParentID
	}
	m.UpdatedAt = now
	return nil
}

// RecordAccess applies an access event: increments AccessCount and sets
// LastAccessedAt. ConsolidationStrength is not bumped here — the caller
// (the Repository, which holds the prior LastAccessedAt needed to
// compute the access interval) is responsible for applying the §4.A
// consolidation update exactly once per access via
// mathengine.UpdateConsolidation.
func (m *Memory) RecordAccess(now time.Time) {
	m.AccessCount++
	m.LastAccessedAt = &now
}

// AllowedTransition enforces the one-way tier lattice from §4.H:
// Working <-> Warm <-> Cold -> Frozen; reverse from Frozen is disallowed.
func AllowedTransition(from, to Tier) bool {
	if from == to {
		return true
	}
	if from == Frozen {
		return false
	}
	switch to {
	case Working, Warm, Cold:
		return true
	case Frozen:
		return from == Cold
	default:
		return false
	}
}
