// Package migration implements the Migration Engine, Scheduler, and
// bounded Worker Pool from §4.J — the hardest concurrency subsystem in
// the store. Bookkeeping (per-id locks and the in-flight set) uses
// mutex-guarded maps keyed by memory id, modeled as an endpoint-registry
// pattern; execution runs under a shared Circuit Breaker with
// circuit-scoped dispatch.
package migration

import (
	"time"

	"github.com/engramhq/engram/memory"
)

// UnitState is the per-migration-unit state machine from §4.J:
// Queued -> Running -> (Succeeded | Failed | RolledBack), with
// Running -> Retrying -> Running on transient errors.
type UnitState string

const (
	Queued     UnitState = "queued"
	Running    UnitState = "running"
	Retrying   UnitState = "retrying"
	Succeeded  UnitState = "succeeded"
	Failed     UnitState = "failed"
	RolledBack UnitState = "rolled_back"
)

// UnitRequest is one caller-submitted unit migration.
type UnitRequest struct {
	MemoryID string
	FromTier memory.Tier
	ToTier   memory.Tier
	Reason   string
}

// Unit tracks one migration request through its lifecycle.
type Unit struct {
	MemoryID string
	FromTier memory.Tier
	ToTier   memory.Tier
	Reason   string
	State    UnitState
	Attempts int
	Err      error
}

// Progress is a batch's atomically-updated counters, per §4.J.
type Progress struct {
	Total     int
	Succeeded int
	Failed    int
	InFlight  int
	StartedAt time.Time
}

// Batch is one planned group of unit migrations produced by the
// Engine from triggers, plus its progress record.
type Batch struct {
	ID       string
	Units    []*Unit
	Progress Progress
	done     chan struct{}
}

// Done returns a channel closed when every unit in the batch has
// reached a terminal state, for observers to subscribe to completion.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// TriggerSource is one producer of migration requests, per §4.J's
// trigger taxonomy: decay clock, access-pattern tracker, memory-
// pressure monitor, event triggers, or an explicit API request.
type TriggerSource interface {
	Name() string
	Poll() ([]UnitRequest, error)
}
