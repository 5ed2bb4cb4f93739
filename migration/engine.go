package migration

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/engramhq/engram/breaker"
	"github.com/engramhq/engram/errs"
	"github.com/engramhq/engram/repository"
)

// Config configures the Engine's worker pool and per-unit retry
// behavior.
type Config struct {
	PoolSize    int
	RetryConfig breaker.RetryConfig
}

// DefaultConfig matches §6's migration defaults.
func DefaultConfig() Config {
	return Config{PoolSize: 4, RetryConfig: breaker.DefaultRetryConfig()}
}

// Engine plans and executes batches of unit migrations against a
// Repository, under a shared Circuit Breaker and a per-worker Retry
// Policy, with per-id mutex serialization to resolve cross-batch
// migration cycles (§4.J).
type Engine struct {
	repo    repository.Repository
	breaker *breaker.Breaker
	config  Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	inFlightMu sync.Mutex
	inFlight   map[string]bool
}

// NewEngine builds an Engine over repo, sharing brk (the Circuit
// Breaker scoped to the downstream Repository) across every unit.
func NewEngine(repo repository.Repository, brk *breaker.Breaker, config Config) *Engine {
	if config.PoolSize <= 0 {
		config = DefaultConfig()
	}
	return &Engine{
		repo:     repo,
		breaker:  brk,
		config:   config,
		locks:    make(map[string]*sync.Mutex),
		inFlight: make(map[string]bool),
	}
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Plan deduplicates requests by MemoryID, preferring the most recent
// request when two requests in the same call target the same id
// (§4.J's deadlock-resolution rule: "prefer the more recent request").
// Superseded duplicates are returned separately, already marked Failed
// with a Deadlock error, so callers can report them without running them.
func Plan(requests []UnitRequest) (kept []*Unit, superseded []*Unit) {
	lastIndexByID := make(map[string]int, len(requests))
	for i, r := range requests {
		lastIndexByID[r.MemoryID] = i
	}
	for i, r := range requests {
		u := &Unit{MemoryID: r.MemoryID, FromTier: r.FromTier, ToTier: r.ToTier, Reason: r.Reason, State: Queued}
		if lastIndexByID[r.MemoryID] != i {
			u.State = Failed
			u.Err = errs.New(errs.Deadlock, "superseded by a more recent migration request for the same id")
			superseded = append(superseded, u)
			continue
		}
		kept = append(kept, u)
	}
	return kept, superseded
}

// Submit plans and runs a batch of unit migrations. Requests already
// in flight for their MemoryID are rejected with MigrationInProgress
// and included in the batch as Failed units; every other unit runs
// concurrently on the bounded worker pool.
func (e *Engine) Submit(ctx context.Context, requests []UnitRequest) (*Batch, error) {
	kept, superseded := Plan(requests)

	batch := &Batch{
		ID:    uuid.NewString(),
		Units: append(append([]*Unit{}, kept...), superseded...),
		Progress: Progress{
			Total: len(kept) + len(superseded),
		},
		done: make(chan struct{}),
	}
	batch.Progress.Failed += len(superseded)

	runnable := make([]*Unit, 0, len(kept))
	for _, u := range kept {
		if !e.admitInFlight(u.MemoryID) {
			u.State = Failed
			u.Err = errs.New(errs.MigrationInProgress, "a migration is already in flight for this id")
			batch.Progress.Failed++
			continue
		}
		runnable = append(runnable, u)
	}

	var progressMu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.config.PoolSize)

	for _, u := range runnable {
		u := u
		progressMu.Lock()
		batch.Progress.InFlight++
		progressMu.Unlock()

		group.Go(func() error {
			defer e.releaseInFlight(u.MemoryID)
			e.runUnit(groupCtx, u)

			progressMu.Lock()
			batch.Progress.InFlight--
			if u.State == Succeeded {
				batch.Progress.Succeeded++
			} else {
				batch.Progress.Failed++
			}
			progressMu.Unlock()
			return nil
		})
	}

	go func() {
		_ = group.Wait()
		close(batch.done)
	}()

	return batch, nil
}

func (e *Engine) admitInFlight(memoryID string) bool {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	if e.inFlight[memoryID] {
		return false
	}
	e.inFlight[memoryID] = true
	return true
}

func (e *Engine) releaseInFlight(memoryID string) {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	delete(e.inFlight, memoryID)
}

// runUnit serializes on the memory id's lock, runs the migration under
// the Retry Policy and shared Circuit Breaker, and rolls back on
// unrecoverable failure.
func (e *Engine) runUnit(ctx context.Context, u *Unit) {
	lock := e.lockFor(u.MemoryID)
	lock.Lock()
	defer lock.Unlock()

	u.State = Running
	retry := breaker.NewRetryPolicy(e.config.RetryConfig)

	err := retry.Execute(ctx, func(ctx context.Context) error {
		u.Attempts++
		return e.breaker.Execute(func() error {
			_, err := e.repo.Migrate(ctx, u.MemoryID, u.ToTier, u.Reason)
			return err
		})
	})

	if err == nil {
		u.State = Succeeded
		return
	}

	u.Err = err
	if u.Attempts > 1 {
		u.State = Retrying // interim only: replaced below by RolledBack or Failed
	}

	if rollbackErr := e.breaker.Execute(func() error {
		_, err := e.repo.Migrate(ctx, u.MemoryID, u.FromTier, "rollback: "+u.Reason)
		return err
	}); rollbackErr != nil {
		u.State = Failed
		u.Err = errs.Wrap(errs.RollbackFailed, "migration failed and rollback also failed", rollbackErr)
		return
	}
	u.State = RolledBack
}
