package migration

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig configures the polling cadence of the Scheduler.
type SchedulerConfig struct {
	PollInterval time.Duration
}

// DefaultSchedulerConfig matches §6's migration.scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{PollInterval: 30 * time.Second}
}

// Scheduler periodically polls its registered TriggerSources and
// submits whatever UnitRequests they produce to the Engine as a batch
// (§4.J's Triggers stage feeding the Planning stage).
type Scheduler struct {
	engine  *Engine
	sources []TriggerSource
	config  SchedulerConfig
	logger  *zap.SugaredLogger
}

// NewScheduler builds a Scheduler over engine, polling sources on
// config's interval. A nil logger falls back to a no-op logger rather
// than a package-level singleton.
func NewScheduler(engine *Engine, sources []TriggerSource, config SchedulerConfig, logger *zap.SugaredLogger) *Scheduler {
	if config.PollInterval <= 0 {
		config = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{engine: engine, sources: sources, config: config, logger: logger}
}

// Run polls every source on each tick until ctx is cancelled. Each
// poll's requests become one batch; polling continues regardless of
// whether a prior batch has finished, since the Engine's in-flight
// tracking already rejects duplicate in-flight ids.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// PollOnce runs a single poll-and-submit cycle synchronously, for
// tests and for callers that want to drive the scheduler on their own
// clock instead of Run's ticker.
func (s *Scheduler) PollOnce(ctx context.Context) (*Batch, error) {
	return s.pollOnce(ctx)
}

func (s *Scheduler) pollOnce(ctx context.Context) (*Batch, error) {
	var requests []UnitRequest
	for _, src := range s.sources {
		reqs, err := src.Poll()
		if err != nil {
			s.logger.Warnw("trigger source poll failed", "source", src.Name(), "error", err)
			continue
		}
		requests = append(requests, reqs...)
	}
	if len(requests) == 0 {
		return nil, nil
	}
	return s.engine.Submit(ctx, requests)
}
