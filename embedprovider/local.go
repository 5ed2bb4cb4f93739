package embedprovider

import (
	"context"

	"github.com/engramhq/engram/errs"
)

// LocalConfig configures the Local CPU provider.
type LocalConfig struct {
	ModelPath     string
	Dimension     int
	MaxBatchSize  int
}

// DefaultLocalConfig matches §6's embedding.local defaults.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{Dimension: 384, MaxBatchSize: 256}
}

// LocalProvider runs synchronous model inference on a blocking-task
// pool so it never stalls the caller's cooperative scheduler, per §4.E.
// It has no rate limit and the largest max_batch_size of the three
// provider variants.
type LocalProvider struct {
	config LocalConfig
	infer  func(texts []string) ([][]float32, error)
	pool   chan struct{}
}

// NewLocalProvider builds a LocalProvider. infer performs the actual
// model inference; poolSize bounds how many inferences run concurrently
// on the blocking-task pool.
func NewLocalProvider(config LocalConfig, infer func(texts []string) ([][]float32, error), poolSize int) *LocalProvider {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &LocalProvider{config: config, infer: infer, pool: make(chan struct{}, poolSize)}
}

func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case p.pool <- struct{}{}:
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Cancelled, "embed cancelled", ctx.Err())
	}
	defer func() { <-p.pool }()

	vectors, err := p.infer(texts)
	if err != nil {
		return nil, errs.Wrap(errs.ProviderUnavailable, "local inference failed", err)
	}
	for _, v := range vectors {
		Normalize(v)
	}
	return vectors, nil
}

func (p *LocalProvider) Dimension() int     { return p.config.Dimension }
func (p *LocalProvider) Name() string       { return "local" }
func (p *LocalProvider) SupportsBatch() bool { return true }
func (p *LocalProvider) MaxBatchSize() int  { return p.config.MaxBatchSize }
