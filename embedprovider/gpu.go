package embedprovider

import (
	"context"
	"sync"
	"time"

	"github.com/engramhq/engram/errs"
)

// GPUConfig configures the batched GPU provider.
type GPUConfig struct {
	ModelPath    string
	BatchSize    int
	MaxQueueSize int
	BatchTimeout time.Duration
	Dimension    int
}

// DefaultGPUConfig matches §6's embedding.gpu defaults.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ModelPath:    "/models/sentence-transformers/all-MiniLM-L6-v2",
		BatchSize:    32,
		MaxQueueSize: 1000,
		BatchTimeout: 50 * time.Millisecond,
		Dimension:    768,
	}
}

type gpuBatchItem struct {
	text  string
	reply chan gpuResult
}

type gpuResult struct {
	vector []float32
	err    error
}

// Compute performs the actual model inference for a batch of texts. It
// is injected so tests can substitute a deterministic fake without a
// real GPU runtime.
type Compute func(texts []string) ([][]float32, error)

// GPUProvider maintains an internal queue of (text, reply-channel) items.
// A background worker drains up to BatchSize items on every tick of a
// free-running BatchTimeout ticker; the tick is not aligned to the
// arrival of the first queued item. In addition, an Embed call that
// brings the queue to BatchSize starts its own drain goroutine, so more
// than one batch can be in progress at a time.
type GPUProvider struct {
	config  GPUConfig
	compute Compute

	mu      sync.Mutex
	queue   []gpuBatchItem
	tokens  chan struct{} // bounded semaphore over MaxQueueSize
	closeCh chan struct{}
	closed  bool
}

// NewGPUProvider builds a GPUProvider and starts its batch worker
// goroutine. Callers must call Close to stop the worker.
func NewGPUProvider(config GPUConfig, compute Compute) *GPUProvider {
	p := &GPUProvider{
		config:  config,
		compute: compute,
		tokens:  make(chan struct{}, config.MaxQueueSize),
		closeCh: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *GPUProvider) run() {
	ticker := time.NewTicker(p.config.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-p.closeCh:
			return
		case <-ticker.C:
			p.drainAndProcess(p.config.BatchSize)
		}
	}
}

func (p *GPUProvider) drainAndProcess(max int) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	n := len(p.queue)
	if n > max {
		n = max
	}
	batch := p.queue[:n]
	p.queue = p.queue[n:]
	p.mu.Unlock()

	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.text
	}

	vectors, err := p.compute(texts)
	for i, item := range batch {
		<-p.tokens
		if err != nil {
			item.reply <- gpuResult{err: err}
			continue
		}
		item.reply <- gpuResult{vector: Normalize(vectors[i])}
	}
}

// Embed enqueues text and blocks until the batch worker replies.
func (p *GPUProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case p.tokens <- struct{}{}:
	default:
		return nil, errs.New(errs.QueueFull, "GPU batch queue is full")
	}

	reply := make(chan gpuResult, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.tokens
		return nil, errs.New(errs.ProviderUnavailable, "GPU provider is shut down")
	}
	p.queue = append(p.queue, gpuBatchItem{text: text, reply: reply})
	full := len(p.queue) >= p.config.BatchSize
	p.mu.Unlock()

	if full {
		go p.drainAndProcess(p.config.BatchSize)
	}

	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Cancelled, "embed cancelled", ctx.Err())
	case res := <-reply:
		if res.err != nil {
			return nil, errs.Wrap(errs.ProviderUnavailable, "GPU batch failed", res.err)
		}
		return res.vector, nil
	}
}

// EmbedBatch bypasses the queue and computes synchronously, matching
// the reference provider's embed_batch shortcut.
func (p *GPUProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.compute(texts)
	if err != nil {
		return nil, errs.Wrap(errs.ProviderUnavailable, "GPU batch failed", err)
	}
	for _, v := range vectors {
		Normalize(v)
	}
	return vectors, nil
}

func (p *GPUProvider) Dimension() int     { return p.config.Dimension }
func (p *GPUProvider) Name() string       { return "gpu" }
func (p *GPUProvider) SupportsBatch() bool { return true }
func (p *GPUProvider) MaxBatchSize() int  { return p.config.BatchSize }

// Close stops the batch worker goroutine.
func (p *GPUProvider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.closeCh)
}
