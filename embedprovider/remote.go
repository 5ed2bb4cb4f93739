package embedprovider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/engramhq/engram/errs"
)

// RateLimiter gates Remote provider calls with a distributed token-bucket
// style counter, adapted from rate.Limiter's disabled-until Lua gate: a
// fixed quota of requests is allowed per fixed window that starts at the
// window's first request, tracked as a Valkey counter with a TTL equal
// to the window.
type RateLimiter struct {
	client valkey.Client
	limit  int
	window time.Duration
}

// NewRateLimiter builds a RateLimiter allowing limit requests per window.
func NewRateLimiter(client valkey.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

const rateLimitScript = `
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`

// Allow reports whether a call for key may proceed under the configured
// limit, atomically incrementing the window counter via a Lua script so
// the check-and-increment is race-free across concurrent callers.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	resp := r.client.Do(ctx, r.client.B().Eval().Script(rateLimitScript).Numkeys(1).Key(
		fmt.Sprintf("engram:ratelimit:%s", key),
	).Arg(fmt.Sprintf("%d", r.window.Milliseconds())).Build())

	count, err := resp.ToInt64()
	if err != nil {
		return false, err
	}
	return count <= int64(r.limit), nil
}

// RemoteConfig configures the Remote API provider.
type RemoteConfig struct {
	Endpoint    string
	APIKey      string
	ModelName   string
	Dimension   int
	RateLimit   int
	RateWindow  time.Duration
	HTTPTimeout time.Duration
}

// DefaultRemoteConfig matches §6's embedding.remote defaults.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Dimension:   1536,
		RateLimit:   100,
		RateWindow:  time.Minute,
		HTTPTimeout: 10 * time.Second,
	}
}

// RemoteProvider calls an external HTTP embedding service, enforcing a
// request/minute rate limit per §4.E. It makes no retries: a failure is
// returned to the Router, which falls back to its next candidate.
type RemoteProvider struct {
	config  RemoteConfig
	limiter *RateLimiter
	client  *http.Client
	call    func(ctx context.Context, texts []string) ([][]float32, error)
}

// NewRemoteProvider builds a RemoteProvider. call performs the actual
// HTTP round trip and is injected so tests can substitute a fake
// transport without a live endpoint.
func NewRemoteProvider(config RemoteConfig, limiter *RateLimiter, call func(ctx context.Context, texts []string) ([][]float32, error)) *RemoteProvider {
	return &RemoteProvider{
		config:  config,
		limiter: limiter,
		client:  &http.Client{Timeout: config.HTTPTimeout},
		call:    call,
	}
}

func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *RemoteProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.limiter != nil {
		allowed, err := p.limiter.Allow(ctx, p.config.ModelName)
		if err != nil {
			return nil, errs.Wrap(errs.ProviderUnavailable, "rate limiter unavailable", err)
		}
		if !allowed {
			return nil, errs.New(errs.RateLimit, "remote provider rate limit exceeded")
		}
	}

	vectors, err := p.call(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, v := range vectors {
		Normalize(v)
	}
	return vectors, nil
}

func (p *RemoteProvider) Dimension() int     { return p.config.Dimension }
func (p *RemoteProvider) Name() string       { return "remote" }
func (p *RemoteProvider) SupportsBatch() bool { return true }
func (p *RemoteProvider) MaxBatchSize() int  { return 96 }
