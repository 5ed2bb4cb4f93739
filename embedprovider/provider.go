// Package embedprovider implements the three Embedding Provider variants
// from §4.E: a rate-limited Remote API provider, a batched GPU provider,
// and a synchronous Local CPU provider, behind one shared contract.
package embedprovider

import (
	"context"
	"math"
)

// CacheHit is the pseudo-provider tag returned when an embedding was
// served from the Embedding Cache rather than computed, per §4.G: the
// cache does not remember which provider originally produced the
// vector, so it reports this synthetic identity at zero cost.
const CacheHit = "LocalCPU-synthetic"

// Provider is the shared contract every embedding provider variant
// implements, per §4.E: embed/embed_batch/dimension/name/supports_batch/
// max_batch_size. Vectors returned by Embed and EmbedBatch are always
// L2-normalized unit vectors.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
	SupportsBatch() bool
	MaxBatchSize() int
}

// Normalize scales v to unit L2 norm in place and returns it. A
// zero-vector input is returned unchanged, matching the Rust reference
// provider's norm > 0.0 guard.
func Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := math.Sqrt(sumSquares)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v
}
