package embedprovider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/errs"
)

func TestNormalize_ScalesToUnitLength(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	v := []float32{0, 0, 0}
	Normalize(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestRemoteProvider_EmbedNormalizesAndCallsUpstream(t *testing.T) {
	p := NewRemoteProvider(DefaultRemoteConfig(), nil, func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{3, 4}}, nil
	})
	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.Equal(t, "remote", p.Name())
}

func TestGPUProvider_EmbedBatchesAndNormalizes(t *testing.T) {
	cfg := DefaultGPUConfig()
	cfg.BatchSize = 2
	cfg.BatchTimeout = 10 * time.Millisecond
	p := NewGPUProvider(cfg, func(texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{3, 4}
		}
		return out, nil
	})
	defer p.Close()

	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.True(t, p.SupportsBatch())
}

func TestGPUProvider_QueueFullRejects(t *testing.T) {
	cfg := DefaultGPUConfig()
	cfg.MaxQueueSize = 1
	cfg.BatchTimeout = time.Hour
	p := NewGPUProvider(cfg, func(texts []string) ([][]float32, error) {
		time.Sleep(50 * time.Millisecond)
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0}
		}
		return out, nil
	})
	defer p.Close()

	go func() { _, _ = p.Embed(context.Background(), "first") }()
	time.Sleep(5 * time.Millisecond)

	_, err := p.Embed(context.Background(), "second")
	require.Error(t, err)
	assert.Equal(t, errs.QueueFull, errs.KindOf(err))
}

func TestLocalProvider_EmbedBatchNormalizes(t *testing.T) {
	p := NewLocalProvider(DefaultLocalConfig(), func(texts []string) ([][]float32, error) {
		return [][]float32{{1, 0}, {0, 2}}, nil
	}, 2)
	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectors[0][0], 1e-6)
	assert.InDelta(t, 1.0, vectors[1][1], 1e-6)
	assert.Equal(t, 384, p.Dimension())
}
